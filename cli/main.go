// Command cli talks to a running orchestrator over HTTP and WebSocket.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverAddr string
	owner      string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "dipagt-cli",
	Short: "Client for the dipagt orchestrator",
	Long: `Send chat messages to the orchestrator and follow their runs.

Available subcommands:
  send     - Send one message and print its event stream
  chat     - Interactive session over WebSocket
  chats    - List chats of an owner
  messages - List the messages of a chat
  cancel   - Cancel a run in flight
  agents   - List the active agents`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8080", "orchestrator base URL")
	rootCmd.PersistentFlags().StringVar(&owner, "owner", "", "chat owner")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "timeout of non-streaming requests")

	sendCmd.Flags().StringVar(&sendChatID, "chat", "", "continue an existing chat")
	sendCmd.Flags().BoolVar(&sendRaw, "raw", false, "print raw event JSON")
	chatsCmd.Flags().StringVar(&chatsSearch, "search", "", "filter by title")
	chatsCmd.Flags().IntVar(&page, "page", 1, "page number")
	chatsCmd.Flags().IntVar(&pageSize, "page-size", 20, "page size")
	messagesCmd.Flags().IntVar(&page, "page", 1, "page number")
	messagesCmd.Flags().IntVar(&pageSize, "page-size", 50, "page size")
	chatCmd.Flags().StringVar(&sendChatID, "chat", "", "continue an existing chat")

	rootCmd.AddCommand(sendCmd, chatCmd, chatsCmd, messagesCmd, cancelCmd, agentsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
