package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive session over WebSocket",
	Long: `Open a WebSocket session. Each line is sent as a chat message on the
same chat; events of every run are printed as they arrive.

Commands:
  /cancel <run_id> - cancel a run
  /quit            - exit`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

type wsFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	RunID     string `json:"run_id"`
	ChatID    string `json:"chat_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Event     event  `json:"event"`
}

func wsURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, "https://"):
		addr = "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		addr = "ws://" + strings.TrimPrefix(addr, "http://")
	}
	return strings.TrimSuffix(addr, "/") + "/ws"
}

func runChat(cmd *cobra.Command, args []string) error {
	addr := wsURL(serverAddr)
	fmt.Printf("Connecting to %s...\n", addr)
	conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	chatID := sendChatID
	chatIDs := make(chan string, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		readFrames(conn, chatIDs)
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	fmt.Println("Type a message and press Enter to send. /quit to exit.")
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return closeSession(conn, readerDone)
		case <-readerDone:
			return nil
		case id := <-chatIDs:
			chatID = id
		case line, ok := <-lines:
			if !ok {
				return closeSession(conn, readerDone)
			}
			input := strings.TrimSpace(line)
			switch {
			case input == "":
				continue
			case input == "/quit":
				return closeSession(conn, readerDone)
			case strings.HasPrefix(input, "/cancel "):
				err = conn.WriteJSON(map[string]string{
					"type":   "cancel_run",
					"run_id": strings.TrimSpace(strings.TrimPrefix(input, "/cancel ")),
				})
			default:
				err = conn.WriteJSON(map[string]string{
					"type":       "chat_message",
					"request_id": fmt.Sprintf("req_%d", time.Now().UnixNano()),
					"chat_id":    chatID,
					"owner":      owner,
					"content":    input,
				})
			}
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

// readFrames prints frames until the connection closes. The chat of the
// first run is reported on chatIDs so later messages continue it.
func readFrames(conn *websocket.Conn, chatIDs chan<- string) {
	reported := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			}
			return
		}
		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			fmt.Fprintf(os.Stderr, "bad frame: %v\n", err)
			continue
		}
		switch f.Type {
		case "run_started":
			fmt.Printf("run %s on chat %s\n", f.RunID, f.ChatID)
			if !reported {
				chatIDs <- f.ChatID
				reported = true
			}
		case "run_event":
			printEvent(f.Event)
		case "run_cancelled":
			fmt.Printf("run %s cancelled\n", f.RunID)
		case "error":
			fmt.Printf("[error] %s: %s\n", f.Code, f.Message)
		}
	}
}

func closeSession(conn *websocket.Conn, readerDone <-chan struct{}) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-readerDone:
	case <-time.After(time.Second):
	}
	return err
}
