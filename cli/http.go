package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	sendChatID  string
	sendRaw     bool
	chatsSearch string
	page        int
	pageSize    int
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message and print its event stream",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List chats of an owner",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := pageQuery()
		q.Set("owner", owner)
		if chatsSearch != "" {
			q.Set("search", chatsSearch)
		}
		return getJSON(cmd.Context(), "/v1/chats?"+q.Encode())
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <chat_id>",
	Short: "List the messages of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getJSON(cmd.Context(), "/v1/chats/"+url.PathEscape(args[0])+"/messages?"+pageQuery().Encode())
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <run_id>",
	Short: "Cancel a run in flight",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			serverAddr+"/v1/runs/"+url.PathEscape(args[0])+"/cancel", nil)
		if err != nil {
			return err
		}
		return printResponse(req)
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the active agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getJSON(cmd.Context(), "/v1/agents")
	},
}

type event struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	body, err := json.Marshal(map[string]string{
		"chat_id": sendChatID,
		"owner":   owner,
		"message": strings.Join(args, " "),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverAddr+"/v1/chats/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	fmt.Printf("run %s on chat %s\n", resp.Header.Get("X-Run-ID"), resp.Header.Get("X-Chat-ID"))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if sendRaw {
			fmt.Println(data)
			continue
		}
		var ev event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			fmt.Fprintf(os.Stderr, "bad event: %v\n", err)
			continue
		}
		printEvent(ev)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// printEvent renders one event on a line; chunks are written inline.
func printEvent(ev event) {
	if ev.Type == "done" {
		fmt.Println("\n[done]")
		return
	}
	step, _ := ev.Data["step"].(string)
	switch step {
	case "message_chunk":
		fmt.Print(ev.Data["content"])
	case "status":
		fmt.Printf("[status] %v\n", ev.Data["message"])
	case "action_started":
		fmt.Printf("\n[%v] %v: %v\n", ev.Data["index"], ev.Data["agent_name"], ev.Data["action_type"])
	case "action_error", "fatal_error":
		fmt.Printf("\n[%s] %v (%v)\n", step, ev.Data["error"], ev.Data["code"])
	default:
		fmt.Printf("[%s]\n", step)
	}
}

func pageQuery() url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	return q
}

func getJSON(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverAddr+path, nil)
	if err != nil {
		return err
	}
	return printResponse(req)
}

func printResponse(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	fmt.Println(string(data))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}
