package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

var defaultBlockedCommands = []string{"rm -rf", "sudo", "format", "mkfs"}

// ErrCommandNotAllowed is returned when a command fails the allow/block lists.
var ErrCommandNotAllowed = errors.New("command execution is not allowed")

// CommandLineTool runs a local command without a shell.
type CommandLineTool struct{}

// NewCommandLineTool creates a command_line tool.
func NewCommandLineTool() *CommandLineTool { return &CommandLineTool{} }

func (t *CommandLineTool) Name() string { return ToolCommandLine }

func (t *CommandLineTool) Description() string {
	return "Run an allow-listed local command and return its output."
}

func (t *CommandLineTool) Schema() Schema {
	return Schema{Params: []Param{
		{Name: "command", Type: "string", Description: "Command line to run", Required: true},
		{Name: "working_directory", Type: "string", Description: "Directory to run in"},
	}}
}

// Invoke runs the command and streams each output line.
// Config keys: allowed_commands, blocked_commands.
func (t *CommandLineTool) Invoke(ctx context.Context, call Call, chunks chan<- string) (string, error) {
	command := stringParam(call.Params, "command")
	if command == "" {
		return "", fmt.Errorf("%w: command", ErrMissingRequiredParam)
	}
	blocked := configStrings(call.Config, "blocked_commands")
	if _, set := call.Config["blocked_commands"]; !set {
		blocked = defaultBlockedCommands
	}
	if !CommandAllowed(command, configStrings(call.Config, "allowed_commands"), blocked) {
		return "", fmt.Errorf("%w: %s", ErrCommandNotAllowed, command)
	}

	fields := strings.Fields(command)
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = stringParam(call.Params, "working_directory")

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		return "", fmt.Errorf("failed to start %s: %w", fields[0], err)
	}
	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	var sb strings.Builder
	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		line := scanner.Text() + "\n"
		sb.WriteString(line)
		if err := Emit(ctx, chunks, line); err != nil {
			pr.CloseWithError(err)
			<-waitErr
			return "", err
		}
	}
	// Drain on scanner failure so Wait can return.
	io.Copy(io.Discard, pr)

	output := strings.TrimRight(sb.String(), "\n")
	if err := <-waitErr; err != nil {
		if ctx.Err() != nil {
			return output, ctx.Err()
		}
		return output, fmt.Errorf("command %q failed: %w", fields[0], err)
	}
	return output, nil
}

// CommandAllowed applies the block list (word sequence match anywhere in the
// command) and then the allow list (leading word match). An empty allow list allows every command that
// is not blocked.
func CommandAllowed(command string, allowed, blocked []string) bool {
	padded := " " + strings.Join(strings.Fields(command), " ") + " "
	for _, b := range blocked {
		words := strings.Fields(b)
		if len(words) > 0 && strings.Contains(padded, " "+strings.Join(words, " ")+" ") {
			return false
		}
	}
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if command == a || strings.HasPrefix(command, a+" ") {
			return true
		}
	}
	return false
}
