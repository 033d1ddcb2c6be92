package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"VoiceChat/internal/session"
)

// Console prints asynchronous events (expiry, server status) to a terminal.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) Notify(e Event) {
	var line string
	switch e.Type {
	case EventStatus:
		line = fmt.Sprintf("[server %s]", e.Status)
	case EventEnded:
		if e.Reason == session.ReasonTimeout {
			line = fmt.Sprintf("Session for %s expired after inactivity. Use /login to start again.", e.Username)
		}
	default:
		return
	}
	if line == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, line)
}

// handleCommand handles special commands
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string, out io.Writer) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/login":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /login <name>")
		}
		s, err := cb.Login(strings.Join(parts[1:], " "))
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Welcome, %s. Session expires after %s of inactivity.\n", s.Username, cb.sessions.Timeout())
		return false, nil

	case "/logout":
		if !cb.sessions.Active() {
			fmt.Fprintln(out, "No active session.")
			return false, nil
		}
		cb.Logout()
		fmt.Fprintln(out, "Logged out.")
		return false, nil

	case "/listen":
		fmt.Fprintln(out, "Listening...")
		transcript, reply, err := cb.Listen(ctx)
		if transcript != "" {
			fmt.Fprintf(out, "You (voice): %s\n", transcript)
		}
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Bot: %s\n\n", reply)
		return false, nil

	case "/status":
		s := cb.Session()
		fmt.Fprintf(out, "Server:  %s (%s)\n", cb.Status(), cb.client.BaseURL())
		fmt.Fprintf(out, "Model:   %s\n", cb.Model())
		if s.Active {
			fmt.Fprintf(out, "User:    %s\n", s.Username)
			fmt.Fprintf(out, "Expires: in %s\n", s.Remaining.Round(time.Second))
		} else {
			fmt.Fprintln(out, "User:    (not logged in)")
		}
		if msg := cb.LastError(); msg != "" {
			fmt.Fprintf(out, "Error:   %s\n", msg)
		}
		return false, nil

	case "/history":
		s := cb.Session()
		if len(s.Messages) == 0 {
			fmt.Fprintln(out, "No messages yet.")
			return false, nil
		}
		for _, msg := range s.Messages {
			fmt.Fprintf(out, "[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.Role, msg.Content)
		}
		return false, nil

	case "/models":
		models, err := cb.Models(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, "\nAvailable models:")
		current := cb.Model()
		for i, model := range models {
			sizeGB := float64(model.Size) / (1024 * 1024 * 1024)
			marker := ""
			if model.Name == current {
				marker = " (current)"
			}
			fmt.Fprintf(out, "%d. %s - %.2f GB%s\n", i+1, model.Name, sizeGB, marker)
		}
		fmt.Fprintln(out)
		return false, nil

	case "/model":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /model <model:version>")
		}
		cb.SetModel(parts[1])
		fmt.Fprintf(out, "Model set to: %s\n", parts[1])
		return false, nil

	case "/help":
		fmt.Fprintln(out, "Available commands:")
		fmt.Fprintln(out, "  /login <name>   - Start a session")
		fmt.Fprintln(out, "  /logout         - End the session and clear history")
		fmt.Fprintln(out, "  /listen         - Speak a message instead of typing it")
		fmt.Fprintln(out, "  /status         - Show server, model and session state")
		fmt.Fprintln(out, "  /history        - Show the conversation so far")
		fmt.Fprintln(out, "  /models         - List models available on the server")
		fmt.Fprintln(out, "  /model <name>   - Use another model (e.g., llama3:latest)")
		fmt.Fprintln(out, "  /quit, /exit    - Exit")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s, type /help", parts[0])
	}
}

// Run reads lines from in until EOF, /quit or ctx is done.
func (cb *ChatBot) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "=== Voice Chat ===")
	fmt.Fprintf(out, "Server: %s\n", cb.client.BaseURL())
	fmt.Fprintf(out, "Model:  %s\n", cb.Model())
	if s := cb.Session(); s.Active {
		fmt.Fprintf(out, "User:   %s\n", s.Username)
	} else {
		fmt.Fprintln(out, "Type /login <name> to start.")
	}
	fmt.Fprintln(out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(out)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "You: ")
		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			break
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input, out)
			if err != nil {
				fmt.Fprintf(out, "Error: %s\n", commandError(err))
				cb.logger.Warn("command error", "command", input, "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		response, err := cb.SendMessage(ctx, input)
		if err != nil {
			if !errors.Is(err, ErrEmptyMessage) {
				fmt.Fprintf(out, "Error: %s\n", Describe(err))
			}
			continue
		}

		fmt.Fprintf(out, "Bot: %s\n\n", response)
	}

	fmt.Fprintln(out, "Goodbye!")
	return nil
}

// commandError keeps usage errors as written and describes everything else.
func commandError(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Message
	}
	return err.Error()
}
