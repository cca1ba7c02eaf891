package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Suryansh1987/buildora-fr/internal/backend"
	"github.com/Suryansh1987/buildora-fr/internal/chat"
)

// Run drives the interactive loop: plain input becomes a prompt, lines
// starting with "/" are commands. The loop ends on EOF or /quit.
func (c *Controller) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	status := c.Status()
	fmt.Fprintln(out, "=== buildora ===")
	fmt.Fprintf(out, "Session: %s\n", status.SessionID)
	if status.Project.ID != 0 || status.Project.DeploymentURL != "" {
		fmt.Fprintf(out, "Project: %d (%s)\n", status.Project.ID, status.Project.Status)
	}
	fmt.Fprintln(out, "Describe the app you want to build. Type /help for commands, /quit to exit.")
	fmt.Fprintln(out)

	c.printNew(out, 0)
	seen := c.messages.Len()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := c.handleCommand(ctx, out, input)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				c.logger.Error("command failed", "command", input, "error", err)
			}
			if quit {
				break
			}
			seen = c.printNew(out, seen)
			continue
		}

		if err := c.Submit(ctx, input); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			c.logger.Error("failed to handle prompt", "error", err)
		}
		seen = c.printNew(out, seen)
	}

	fmt.Fprintln(out, "Goodbye!")
	return scanner.Err()
}

// printNew renders messages appended since the last call, skipping the
// user's own echoes, and returns the new cursor.
func (c *Controller) printNew(out io.Writer, seen int) int {
	msgs := c.messages.Messages()
	for _, msg := range msgs[min(seen, len(msgs)):] {
		switch msg.Role {
		case chat.RoleAssistant:
			fmt.Fprintf(out, "Bot: %s\n\n", msg.Content)
		case chat.RoleSystem:
			fmt.Fprintf(out, "Note: %s\n\n", msg.Content)
		}
	}
	return len(msgs)
}

func (c *Controller) handleCommand(ctx context.Context, out io.Writer, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/status":
		s := c.Status()
		fmt.Fprintf(out, "State:    %s\n", s.State)
		fmt.Fprintf(out, "Session:  %s (persistent: %t)\n", s.SessionID, s.Persistent)
		if s.Project.ID != 0 || s.Project.DeploymentURL != "" {
			fmt.Fprintf(out, "Project:  %d status=%s\n", s.Project.ID, s.Project.Status)
			if s.Project.DeploymentURL != "" {
				fmt.Fprintf(out, "Preview:  %s\n", s.Project.DeploymentURL)
			}
		} else {
			fmt.Fprintln(out, "Project:  none yet")
		}
		fmt.Fprintf(out, "Messages: %d\n", s.Messages)
		if s.LastError != nil {
			fmt.Fprintf(out, "Last error: %v\n", s.LastError)
		}
		return false, nil

	case "/preview":
		rec, err := c.Preview(ctx)
		if errors.Is(err, backend.ErrNotFound) {
			fmt.Fprintln(out, "No project with that id exists on the backend.")
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to fetch project: %w", err)
		}
		switch {
		case rec.DeploymentURL != "":
			fmt.Fprintf(out, "Preview: %s\n", rec.DeploymentURL)
		case rec.ID != 0:
			fmt.Fprintf(out, "Project %d is %s; no deployment yet.\n", rec.ID, rec.Status)
		default:
			fmt.Fprintln(out, "No project yet. Describe your app to create one.")
		}
		return false, nil

	case "/summary":
		summary, err := c.Summary(ctx)
		if errors.Is(err, backend.ErrUnavailable) {
			fmt.Fprintln(out, "Summaries need a backend session; none was negotiated.")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if summary == nil {
			fmt.Fprintln(out, "No summary yet.")
			return false, nil
		}
		fmt.Fprintf(out, "Summary (%d messages): %s\n", summary.MessageCount, summary.Text)
		return false, nil

	case "/stats":
		stats, err := c.Stats(ctx)
		if errors.Is(err, backend.ErrUnavailable) {
			fmt.Fprintln(out, "Stats need a backend session; none was negotiated.")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if stats == nil {
			fmt.Fprintln(out, "No stats yet.")
			return false, nil
		}
		fmt.Fprintf(out, "Messages: %d, summaries: %d\n", stats.TotalMessages, stats.TotalSummaries)
		return false, nil

	case "/summarize":
		err := c.Summarize(ctx)
		if errors.Is(err, backend.ErrUnavailable) {
			fmt.Fprintln(out, "Summarization needs a backend session; none was negotiated.")
			return false, nil
		}
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Summary requested.")
		return false, nil

	case "/clear":
		if err := c.Clear(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Conversation cleared.")
		return false, nil

	case "/retry":
		if err := c.Retry(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Reinitialized.")
		return false, nil

	case "/health":
		if err := c.Health(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "Backend is healthy.")
		return false, nil

	case "/help":
		fmt.Fprintln(out, "Available commands:")
		fmt.Fprintln(out, "  /status     - Show page state, session, and project")
		fmt.Fprintln(out, "  /preview    - Show the deployment URL")
		fmt.Fprintln(out, "  /summary    - Show the conversation summary")
		fmt.Fprintln(out, "  /stats      - Show conversation counters")
		fmt.Fprintln(out, "  /summarize  - Ask the backend to summarize the conversation")
		fmt.Fprintln(out, "  /clear      - Clear the conversation")
		fmt.Fprintln(out, "  /retry      - Reinitialize after a failure")
		fmt.Fprintln(out, "  /health     - Probe the backend")
		fmt.Fprintln(out, "  /help       - Show this help message")
		fmt.Fprintln(out, "  /quit       - Exit")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", parts[0])
	}
}
