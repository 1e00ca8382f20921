package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/larkpipe/internal/bus"
	"github.com/nextlevelbuilder/larkpipe/internal/turn"
)

// Control commands recognized by the pipeline. A command anywhere else
// in the text is ordinary content.
var controlCommands = map[string]string{
	"/new":    "start a fresh session",
	"/reset":  "start a fresh session",
	"/status": "show session status",
	"/help":   "list available commands",
}

// DetectCommand returns the control command leading the text, or "".
// Only the first whitespace-separated token counts.
func DetectCommand(body string) string {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "/") {
		return ""
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToLower(fields[0])
	if _, ok := controlCommands[cmd]; ok {
		return cmd
	}
	return ""
}

// runCommand executes an authorized control command locally, without
// involving the response engine.
func (p *Pipeline) runCommand(ctx context.Context, cc *turn.CanonicalContext) []bus.ReplyPayload {
	switch cc.Command {
	case "/new", "/reset":
		if p.stores != nil && p.stores.Sessions != nil {
			if err := p.stores.Sessions.Delete(ctx, cc.SessionKey); err != nil {
				slog.Warn("session reset failed", "session", cc.SessionKey, "error", err)
				return []bus.ReplyPayload{{Text: "Could not reset the session, try again later."}}
			}
		}
		return []bus.ReplyPayload{{Text: "Session reset. Starting fresh."}}

	case "/status":
		text := fmt.Sprintf("Session: %s", cc.SessionKey)
		if p.stores != nil && p.stores.Sessions != nil {
			if at, ok, err := p.stores.Sessions.LastUpdatedAt(ctx, cc.SessionKey); err == nil && ok {
				text += fmt.Sprintf("\nLast activity: %s", at.Format("2006-01-02 15:04:05 MST"))
			}
		}
		return []bus.ReplyPayload{{Text: text}}

	case "/help":
		var b strings.Builder
		b.WriteString("Available commands:\n")
		for _, cmd := range []string{"/new", "/reset", "/status", "/help"} {
			fmt.Fprintf(&b, "%s - %s\n", cmd, controlCommands[cmd])
		}
		return []bus.ReplyPayload{{Text: strings.TrimRight(b.String(), "\n")}}

	default:
		return nil
	}
}
