package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fentz26/worktrace/internal/models"
)

// execute runs one line typed into the command input.
func execute(client *Client, input string) tea.Cmd {
	parts := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]

	return func() tea.Msg {
		switch cmd {
		case "emit":
			if len(args) < 1 {
				return commandResultMsg{message: "Usage: emit <type> [editor]"}
			}
			t := models.EventType(args[0])
			if !t.Valid() {
				return commandResultMsg{err: fmt.Errorf("unknown event type %q", args[0])}
			}
			var source models.EventSource
			if len(args) > 1 {
				source.Editor = strings.Join(args[1:], " ")
			}
			if err := client.Emit(models.NewEvent(t, source)); err != nil {
				return commandResultMsg{err: err}
			}
			return commandResultMsg{message: fmt.Sprintf("Sent %s", t)}

		case "perspective":
			if len(args) != 1 {
				return commandResultMsg{message: "Usage: perspective <java|debug|other>"}
			}
			p := models.ParsePerspective(args[0])
			ev := models.NewEvent(models.EventPerspective, models.EventSource{Perspective: p})
			if err := client.Emit(ev); err != nil {
				return commandResultMsg{err: err}
			}
			return commandResultMsg{message: fmt.Sprintf("Perspective %s", p)}

		case "export":
			result, err := client.Export()
			if err != nil {
				return commandResultMsg{err: err}
			}
			return commandResultMsg{message: fmt.Sprintf("Exported %d intervals to %s", result.Count, result.Path)}

		case "prune":
			removed, err := client.Prune()
			if err != nil {
				return commandResultMsg{err: err}
			}
			return commandResultMsg{message: fmt.Sprintf("Pruned %d intervals", removed)}

		case "refresh":
			return commandResultMsg{message: "Refreshed"}

		default:
			return commandResultMsg{message: fmt.Sprintf("Unknown command: %s", cmd)}
		}
	}
}
