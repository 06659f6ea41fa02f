package main

import (
	"fmt"
	"strings"

	"github.com/fentz26/worktrace/internal/models"
	"github.com/spf13/cobra"
)

var (
	emitEditor      string
	emitPerspective string
)

var emitCmd = &cobra.Command{
	Use:   "emit [event-type]",
	Short: "Send an IDE event to the daemon",
	Long: fmt.Sprintf(`Sends a single event to the running daemon.

Event types: %s`, strings.Join(emittable(), ", ")),
	Args: cobra.ExactArgs(1),
	RunE: runEmit,
}

func init() {
	emitCmd.Flags().StringVar(&emitEditor, "editor", "", "Editor the event refers to (focus, caret, paint, edit)")
	emitCmd.Flags().StringVar(&emitPerspective, "perspective", "", "Perspective name (java, debug, other)")
}

// emittable lists the event types a client may submit. Timeouts are raised
// by the daemon itself and test runs go through the test command.
func emittable() []string {
	var names []string
	for _, t := range models.EventTypes {
		if t.Timeout() || t == models.EventTestRun {
			continue
		}
		names = append(names, string(t))
	}
	return names
}

func runEmit(cmd *cobra.Command, args []string) error {
	t := models.EventType(args[0])
	if !t.Valid() {
		return fmt.Errorf("unknown event type %q", args[0])
	}

	ev := models.NewEvent(t, models.EventSource{
		Editor:      emitEditor,
		Perspective: models.Perspective(emitPerspective),
	})
	if _, err := apiPost("/events", ev); err != nil {
		return err
	}

	fmt.Printf("Sent %s\n", t)
	return nil
}
