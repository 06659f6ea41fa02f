package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fentz26/worktrace/internal/models"
)

// Suggestions provides autocomplete for the command input
type Suggestions struct {
	items       []SuggestionItem
	filtered    []SuggestionItem
	selectedIdx int
	visible     bool
	prefix      string // "/" or "@"
}

// SuggestionItem represents a single autocomplete suggestion
type SuggestionItem struct {
	Text        string
	Description string
	Type        string // "command" or "event"
}

var commandSuggestions = []SuggestionItem{
	{Text: "emit", Description: "Send an event: emit <type> [editor]", Type: "command"},
	{Text: "perspective", Description: "Switch perspective: perspective <java|debug|other>", Type: "command"},
	{Text: "export", Description: "Archive and empty the transfer store", Type: "command"},
	{Text: "prune", Description: "Drop statistics older than the retention window", Type: "command"},
	{Text: "refresh", Description: "Reload everything from the daemon", Type: "command"},
}

// eventSuggestions lists the events a client may send by hand.
func eventSuggestions() []SuggestionItem {
	var items []SuggestionItem
	for _, t := range models.EventTypes {
		if t.Timeout() || t == models.EventTestRun {
			continue
		}
		items = append(items, SuggestionItem{Text: string(t), Description: "Send this event", Type: "event"})
	}
	return items
}

// NewSuggestions creates a new suggestions handler
func NewSuggestions() *Suggestions {
	return &Suggestions{items: commandSuggestions}
}

// Update updates suggestions based on current input
func (s *Suggestions) Update(input string) {
	if input == "" || strings.Contains(input, " ") {
		s.visible = false
		s.filtered = nil
		s.prefix = ""
		return
	}

	switch input[0] {
	case '/':
		s.prefix = "/"
		s.items = commandSuggestions
	case '@':
		s.prefix = "@"
		s.items = eventSuggestions()
	default:
		s.visible = false
		s.filtered = nil
		s.prefix = ""
		return
	}
	s.visible = true
	s.filter(strings.ToLower(input[1:]))
}

func (s *Suggestions) filter(query string) {
	if query == "" {
		s.filtered = s.items
		s.selectedIdx = 0
		return
	}

	s.filtered = []SuggestionItem{}
	for _, item := range s.items {
		if strings.Contains(strings.ToLower(item.Text), query) {
			s.filtered = append(s.filtered, item)
		}
	}
	s.selectedIdx = 0
}

// Next moves to the next suggestion
func (s *Suggestions) Next() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx = (s.selectedIdx + 1) % len(s.filtered)
}

// Prev moves to the previous suggestion
func (s *Suggestions) Prev() {
	if len(s.filtered) == 0 {
		return
	}
	s.selectedIdx--
	if s.selectedIdx < 0 {
		s.selectedIdx = len(s.filtered) - 1
	}
}

// Selected returns the currently selected suggestion
func (s *Suggestions) Selected() *SuggestionItem {
	if !s.visible || len(s.filtered) == 0 || s.selectedIdx >= len(s.filtered) {
		return nil
	}
	return &s.filtered[s.selectedIdx]
}

// Completion returns the input text the selected suggestion expands to.
func (s *Suggestions) Completion() string {
	selected := s.Selected()
	if selected == nil {
		return ""
	}
	if selected.Type == "event" {
		return "emit " + selected.Text + " "
	}
	return selected.Text + " "
}

// IsVisible returns whether suggestions are currently visible
func (s *Suggestions) IsVisible() bool {
	return s.visible && len(s.filtered) > 0
}

// Render renders the suggestions dropdown
func (s *Suggestions) Render(width int) string {
	if !s.IsVisible() {
		return ""
	}

	var b strings.Builder

	suggestionStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(secondaryColor).
		Padding(0, 1).
		Width(max(width-4, 20))

	selectedStyle := lipgloss.NewStyle().
		Background(primaryColor).
		Foreground(fgColor).
		Bold(true)

	itemStyle := lipgloss.NewStyle().Foreground(fgColor)
	descStyle := lipgloss.NewStyle().Foreground(mutedColor).Italic(true)

	header := "Commands"
	if s.prefix == "@" {
		header = "Events"
	}
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Render(header))
	b.WriteString("\n")

	// Show max 5 suggestions
	maxVisible := 5
	for i, item := range s.filtered {
		if i >= maxVisible {
			more := len(s.filtered) - maxVisible
			b.WriteString(descStyle.Render(fmt.Sprintf("  ... and %d more", more)))
			break
		}

		var line string
		if i == s.selectedIdx {
			line = selectedStyle.Render("> " + item.Text)
			if item.Description != "" {
				line += " " + selectedStyle.Render(item.Description)
			}
		} else {
			line = itemStyle.Render("  " + item.Text)
			if item.Description != "" {
				line += " " + descStyle.Render(item.Description)
			}
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return suggestionStyle.Render(b.String())
}
