package output

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles are the text-mode styles shared by all commands.
type Styles struct {
	Header1 lipgloss.Style
	Header2 lipgloss.Style
	Bold    lipgloss.Style
	Muted   lipgloss.Style

	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style
	Success lipgloss.Style

	NodeID lipgloss.Style
	Kind   lipgloss.Style
	Column lipgloss.Style
	SQL    lipgloss.Style

	StatusSuccess lipgloss.Style
	StatusFailed  lipgloss.Style
}

// NewStyles builds the styles for w under the given color profile.
func NewStyles(w io.Writer, profile termenv.Profile) *Styles {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(profile)

	return &Styles{
		Header1: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		Header2: r.NewStyle().Bold(true),
		Bold:    r.NewStyle().Bold(true),
		Muted:   r.NewStyle().Foreground(lipgloss.Color("8")),

		Error:   r.NewStyle().Foreground(lipgloss.Color("9")),
		Warning: r.NewStyle().Foreground(lipgloss.Color("11")),
		Info:    r.NewStyle().Foreground(lipgloss.Color("14")),
		Success: r.NewStyle().Foreground(lipgloss.Color("10")),

		NodeID: r.NewStyle().Bold(true).Foreground(lipgloss.Color("13")),
		Kind:   r.NewStyle().Foreground(lipgloss.Color("6")),
		Column: r.NewStyle().Foreground(lipgloss.Color("4")),
		SQL:    r.NewStyle().Foreground(lipgloss.Color("7")),

		StatusSuccess: r.NewStyle().Foreground(lipgloss.Color("10")).SetString("✓"),
		StatusFailed:  r.NewStyle().Foreground(lipgloss.Color("9")).SetString("✗"),
	}
}
