// Package ui provides the visual styling for the conclave chamber TUI.
// The chamber is dark by default; the council convenes at night.
package ui

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Dark Mode Colors (Default)
	DarkBackground = lipgloss.Color("#0d0d12")
	DarkForeground = lipgloss.Color("#e8e6e3")
	DarkPrimary    = lipgloss.Color("#d4af37") // Gold
	DarkAccent     = lipgloss.Color("#7c3aed") // Violet
	DarkSecondary  = lipgloss.Color("#1a1a24")
	DarkMuted      = lipgloss.Color("#6b6b7b")
	DarkBorder     = lipgloss.Color("#2a2a38")
	DarkCard       = lipgloss.Color("#16161f")

	// Light Mode Colors
	LightBackground = lipgloss.Color("#f5f4f0")
	LightForeground = lipgloss.Color("#1a1a24")
	LightPrimary    = lipgloss.Color("#8a6d1a")
	LightAccent     = lipgloss.Color("#6d28d9")
	LightSecondary  = lipgloss.Color("#e8e6e3")
	LightMuted      = lipgloss.Color("#8a8a96")
	LightBorder     = lipgloss.Color("#d8d6d0")
	LightCard       = lipgloss.Color("#ffffff")

	// Semantic Colors (same in both modes)
	Destructive = lipgloss.Color("#e53935")
	Success     = lipgloss.Color("#8BC34A")
	Warning     = lipgloss.Color("#FFC107")
	Info        = lipgloss.Color("#2196F3")
)

// Theme holds the current color scheme.
type Theme struct {
	Background lipgloss.Color
	Foreground lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Secondary  lipgloss.Color
	Muted      lipgloss.Color
	Border     lipgloss.Color
	Card       lipgloss.Color
	IsDark     bool
}

// DarkTheme returns the dark mode theme.
func DarkTheme() Theme {
	return Theme{
		Background: DarkBackground,
		Foreground: DarkForeground,
		Primary:    DarkPrimary,
		Accent:     DarkAccent,
		Secondary:  DarkSecondary,
		Muted:      DarkMuted,
		Border:     DarkBorder,
		Card:       DarkCard,
		IsDark:     true,
	}
}

// LightTheme returns the light mode theme.
func LightTheme() Theme {
	return Theme{
		Background: LightBackground,
		Foreground: LightForeground,
		Primary:    LightPrimary,
		Accent:     LightAccent,
		Secondary:  LightSecondary,
		Muted:      LightMuted,
		Border:     LightBorder,
		Card:       LightCard,
		IsDark:     false,
	}
}

// DetectTheme picks dark unless the terminal clearly reports a light
// background via COLORFGBG, or CONCLAVE_LIGHT_MODE=1 forces it.
func DetectTheme() Theme {
	if os.Getenv("CONCLAVE_LIGHT_MODE") == "1" {
		return LightTheme()
	}
	if colorTerm := os.Getenv("COLORFGBG"); colorTerm != "" {
		parts := strings.Split(colorTerm, ";")
		if len(parts) == 2 {
			if bgIdx, err := strconv.Atoi(parts[1]); err == nil {
				if bgIdx == 7 || bgIdx >= 9 {
					return LightTheme()
				}
			}
		}
	}
	return DarkTheme()
}

// Styles holds all the styled components.
type Styles struct {
	Theme Theme

	// Layout
	Header  lipgloss.Style
	Footer  lipgloss.Style
	Content lipgloss.Style

	// Text
	Title    lipgloss.Style
	Subtitle lipgloss.Style
	Body     lipgloss.Style
	Muted    lipgloss.Style
	Bold     lipgloss.Style

	// Interactive
	Prompt    lipgloss.Style
	UserInput lipgloss.Style

	// Council
	MemberCard       lipgloss.Style
	MemberCardActive lipgloss.Style
	MemberName       lipgloss.Style
	MemberTitle      lipgloss.Style
	SpeechBubble     lipgloss.Style
	Decree           lipgloss.Style

	// Status
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Info    lipgloss.Style

	// Components
	Spinner lipgloss.Style
	Divider lipgloss.Style
	Badge   lipgloss.Style
}

// NewStyles creates a new Styles instance with the given theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		Theme: theme,

		Header: lipgloss.NewStyle().
			Background(theme.Secondary).
			Foreground(theme.Primary).
			Padding(0, 2).
			Bold(true),

		Footer: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Padding(0, 2),

		Content: lipgloss.NewStyle().
			Padding(1, 2),

		Title: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true).
			MarginBottom(1),

		Subtitle: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Italic(true),

		Body: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		Muted: lipgloss.NewStyle().
			Foreground(theme.Muted),

		Bold: lipgloss.NewStyle().
			Foreground(theme.Foreground).
			Bold(true),

		Prompt: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true),

		UserInput: lipgloss.NewStyle().
			Foreground(theme.Foreground),

		MemberCard: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 1).
			Width(18).
			Align(lipgloss.Center),

		MemberCardActive: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			Padding(0, 1).
			Width(18).
			Align(lipgloss.Center).
			Bold(true),

		MemberName: lipgloss.NewStyle().
			Bold(true),

		MemberTitle: lipgloss.NewStyle().
			Foreground(theme.Muted).
			Italic(true),

		SpeechBubble: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2).
			MarginTop(1),

		Decree: lipgloss.NewStyle().
			Foreground(theme.Primary).
			PaddingLeft(2).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(theme.Primary),

		Success: lipgloss.NewStyle().
			Foreground(Success).
			Bold(true),

		Error: lipgloss.NewStyle().
			Foreground(Destructive).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true),

		Info: lipgloss.NewStyle().
			Foreground(Info),

		Spinner: lipgloss.NewStyle().
			Foreground(theme.Accent),

		Divider: lipgloss.NewStyle().
			Foreground(theme.Border),

		Badge: lipgloss.NewStyle().
			Background(theme.Accent).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 1).
			Bold(true),
	}
}

// DefaultStyles returns styles with the auto-detected theme.
func DefaultStyles() Styles {
	return NewStyles(DetectTheme())
}

// RenderDivider returns a horizontal divider.
func (s Styles) RenderDivider(width int) string {
	if width <= 0 {
		return ""
	}
	return s.Divider.Render(strings.Repeat("─", width))
}
