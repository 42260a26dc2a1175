package tui

import "github.com/charmbracelet/lipgloss"

// ── Color Palette ──

var (
	ColorBG     = lipgloss.Color("#0c0c14")
	ColorBorder = lipgloss.Color("#2a2a3d")

	// Text hierarchy
	ColorText      = lipgloss.Color("#c8c8d4")
	ColorTextDim   = lipgloss.Color("#6b6b7b")
	ColorTextMuted = lipgloss.Color("#3e3e50")

	ColorAccent    = lipgloss.Color("#5eead4")
	ColorAccentDim = lipgloss.Color("#2d6a5e")

	ColorError = lipgloss.Color("#ef4444")
)

// ── Reusable Styles ──

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorTextDim)

	// Device row
	DetectionStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	// Hint / help text
	HintStyle = lipgloss.NewStyle().
			Foreground(ColorTextDim)

	// Step indicator styles
	StepDone    = lipgloss.NewStyle().Foreground(ColorTextDim)
	StepActive  = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	StepPending = lipgloss.NewStyle().Foreground(ColorTextMuted)

	// Alert / error
	AlertStyle = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	// Action badge
	BadgeStyle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Background(ColorAccentDim).
			Padding(0, 1)

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(ColorBorder)

	// Label (right-aligned in info block)
	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextDim).
			Width(8).
			Align(lipgloss.Right)

	ValueStyle = lipgloss.NewStyle().
			Foreground(ColorText)
)

// Truncate truncates a string to maxLen runes, adding "..." if needed.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
