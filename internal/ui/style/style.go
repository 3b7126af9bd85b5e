// Package style holds the colors and glyphs apkforge uses on the terminal.
package style

import "github.com/charmbracelet/lipgloss"

// Palette.
var (
	Accent = lipgloss.Color("#3DDC84")
	Muted  = lipgloss.Color("#667085")
	Green  = lipgloss.Color("#22A06B")
	Red    = lipgloss.Color("#D93025")
	Yellow = lipgloss.Color("#F59E0B")
)

// Glyphs.
const (
	Check   = "✓"
	Cross   = "✗"
	Warning = "!"
	Arrow   = "→"
	Dot     = "●"
)

// Bold renders text in bold with the given foreground color.
func Bold(color lipgloss.Color, text string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(text)
}

// Faint renders text in the muted color.
func Faint(text string) string {
	return lipgloss.NewStyle().Foreground(Muted).Render(text)
}
