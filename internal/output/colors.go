package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title     *color.Color
	Rule      *color.Color
	Label     *color.Color
	Value     *color.Color
	Dim       *color.Color
	Success   *color.Color
	Warn      *color.Color
	Error     *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.Bold),
		Rule:      color.New(color.FgCyan),
		Label:     color.New(color.FgYellow),
		Value:     color.New(color.FgCyan),
		Dim:       color.New(color.Faint),
		Success:   color.New(color.FgGreen, color.Bold),
		Warn:      color.New(color.FgYellow, color.Bold),
		Error:     color.New(color.FgRed, color.Bold),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Rule, s.Label, s.Value, s.Dim, s.Success, s.Warn, s.Error, s.Highlight}
}

// forceColor enables every color regardless of the terminal.
func (s *ColorScheme) forceColor() {
	for _, c := range s.all() {
		c.EnableColor()
	}
}

// rateColor picks a color for a failure rate: green up to 1%, yellow up to 5%.
func (s *ColorScheme) rateColor(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return s.Error
	case rate > 0.01:
		return s.Warn
	default:
		return s.Success
	}
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}
