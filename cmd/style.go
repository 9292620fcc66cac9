package cmd

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"
)

// Palette for report output.
var (
	colorPrimary = lipgloss.Color("#8B5CF6")
	colorTeal    = lipgloss.Color("#14B8A6")
	colorAccent  = lipgloss.Color("#F97316")
	colorSuccess = lipgloss.Color("#22C55E")
	colorError   = lipgloss.Color("#F43F5E")
	colorDim     = lipgloss.Color("#94A3B8")
	colorBorder  = lipgloss.Color("#334155")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDim)
	hintStyle  = lipgloss.NewStyle().Foreground(colorDim).Italic(true)
	okStyle    = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	badStyle   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(colorAccent)

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	barFilled = lipgloss.NewStyle().Foreground(colorTeal)
	barEmpty  = lipgloss.NewStyle().Foreground(colorBorder)
)

// bar renders v in [0,1] as a fixed-width gauge, marking mastered values.
func bar(v, threshold float64, width int) string {
	n := int(v*float64(width) + 0.5)
	n = max(0, min(width, n))
	filled := barFilled
	if v >= threshold {
		filled = lipgloss.NewStyle().Foreground(colorSuccess)
	}
	return filled.Render(strings.Repeat("█", n)) + barEmpty.Render(strings.Repeat("░", width-n))
}

func rule(width int) string {
	return dimStyle.Render(strings.Repeat("─", width))
}

func signed(v float64) string {
	s := fmt.Sprintf("%+.3f", v)
	switch {
	case v > 0:
		return okStyle.Render(s)
	case v < 0:
		return badStyle.Render(s)
	}
	return dimStyle.Render(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func formatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}
