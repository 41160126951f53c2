package main

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"

	"github.com/harveysanders/vfdash/dashboard/panel"
)

var (
	vfdColor   = lipgloss.Color("#4EF2E1") // phosphor teal
	mutedColor = lipgloss.Color("#626262")
	errorColor = lipgloss.Color("#FF5555")

	glassStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			PaddingLeft(1)

	failedStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// dimLevel is the luminance below which the emulated glass is drawn faint.
const dimLevel = 128

// renderScreen draws the display rows behind a bordered glass with a status
// line for the cycle underneath.
func renderScreen(lines []string, luminance uint8, r panel.CycleReport) string {
	text := lipgloss.NewStyle().Foreground(vfdColor)
	if luminance < dimLevel {
		text = text.Faint(true)
	}
	rows := make([]string, len(lines))
	for i, l := range lines {
		rows[i] = text.Render(l)
	}
	glass := glassStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))

	status := "lum " + strconv.Itoa(int(luminance)) + "  ok " + strconv.Itoa(r.Rendered)
	if r.Failed > 0 {
		status += "  " + failedStyle.Render("ERR "+strconv.Itoa(r.Failed))
	}
	if r.LinkDead() {
		status += "  " + failedStyle.Render("link down?")
	}
	if r.DisplayErr != nil {
		status += "  " + failedStyle.Render("display: "+r.DisplayErr.Error())
	}
	return lipgloss.JoinVertical(lipgloss.Left, glass, statusStyle.Render(status))
}
