package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor = lipgloss.Color("#BD93F9")
	accentColor  = lipgloss.Color("#50FA7B")
	dangerColor  = lipgloss.Color("#FF5555")
	mutedColor   = lipgloss.Color("#6272A4")
	borderColor  = lipgloss.Color("#44475A")
	fgColor      = lipgloss.Color("#F8F8F2")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Background(borderColor).
			Padding(0, 1)

	rowStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle
		}).
		Headers(headers...)
}

func outcomeStyle(ok bool) lipgloss.Style {
	if ok {
		return lipgloss.NewStyle().Foreground(accentColor)
	}
	return lipgloss.NewStyle().Foreground(dangerColor)
}

func field(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), valueStyle.Render(value))
}
