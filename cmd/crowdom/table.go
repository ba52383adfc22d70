package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// printTable renders rows under headers. Rows whose first cell starts with
// "-" are dimmed.
func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println(dimStyle.Render("(none)"))
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(rows) && strings.HasPrefix(rows[row][0], "-") {
				return dimStyle
			}
			return cellStyle
		})
	fmt.Println(t)
}

// inputs formats task inputs for a table cell.
func inputs(in []string) string {
	s := strings.Join(in, " | ")
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

func percent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}
