package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#15202b")).
			Background(lipgloss.Color("#f56a96")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#3a3a3c")).
			Padding(1, 2).
			Width(56)

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c9b458")).
			Render

	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6aaa64")).
			Render

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#626262", Dark: "#818384"}).
			Render

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#f56a96", Dark: "#f23a74"}).
			Render

	urlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7aa2f7")).
			Width(52)
)
var docStyle = lipgloss.NewStyle().Margin(1, 2)
