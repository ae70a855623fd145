package console

import "github.com/charmbracelet/lipgloss"

var (
	StatusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)
	StatusErrorStyle = StatusBarStyle.Background(lipgloss.Color("160"))

	PaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	PaneTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75"))

	StepDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	StepCurrentStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	StepMissedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	StepPendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	SuggestionHighStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	SuggestionStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	AlertErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	AlertWarningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	AlertInfoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))

	DimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	HelpKeyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	HelpDescStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)
