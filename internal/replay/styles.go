// Package replay renders a recovered session's event log as a forensic
// timeline, either as plain text or through an interactive pager. Pure
// presentation: nothing here affects recovery correctness.
package replay

import "github.com/charmbracelet/lipgloss"

// Color scheme, one per event family, keyed by component like the rest of
// the fleet's terminal tooling.
var (
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // timestamps, metadata
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))  // field labels
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15")) // values
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))

	turnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15")) // turn.start/turn.complete
	messageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")) // message.enqueued/delivered
	agentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("13")) // agent.created/terminated
	sessionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14")) // session.created/restored

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	seqStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(5).Align(lipgloss.Right)
	timeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func styleFor(event string) lipgloss.Style {
	switch {
	case event == "turn.start" || event == "turn.complete":
		return turnStyle
	case event == "message.enqueued" || event == "message.delivered":
		return messageStyle
	case event == "agent.created" || event == "agent.terminated":
		return agentStyle
	case event == "session.created" || event == "session.restored":
		return sessionStyle
	case event == "send.error" || event == "turn.failed":
		return errorStyle
	case event == "suspend.result":
		return warnStyle
	default:
		return valueStyle
	}
}
