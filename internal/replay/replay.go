// Package replay renders a recovered session's event log as a forensic
// timeline, either as plain text or through an interactive pager. Pure
// presentation: nothing here affects recovery correctness.
package replay

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vinayprograms/agentmux/internal/durable"
)

// Replayer renders durable.Entry timelines for a single session directory.
type Replayer struct {
	sessionDir string
}

// New constructs a Replayer over a session's event-log directory (the same
// dir passed to durable.NewLog).
func New(sessionDir string) *Replayer {
	return &Replayer{sessionDir: sessionDir}
}

// Render reads the session's recovered entries and formats them as a
// plain-text timeline, one line per event in arrival order.
func (r *Replayer) Render() (string, error) {
	entries, err := durable.ReadLog(r.sessionDir)
	if err != nil {
		return "", fmt.Errorf("replay: read log: %w", err)
	}
	return FormatEntries(entries), nil
}

// RunInteractive renders the timeline and opens it in the interactive pager,
// blocking until the user quits.
func (r *Replayer) RunInteractive() error {
	content, err := r.Render()
	if err != nil {
		return err
	}
	title := "replay: " + r.sessionDir
	return NewPager(title).Run(content)
}

// FormatEntries renders a decoded entry sequence as a plain-text timeline.
// Exported so cmd/agentmux and tests can format entries obtained by other
// means (e.g. a caller that already merged several sessions' logs).
func FormatEntries(entries []durable.Entry) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("EVENT TIMELINE"))
	b.WriteString("\n\n")

	for i, e := range entries {
		seq := seqStyle.Render(fmt.Sprintf("%d", i+1))
		ts := timeStyle.Render(e.Ts.Format("15:04:05.000"))
		event := styleFor(e.Event).Render(e.Event)

		b.WriteString(fmt.Sprintf("%s %s %s", seq, ts, event))
		if len(e.Data) > 0 {
			b.WriteString(" ")
			b.WriteString(dimStyle.Render(formatData(e.Data)))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// formatData renders an entry's data map as stable, sorted key=value pairs.
func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", labelStyle.Render(k), valueStyle.Render(fmt.Sprintf("%v", data[k]))))
	}
	return strings.Join(parts, " ")
}
