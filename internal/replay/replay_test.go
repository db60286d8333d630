package replay

import (
	"strings"
	"testing"

	"github.com/vinayprograms/agentmux/internal/durable"
)

func TestReplayer_RenderOrdersAndAnnotatesEvents(t *testing.T) {
	dir := t.TempDir()

	l, err := durable.NewLog(dir, map[string]any{"session_id": "sess-1"})
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	if err := l.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Log("turn.start", map[string]any{"prompt": "hello"}); err != nil {
		t.Fatalf("Log turn.start: %v", err)
	}
	if err := l.Log("send.error", map[string]any{"reason": "timeout"}); err != nil {
		t.Fatalf("Log send.error: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, err := New(dir).Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if !strings.Contains(out, "turn.start") {
		t.Errorf("expected rendered output to contain turn.start, got:\n%s", out)
	}
	if !strings.Contains(out, "send.error") {
		t.Errorf("expected rendered output to contain send.error, got:\n%s", out)
	}

	startIdx := strings.Index(out, "turn.start")
	errIdx := strings.Index(out, "send.error")
	if startIdx == -1 || errIdx == -1 || startIdx > errIdx {
		t.Errorf("expected turn.start to precede send.error in output")
	}
}

func TestFormatEntries_EmptyTimelineStillRendersTitle(t *testing.T) {
	out := FormatEntries(nil)
	if !strings.Contains(out, "EVENT TIMELINE") {
		t.Errorf("expected title in empty render, got:\n%s", out)
	}
}
