package provider

import (
	"context"
	"testing"
)

func drain(ch <-chan Chunk) (string, error) {
	var out string
	for c := range ch {
		out += c.Text
		if c.Err != nil {
			return out, c.Err
		}
	}
	return out, nil
}

func TestFake_CreateSendSuspendRestore(t *testing.T) {
	ctx := context.Background()
	f := NewFake("fake")
	f.Chunks = []string{"hello", " ", "world"}

	sess, err := f.Create(ctx, "model-x", "be nice", nil)
	if err != nil {
		t.Fatal(err)
	}
	text, err := drain(sess.Send(ctx, "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello world" {
		t.Fatalf("expected concatenated chunks, got %q", text)
	}

	blob, err := sess.Suspend(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob) == 0 {
		t.Fatal("expected non-empty state blob")
	}

	restored, err := f.Restore(ctx, blob, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := drain(restored.Send(ctx, "again")); err != nil {
		t.Fatal(err)
	}
}

func TestFake_SendFailure(t *testing.T) {
	ctx := context.Background()
	f := NewFake("flaky")
	f.FailSend = context.DeadlineExceeded

	sess, err := f.Create(ctx, "m", "s", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := drain(sess.Send(ctx, "go")); err == nil {
		t.Fatal("expected send error to propagate")
	}
}
