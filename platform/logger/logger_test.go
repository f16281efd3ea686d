package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestWithContextAddsRunAndRequestIDs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("production", &buf)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, RunIDKey, "run-9")
	log.WithContext(ctx).Info("hello")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-1"`) || !strings.Contains(out, `"run_id":"run-9"`) {
		t.Fatalf("expected ids in output, got %s", out)
	}
}

func TestLedgerEntryFailedLogsAtWarn(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("production", &buf)

	log.LedgerEntry("dispatch", "failed", "", "lead-1", "")

	if !strings.Contains(buf.String(), `"level":"WARN"`) {
		t.Fatalf("expected warn level, got %s", buf.String())
	}
}
