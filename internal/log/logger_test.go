package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestComponentIsAttached(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Component: ComponentBooks, Handler: slog.NewTextHandler(&buf, nil)})
	l.InfoContext(context.Background(), "hello", FieldReceiptID, "r1")
	out := buf.String()
	if !strings.Contains(out, "component=books") || !strings.Contains(out, "receipt_id=r1") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestStructuredLoggerLogError(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Component: ComponentWebhook, Handler: slog.NewTextHandler(&buf, nil)}))
	sl.LogError(context.Background(), "delivery failed", errors.New("boom"), ComponentWebhook, OpDispatch, NewFields().WithTenant("t1"))
	out := buf.String()
	for _, want := range []string{"level=ERROR", "error=boom", "operation=dispatch", "tenant_id=t1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestFromContextDefault(t *testing.T) {
	if l := FromContext(context.Background()); l == nil || l.Component() != "unknown" {
		t.Fatalf("unexpected default logger %+v", l)
	}
}
