package logger

import (
	"strings"
	"testing"
)

func TestLogger_BasicLevels(t *testing.T) {
	l := New("debug")
	if l == nil {
		t.Fatalf("logger nil")
	}
	l.Debug("dbg", "k", 1)
	l.Info("info")
	l.Warn("warn")
	l.Error("err")
}

func TestMockLogger_CapturesFields(t *testing.T) {
	var sb strings.Builder
	l := NewMockLogger(&sb)
	l.Info("job claimed", "rca_run_id", "abc")
	out := sb.String()
	if !strings.Contains(out, "job claimed") || !strings.Contains(out, "rca_run_id=abc") {
		t.Fatalf("unexpected mock output: %q", out)
	}
}
