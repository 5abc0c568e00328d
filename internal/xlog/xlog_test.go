package xlog

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Error)
	l.Warningf("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged, got %q", buf.String())
	}
	l.Errorf("boom %d", 1)
	if !strings.Contains(buf.String(), "error: boom 1") {
		t.Fatalf("got %q", buf.String())
	}
}

func TestAuditLogFormat(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditLog(&buf)
	a.now = func() time.Time { return time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC) }
	a.Warningf("installing foo")
	want := "[03/05/24 14:30] warning: installing foo\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}
