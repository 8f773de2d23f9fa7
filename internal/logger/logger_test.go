package logger

import (
	"bytes"
	"log/slog"
	"testing"
)

func TestWarnOncePerKeyLogsOnlyFirstCall(t *testing.T) {
	var buf bytes.Buffer
	Log = slog.New(slog.NewTextHandler(&buf, nil))
	ResetOnceKeys()
	t.Cleanup(ResetOnceKeys)

	WarnOncePerKey("/etc/shadow", "permission denied")
	WarnOncePerKey("/etc/shadow", "permission denied")
	WarnOncePerKey("/etc/shadow", "permission denied")

	out := buf.String()
	if n := countOccurrences(out, "permission denied"); n != 1 {
		t.Fatalf("expected exactly 1 log line, got %d in:\n%s", n, out)
	}
}

func TestWarnOncePerKeyDistinguishesKeys(t *testing.T) {
	var buf bytes.Buffer
	Log = slog.New(slog.NewTextHandler(&buf, nil))
	ResetOnceKeys()
	t.Cleanup(ResetOnceKeys)

	WarnOncePerKey("/a", "denied")
	WarnOncePerKey("/b", "denied")

	out := buf.String()
	if n := countOccurrences(out, "denied"); n != 2 {
		t.Fatalf("expected 2 distinct keys to both log, got %d in:\n%s", n, out)
	}
}

func countOccurrences(s, sub string) int {
	n := 0
	for {
		i := indexOf(s, sub)
		if i < 0 {
			return n
		}
		n++
		s = s[i+len(sub):]
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
