package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_NilAndNopAreSafe(t *testing.T) {
	var l *Logger
	l.Log("ignored %d", 1)
	if err := l.Close(); err != nil {
		t.Errorf("Close on nil logger: %v", err)
	}
	if l.With("[x]") != nil {
		t.Errorf("With on nil logger should stay nil")
	}

	n := Nop()
	n.Log("ignored")
	n.With("[x]").Log("ignored")
	if err := n.Close(); err != nil {
		t.Errorf("Close on nop logger: %v", err)
	}
}

func TestLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")
	l, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Log("iteration %d", 3)
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and one line, got %q", lines)
	}
	if !strings.HasSuffix(lines[1], "] iteration 3") || !strings.HasPrefix(lines[1], "[") {
		t.Errorf("unexpected line %q", lines[1])
	}
}

func TestLogger_WithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf)
	l.With("[classification pool=p1]").With("[eval]").Log("accepted %d", 2)

	if got := buf.String(); !strings.Contains(got, "] [classification pool=p1] [eval] accepted 2\n") {
		t.Errorf("unexpected output %q", got)
	}
}

func TestNew_EmptyPathIsNop(t *testing.T) {
	l, err := New("")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Log("ignored")
}
