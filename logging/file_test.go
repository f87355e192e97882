package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileLogger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.log")

	l, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	l.Log("hello %s", "world")
	l.Log("count=%d", 42)

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Logging after close must be a no-op, not a panic.
	l.Log("dropped")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "hello world") {
		t.Errorf("log missing first message: %q", content)
	}
	if !strings.Contains(content, "count=42") {
		t.Errorf("log missing second message: %q", content)
	}
	if strings.Contains(content, "dropped") {
		t.Errorf("message written after close: %q", content)
	}
	if got := len(strings.Split(strings.TrimSpace(content), "\n")); got != 2 {
		t.Errorf("expected 2 lines, got %d", got)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "append.log")

	for i := 0; i < 2; i++ {
		l, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("NewFileLogger: %v", err)
		}
		l.Log("session %d", i)
		l.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "session 0") || !strings.Contains(string(data), "session 1") {
		t.Errorf("expected both sessions in log, got %q", string(data))
	}
}

func TestDebugLoggerFilter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debug.log")

	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger: %v", err)
	}

	l.SetFilter("pccc")
	l.Log("pccc", "kept")
	l.Log("mqtt", "filtered out")
	l.Log("eip", "implied by pccc")
	l.LogTX("eip", []byte{0x65, 0x00})
	l.LogTX("kafka", []byte{0xFF})
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "kept") {
		t.Errorf("filtered subsystem missing: %q", content)
	}
	if strings.Contains(content, "filtered out") {
		t.Errorf("filter leaked mqtt message: %q", content)
	}
	if !strings.Contains(content, "implied by pccc") {
		t.Errorf("pccc filter should imply eip: %q", content)
	}
	if !strings.Contains(content, "65 00") {
		t.Errorf("TX hex dump missing: %q", content)
	}
	if strings.Contains(content, "FF ") {
		t.Errorf("filter leaked kafka frame: %q", content)
	}
}

func TestHexDump(t *testing.T) {
	out := hexDump([]byte("ABCDEFGH12345678X"))
	if !strings.Contains(out, "0000:") || !strings.Contains(out, "0010:") {
		t.Errorf("expected two offset rows, got %q", out)
	}
	if !strings.Contains(out, "ABCDEFGH12345678") {
		t.Errorf("expected ASCII gutter, got %q", out)
	}
	if hexDump(nil) != "    (empty)" {
		t.Errorf("empty dump mismatch: %q", hexDump(nil))
	}
}
