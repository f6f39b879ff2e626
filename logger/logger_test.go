package logger_test

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/emilniklas/sequent/logger"
)

func TestFromEnvDefaultsToInfo(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	l := logger.FromEnv()
	if l == nil {
		t.Fatal("expected a non-nil logger")
	}
}

func TestFromEnvAcceptsAliases(t *testing.T) {
	for _, raw := range []string{"debug", "d", "5", "warn", "w", "3", "error", "e", "2", "fatal", "f", "1", "none", "0", "false"} {
		t.Setenv("LOG_LEVEL", raw)
		if l := logger.FromEnv(); l == nil {
			t.Fatalf("expected a logger for LOG_LEVEL=%q", raw)
		}
	}
	os.Unsetenv("LOG_LEVEL")
}

func TestFromEnvNoneIsSilent(t *testing.T) {
	t.Setenv("LOG_LEVEL", "none")
	l := logger.FromEnv()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	orig := os.Stdout
	os.Stdout = w
	l.Error("should not be emitted", nil)
	l.Fatal("should not be emitted either", nil)
	os.Stdout = orig
	w.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Fatalf("LOG_LEVEL=none must produce no output, got %q", buf.String())
	}
}

func TestSeverityString(t *testing.T) {
	cases := map[logger.Severity]string{
		logger.Debug:   "debug",
		logger.Info:    "info",
		logger.Warning: "warning",
		logger.Error:   "error",
		logger.Fatal:   "fatal",
	}
	for sev, want := range cases {
		if got := sev.String(); got != want {
			t.Errorf("Severity(%d).String() = %q, want %q", sev, got, want)
		}
	}
}

func TestWithContextAndForComponentDoNotPanic(t *testing.T) {
	l := logger.New(logger.Debug)
	child := l.WithContext(map[string]interface{}{"request_id": "abc"}).ForComponent("example")
	child.Info("hello", map[string]interface{}{"extra": 1})
}
