package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelByEnv(t *testing.T) {
	var buf bytes.Buffer
	prod := NewWithWriter("production", &buf)
	prod.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug suppressed in production, got %s", buf.String())
	}
	dev := NewWithWriter("dev", &buf)
	dev.Debug().Msg("shown")
	if !strings.Contains(buf.String(), `"message":"shown"`) || !strings.Contains(buf.String(), `"service":"ticket-service"`) {
		t.Fatalf("unexpected log line: %s", buf.String())
	}
}
