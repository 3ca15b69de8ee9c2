package log

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	if err != nil {
		t.Fatal(err)
	}
	if l != slog.LevelDebug {
		t.Fatalf("unexpected level %v", l)
	}

	if _, err := ParseLevel("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Fatalf("expected json format, got %v %v", f, err)
	}
	if f, err := ParseFormat(""); err != nil || f != FormatText {
		t.Fatalf("expected text format, got %v %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestForAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	SetLevel(slog.LevelInfo)
	logger := For(New(&buf, FormatText), ComponentDriver)

	logger.Info("hello")

	if !strings.Contains(buf.String(), "component=driver") {
		t.Fatalf("component missing from %q", buf.String())
	}
}

func TestContextRoundTrip(t *testing.T) {
	logger := Discard()
	ctx := Context(context.Background(), logger)

	if FromContext(ctx) != logger {
		t.Fatal("logger not carried by context")
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Fatal("expected default logger for empty context")
	}
}
