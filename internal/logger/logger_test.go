package logger

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactNeverLogsValue(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(core)
	log.Info("verifying", Redact("secret", "whsec_supersecret"), Token("handoff", "eyJhbGciOiJIUzI1NiJ9.payload.sig"))

	entry := logs.All()[0]
	for _, f := range entry.Context {
		if strings.Contains(f.String, "supersecret") || strings.Contains(f.String, "payload") {
			t.Fatalf("field %s leaked value %q", f.Key, f.String)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"jane@example.com", "j***@example.com"},
		{"noatsign", redacted},
		{"@example.com", redacted},
	}
	for _, tt := range tests {
		if got := MaskEmail(tt.in); got != tt.want {
			t.Fatalf("MaskEmail(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != zapcore.DebugLevel {
		t.Fatal("debug not parsed")
	}
	if ParseLevel("bogus") != zapcore.InfoLevel {
		t.Fatal("unknown level should default to info")
	}
}
