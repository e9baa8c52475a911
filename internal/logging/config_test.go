package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]struct {
		lvl zerolog.Level
		ok  bool
	}{
		"":        {zerolog.InfoLevel, false},
		"DEBUG":   {zerolog.DebugLevel, true},
		" warn ":  {zerolog.WarnLevel, true},
		"off":     {zerolog.Disabled, true},
		"verbose": {zerolog.InfoLevel, false},
	}
	for raw, want := range cases {
		lvl, ok := ParseLevel(raw)
		if lvl != want.lvl || ok != want.ok {
			t.Fatalf("ParseLevel(%q) = %v,%v want %v,%v", raw, lvl, ok, want.lvl, want.ok)
		}
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogJSON, "true")
	t.Setenv(EnvLogTimestamp, "nope")
	cfg := defaultConfig(ProfileTest)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel || !cfg.JSON {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Timestamp {
		t.Fatalf("invalid bool should leave timestamp default")
	}
}

func TestNewJSONLoggerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: zerolog.WarnLevel, JSON: true, Out: &buf})
	l.Info().Msg("hidden")
	l.Warn().Uint16("sender", 7).Msg("shown")
	out := buf.String()
	if bytes.Contains(buf.Bytes(), []byte("hidden")) {
		t.Fatalf("info line leaked: %s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"sender":7`)) {
		t.Fatalf("missing structured field: %s", out)
	}
}
