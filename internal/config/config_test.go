package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	// Clear relevant envs
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("SPEECH_MODEL")
	os.Unsetenv("SESSION_IDLE_TTL_S")
	os.Unsetenv("SESSION_EVENT_CAP")

	c := Load()

	if c.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", c.Server.Port)
	}
	if c.Speech.Model != "gpt-4o-realtime-preview" {
		t.Fatalf("expected default speech model, got %q", c.Speech.Model)
	}
	if c.Speech.ReconnectMax != 5 {
		t.Fatalf("expected default reconnect max 5, got %d", c.Speech.ReconnectMax)
	}
	if c.Session.IdleTTLSeconds != 600 {
		t.Fatalf("expected default idle TTL 600s, got %d", c.Session.IdleTTLSeconds)
	}
	if c.Session.EventCap != 200 {
		t.Fatalf("expected default event cap 200, got %d", c.Session.EventCap)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	os.Setenv("SESSION_IDLE_TTL_S", "120")
	defer os.Unsetenv("SESSION_IDLE_TTL_S")

	c := Load()
	if c.Session.IdleTTLSeconds != 120 {
		t.Fatalf("expected idle TTL override 120s, got %d", c.Session.IdleTTLSeconds)
	}
}
