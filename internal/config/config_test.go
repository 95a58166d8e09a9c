package config

import (
	"os"
	"testing"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("CEREBRAS_MODEL_ID", "")
	os.Setenv("TIME_LIMIT_SECONDS", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.CerebrasModelID == "" {
		t.Fatalf("expected default cerebras model id")
	}
	if cfg.TimeLimitSeconds != 120 {
		t.Fatalf("expected default time limit, got %d", cfg.TimeLimitSeconds)
	}
	if cfg.MaxSpeakSeconds != 90 {
		t.Fatalf("expected default max speak seconds, got %d", cfg.MaxSpeakSeconds)
	}
}

func TestLoad_InvalidIntFallsBack(t *testing.T) {
	os.Setenv("TIME_LIMIT_SECONDS", "not-a-number")
	defer os.Unsetenv("TIME_LIMIT_SECONDS")
	cfg := Load()
	if cfg.TimeLimitSeconds != 120 {
		t.Fatalf("expected fallback time limit, got %d", cfg.TimeLimitSeconds)
	}
}
