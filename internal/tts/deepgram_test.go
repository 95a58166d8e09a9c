package tts

import (
	"context"
	"testing"
	"time"
)

// Smoke test without an API key; Synthesize should error quickly.
func TestDeepgram_Synthesize_NoKey(t *testing.T) {
	d := NewDeepgramClient("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := d.Synthesize(ctx, "hello"); err == nil {
		t.Fatalf("expected error when api key missing")
	}
}

func TestElevenLabs_Synthesize_NoKey(t *testing.T) {
	e := NewElevenLabsClient("", "")
	if _, err := e.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error when api key missing")
	}
}
