package metrics

import (
	"testing"

	"github.com/rservant/speech-evaluator-sub004/internal/session"
)

func TestExtract_BasicSpeech(t *testing.T) {
	e := NewExtractor()
	segments := []session.Segment{
		{Text: "Good evening everyone, um, tonight I want to talk", StartMS: 0, EndMS: 4000},
		{Text: "about public speaking", StartMS: 5000, EndMS: 7000},
	}
	m, err := e.Extract(segments)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.WordCount != 12 {
		t.Fatalf("word count = %d, want 12", m.WordCount)
	}
	if m.FillerCount != 1 {
		t.Fatalf("filler count = %d, want 1", m.FillerCount)
	}
	if m.DurationSeconds != 7.0 {
		t.Fatalf("duration = %v, want 7.0", m.DurationSeconds)
	}
	// one 1000ms gap over 7000ms
	if m.LongestPauseMS != 1000 {
		t.Fatalf("longest pause = %d, want 1000", m.LongestPauseMS)
	}
	if m.PauseRatio < 0.14 || m.PauseRatio > 0.15 {
		t.Fatalf("pause ratio = %v, want ~0.143", m.PauseRatio)
	}
	wantWPM := 12.0 / (7.0 / 60.0)
	if m.WordsPerMinute < wantWPM-0.01 || m.WordsPerMinute > wantWPM+0.01 {
		t.Fatalf("wpm = %v, want %v", m.WordsPerMinute, wantWPM)
	}
}

func TestExtract_FillerMatchingIsCaseAndPunctuationInsensitive(t *testing.T) {
	e := NewExtractor()
	segments := []session.Segment{
		{Text: "Um, Like... basically, it's fine", StartMS: 0, EndMS: 3000},
	}
	m, err := e.Extract(segments)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.FillerCount != 3 {
		t.Fatalf("filler count = %d, want 3", m.FillerCount)
	}
}

func TestExtract_NoSegments(t *testing.T) {
	e := NewExtractor()
	if _, err := e.Extract(nil); err == nil {
		t.Fatalf("expected error for empty transcript")
	}
}

func TestExtract_DegenerateTimestamps(t *testing.T) {
	e := NewExtractor()
	segments := []session.Segment{{Text: "hi", StartMS: 500, EndMS: 500}}
	if _, err := e.Extract(segments); err == nil {
		t.Fatalf("expected error for zero-length recording")
	}
}
