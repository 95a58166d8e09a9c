package session

import (
	"context"
)

// Segment is one finalized transcript span with millisecond timestamps
// relative to the start of the recording.
type Segment struct {
	Text    string `json:"text"`
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
}

// Metrics summarizes the delivery characteristics of one recording cycle.
type Metrics struct {
	DurationSeconds float64 `json:"duration_seconds"`
	WordCount       int     `json:"word_count"`
	WordsPerMinute  float64 `json:"words_per_minute"`
	FillerCount     int     `json:"filler_count"`
	FillerRate      float64 `json:"filler_rate"`
	PauseRatio      float64 `json:"pause_ratio"`
	LongestPauseMS  int64   `json:"longest_pause_ms"`
}

// EvaluationPoint is a single claim backed by a verbatim transcript quote.
// The note is reviewer-internal and never leaves the server unredacted.
type EvaluationPoint struct {
	Claim    string `json:"claim"`
	Evidence string `json:"evidence,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Evaluation is the generated assessment of one speech.
type Evaluation struct {
	Summary      string            `json:"summary"`
	Strengths    []EvaluationPoint `json:"strengths"`
	Improvements []EvaluationPoint `json:"improvements"`
	PassRate     float64           `json:"pass_rate"`
}

// PublicEvaluation is the redacted view pushed to the client: claims only,
// evidence quotes and internal notes removed.
type PublicEvaluation struct {
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	PassRate     float64  `json:"pass_rate"`
}

// TranscriptionEngine turns speech audio into text. Live partials stream
// during recording; Finalize produces the authoritative segment list after
// the recording stops.
type TranscriptionEngine interface {
	// StartLive begins streaming recognition. The callback fires with running
	// partials (final=false) and once per finalized utterance (final=true).
	StartLive(ctx context.Context, onCaption func(text string, final bool)) error
	FeedAudio(pcm []byte) error
	StopLive() error
	Finalize(ctx context.Context, audio []byte) ([]Segment, error)
	// QualityWarning reports whether the captured audio looked too quiet or
	// clipped to transcribe reliably.
	QualityWarning() bool
}

// MetricsExtractor computes delivery metrics from finalized segments.
type MetricsExtractor interface {
	Extract(segments []Segment) (Metrics, error)
}

// EvaluationGenerator produces the evaluation, renders it into a spoken
// script, and redacts it for the public view. Generate failures must be
// surfaced by the orchestrator; they are the one collaborator error the
// operator is asked to retry.
type EvaluationGenerator interface {
	Generate(ctx context.Context, segments []Segment, m Metrics) (Evaluation, error)
	RenderScript(ev Evaluation, m Metrics) string
	Redact(ev Evaluation) PublicEvaluation
}

// ToneChecker screens a rendered script before it is spoken.
type ToneChecker interface {
	Check(script string) []string
	StripViolations(script string, violations []string) string
	StripMarkers(script string) string
	AppendScopeAcknowledgment(script string, m Metrics, limitSeconds int) string
}

// TTSEngine trims a script to a speakable length and synthesizes audio.
// Synthesis failure is non-fatal: the written script is delivered without
// audio.
type TTSEngine interface {
	TrimToFit(script string, maxSeconds int) string
	Synthesize(ctx context.Context, script string) ([]byte, error)
}

// SavedPaths reports where session artifacts were written.
type SavedPaths struct {
	Transcript string
	Evaluation string
	Audio      string
}

// Persistence saves session artifacts. Opt-in and best-effort: errors are
// logged, never surfaced to the operator.
type Persistence interface {
	SaveSession(ctx context.Context, snap Snapshot) (SavedPaths, error)
}

// Snapshot is an immutable copy of the session data worth persisting.
type Snapshot struct {
	SessionID  string
	Segments   []Segment
	Metrics    Metrics
	Evaluation Evaluation
	Script     string
	Audio      []byte
}

// Events is the outbound surface toward the connected client. Implementations
// must be safe to call from multiple goroutines and must never block the
// caller for long.
type Events interface {
	StateChanged(st State)
	Caption(text string)
	PipelineProgress(stage string, runID uint64)
	EvaluationReady(view PublicEvaluation, script string, hasAudio bool)
	TTSAudio(audio []byte)
	TTSComplete()
	Elapsed(seconds int)
	Error(code, message string, recoverable bool)
}

// Pipeline progress stages, in the order they occur.
const (
	StageTranscribing = "transcribing"
	StageMetrics      = "metrics"
	StageGenerating   = "generating"
	StageToneCheck    = "tone_check"
	StageTrimming     = "trimming"
	StageSynthesizing = "synthesizing"
	StageReady        = "ready"
)
