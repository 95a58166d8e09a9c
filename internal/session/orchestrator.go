package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrNothingToReplay is returned by ReplayTTS when no synthesized clip is
// cached for the current cycle.
var ErrNothingToReplay = errors.New("no synthesized audio to replay")

// Collaborators bundles the external engines the orchestrator sequences.
// All of them are black boxes here; the orchestrator owns only ordering,
// cancellation, and commit discipline.
type Collaborators struct {
	Transcription TranscriptionEngine
	Metrics       MetricsExtractor
	Generator     EvaluationGenerator
	Tone          ToneChecker
	TTS           TTSEngine
	Persist       Persistence // optional; nil disables saving
}

// Orchestrator drives one session through the recording-to-delivery cycle.
// All commands for a session arrive from its single connection and are
// applied in arrival order; long-running collaborator calls are never made
// inline with command dispatch.
type Orchestrator struct {
	sess            *Session
	collab          Collaborators
	events          Events
	maxSpeakSeconds int
}

// NewOrchestrator wires an orchestrator to its session and collaborators.
// maxSpeakSeconds caps the synthesized evaluation's spoken length.
func NewOrchestrator(s *Session, c Collaborators, events Events, maxSpeakSeconds int) *Orchestrator {
	if maxSpeakSeconds <= 0 {
		maxSpeakSeconds = 90
	}
	return &Orchestrator{sess: s, collab: c, events: events, maxSpeakSeconds: maxSpeakSeconds}
}

// Session returns the entity this orchestrator drives.
func (o *Orchestrator) Session() *Session { return o.sess }

// StartRecording begins a fresh cycle: Idle → Recording. All artifacts of
// the previous cycle, including the replayable audio cache, are discarded
// before the counter moves.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	s := o.sess
	s.mu.Lock()
	if err := s.transitionLocked("start_recording", StateIdle, StateRecording); err != nil {
		s.mu.Unlock()
		return err
	}
	s.resetCycleLocked()
	runID := s.bumpRunIDLocked()
	s.recordingStartedAt = time.Now()
	s.touchLocked()
	s.mu.Unlock()

	o.events.StateChanged(StateRecording)
	if err := o.collab.Transcription.StartLive(ctx, o.onLiveCaption(runID)); err != nil {
		// Recording continues without live captions; the post-stop finalize
		// pass is the authoritative transcript anyway.
		log.Printf("[%s] live captioning unavailable: %v", s.ID, err)
		o.events.Error("live_captions_unavailable", err.Error(), true)
	}
	go o.tickElapsed(runID)
	return nil
}

// FeedAudio buffers a recorded PCM frame and forwards it to live
// recognition. Frames arriving outside Recording are dropped.
func (o *Orchestrator) FeedAudio(pcm []byte) {
	s := o.sess
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return
	}
	s.audio = append(s.audio, pcm...)
	s.mu.Unlock()
	_ = o.collab.Transcription.FeedAudio(pcm)
}

// StopRecording ends capture: Recording → Processing. Transcription,
// metrics extraction, and the eager pipeline run in the background under the
// runID captured here.
func (o *Orchestrator) StopRecording(ctx context.Context) error {
	s := o.sess
	s.mu.Lock()
	if err := s.transitionLocked("stop_recording", StateRecording, StateProcessing); err != nil {
		s.mu.Unlock()
		return err
	}
	runID := s.runID
	audio := s.audio
	s.touchLocked()
	s.mu.Unlock()

	o.events.StateChanged(StateProcessing)
	if err := o.collab.Transcription.StopLive(); err != nil {
		log.Printf("[%s] stop live captioning: %v", s.ID, err)
	}
	go o.processRecording(ctx, runID, audio)
	return nil
}

// processRecording runs the transcription+metrics chain. Every resumption
// point re-reads the live runID before writing anything back.
func (o *Orchestrator) processRecording(ctx context.Context, runID uint64, audio []byte) {
	s := o.sess

	o.events.PipelineProgress(StageTranscribing, runID)
	segments, err := o.collab.Transcription.Finalize(ctx, audio)
	if s.RunID() != runID {
		log.Printf("[%s] discarding stale transcription (run %d)", s.ID, runID)
		return
	}
	if err != nil {
		// Fall back to the segments accumulated from live captioning.
		log.Printf("[%s] finalize transcription failed, using live segments: %v", s.ID, err)
		s.mu.Lock()
		segments = append([]Segment(nil), s.liveSegments...)
		s.mu.Unlock()
		o.events.Error("transcription_degraded", "final transcription failed; using live captions", true)
	}

	s.mu.Lock()
	if runID != s.runID {
		s.mu.Unlock()
		return
	}
	s.segments = segments
	s.qualityWarning = o.collab.Transcription.QualityWarning()
	warn := s.qualityWarning
	s.mu.Unlock()
	if warn {
		o.events.Error("low_audio_quality", "recording was quiet or clipped; transcript may be unreliable", true)
	}

	o.events.PipelineProgress(StageMetrics, runID)
	m, err := o.collab.Metrics.Extract(segments)
	if err != nil {
		log.Printf("[%s] metrics extraction failed: %v", s.ID, err)
	}

	s.mu.Lock()
	if runID != s.runID {
		s.mu.Unlock()
		return
	}
	s.metrics = m
	s.haveMetrics = err == nil
	// A deliver that raced ahead of transcription already owns this
	// generation's pipeline; starting the eager run as well would double it.
	if s.state == StateProcessing {
		o.startEagerLocked(runID)
	}
	s.mu.Unlock()
}

// GenerateEvaluation resolves the deliver request: Processing → Delivering,
// then serve the eager cache, await the in-flight eager run, or fall back to
// the synchronous pipeline, in that order. It returns the synthesized audio
// buffer that was (or would be) pushed to the client. A deliver arriving
// while already Delivering is a silent no-op.
func (o *Orchestrator) GenerateEvaluation(ctx context.Context) ([]byte, error) {
	s := o.sess
	s.mu.Lock()
	if s.state == StateDelivering {
		s.mu.Unlock()
		return nil, nil
	}
	if err := s.transitionLocked("deliver_evaluation", StateProcessing, StateDelivering); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	runID := s.runID
	s.touchLocked()

	// Cache-hit branch: the eager run already committed for this generation.
	if s.cacheValidLocked() {
		bundle := s.evaluationCache
		s.ttsAudioCache = bundle.Audio
		s.mu.Unlock()
		o.events.StateChanged(StateDelivering)
		o.serveBundle(bundle)
		return bundle.Audio, nil
	}

	// In-flight branch: snapshot the task handle and runID before awaiting.
	task := s.eagerTask
	inFlight := task != nil && (s.eagerStatus == EagerGenerating || s.eagerStatus == EagerSynthesizing)
	s.mu.Unlock()
	o.events.StateChanged(StateDelivering)

	if inFlight {
		task.wait() // guaranteed to settle; failure lives in the result
		s.mu.Lock()
		if runID == s.runID && s.cacheValidLocked() {
			bundle := s.evaluationCache
			s.ttsAudioCache = bundle.Audio
			s.mu.Unlock()
			o.serveBundle(bundle)
			return bundle.Audio, nil
		}
		s.mu.Unlock()
	}

	// Synchronous fallback: run the full chain inline with the same
	// checkpoints the eager path uses.
	bundle, err := o.buildBundle(ctx, runID, func(stage string) {
		o.events.PipelineProgress(stage, runID)
	})
	if errors.Is(err, errStale) {
		log.Printf("[%s] discarding stale delivery (run %d)", s.ID, runID)
		return nil, nil
	}
	if err != nil {
		// Surface it and hand the session back to Processing so the operator
		// can retry, unless a newer run took over meanwhile.
		s.mu.Lock()
		if runID == s.runID && s.state == StateDelivering {
			s.state = StateProcessing
		}
		st := s.state
		s.mu.Unlock()
		o.events.Error("generation_failed", err.Error(), true)
		o.events.StateChanged(st)
		return nil, err
	}

	s.mu.Lock()
	if runID != s.runID {
		s.mu.Unlock()
		log.Printf("[%s] discarding stale delivery result (run %d)", s.ID, runID)
		return nil, nil
	}
	s.evaluationCache = bundle
	s.ttsAudioCache = bundle.Audio
	s.mu.Unlock()
	o.serveBundle(bundle)
	return bundle.Audio, nil
}

// buildBundle runs generate → render → tone-check → trim → redact →
// synthesize under the captured runID, comparing against the live counter
// after every suspension point. The bundle is assembled off to the side and
// only ever committed whole.
func (o *Orchestrator) buildBundle(ctx context.Context, runID uint64, onStage func(stage string)) (*EvaluationBundle, error) {
	s := o.sess
	s.mu.Lock()
	if runID != s.runID {
		s.mu.Unlock()
		return nil, errStale
	}
	segments := s.segments
	var m Metrics
	if s.haveMetrics {
		m = s.metrics
	}
	s.mu.Unlock()

	onStage(StageGenerating)
	ev, err := o.collab.Generator.Generate(ctx, segments, m)
	if err != nil {
		return nil, fmt.Errorf("generate evaluation: %w", err)
	}
	if s.RunID() != runID {
		return nil, errStale
	}

	onStage(StageToneCheck)
	script := o.collab.Generator.RenderScript(ev, m)
	if violations := o.collab.Tone.Check(script); len(violations) > 0 {
		log.Printf("[%s] tone check: stripping %d violation(s)", s.ID, len(violations))
		script = o.collab.Tone.StripViolations(script, violations)
	}
	script = o.collab.Tone.AppendScopeAcknowledgment(script, m, s.TimeLimitSeconds())

	onStage(StageTrimming)
	script = o.collab.TTS.TrimToFit(script, o.maxSpeakSeconds)
	spoken := o.collab.Tone.StripMarkers(script)
	if s.RunID() != runID {
		return nil, errStale
	}

	onStage(StageSynthesizing)
	audio, synthErr := o.collab.TTS.Synthesize(ctx, spoken)
	if synthErr != nil {
		// Non-fatal: deliver the written evaluation without audio.
		log.Printf("[%s] tts synthesis failed, delivering written script only: %v", s.ID, synthErr)
		audio = nil
	}
	if s.RunID() != runID {
		return nil, errStale
	}

	return &EvaluationBundle{
		RunID:      runID,
		Evaluation: ev,
		Script:     spoken,
		Audio:      audio,
		Public:     o.collab.Generator.Redact(ev),
	}, nil
}

func (o *Orchestrator) serveBundle(b *EvaluationBundle) {
	o.events.PipelineProgress(StageReady, b.RunID)
	o.events.EvaluationReady(b.Public, b.Script, len(b.Audio) > 0)
	if len(b.Audio) > 0 {
		o.events.TTSAudio(b.Audio)
	}
	o.events.TTSComplete()
}

// CompleteDelivery closes the cycle: Delivering → Idle. Persistence, when
// configured, runs best-effort in the background.
func (o *Orchestrator) CompleteDelivery(ctx context.Context) error {
	s := o.sess
	s.mu.Lock()
	if err := s.transitionLocked("complete_delivery", StateDelivering, StateIdle); err != nil {
		s.mu.Unlock()
		return err
	}
	s.touchLocked()
	snap := Snapshot{
		SessionID: s.ID,
		Segments:  append([]Segment(nil), s.segments...),
		Metrics:   s.metrics,
	}
	if s.evaluationCache != nil {
		snap.Evaluation = s.evaluationCache.Evaluation
		snap.Script = s.evaluationCache.Script
		snap.Audio = s.evaluationCache.Audio
	}
	s.mu.Unlock()

	o.events.StateChanged(StateIdle)
	if o.collab.Persist != nil {
		go func() {
			paths, err := o.collab.Persist.SaveSession(ctx, snap)
			if err != nil {
				log.Printf("[%s] save session: %v", s.ID, err)
				return
			}
			log.Printf("[%s] session saved: transcript=%s evaluation=%s audio=%s",
				s.ID, paths.Transcript, paths.Evaluation, paths.Audio)
		}()
	}
	return nil
}

// PanicMute drops the session to Idle from any state and starves everything
// in flight by moving the counter. The replayable audio cache survives; only
// a new recording or a purge clears it.
func (o *Orchestrator) PanicMute() {
	s := o.sess
	s.mu.Lock()
	prev := s.state
	s.state = StateIdle
	s.bumpRunIDLocked()
	s.eagerStatus = EagerIdle
	s.touchLocked()
	s.mu.Unlock()

	if prev == StateRecording {
		if err := o.collab.Transcription.StopLive(); err != nil {
			log.Printf("[%s] stop live captioning on panic: %v", s.ID, err)
		}
	}
	log.Printf("[%s] panic mute from %s", s.ID, prev)
	o.events.StateChanged(StateIdle)
}

// ReplayTTS replays the cached clip. Idle → Delivering is not part of the
// primary cycle, so it is guarded here by explicit preconditions instead of
// the generic transition validator; Delivering is re-used purely to suppress
// audio feedback while the clip plays.
func (o *Orchestrator) ReplayTTS() ([]byte, error) {
	s := o.sess
	s.mu.Lock()
	if s.state != StateIdle {
		err := &InvalidTransitionError{Op: "replay_tts", Expected: StateIdle, Actual: s.state}
		s.mu.Unlock()
		return nil, err
	}
	if len(s.ttsAudioCache) == 0 {
		s.mu.Unlock()
		return nil, ErrNothingToReplay
	}
	audio := s.ttsAudioCache
	s.state = StateDelivering
	s.touchLocked()
	s.mu.Unlock()

	o.events.StateChanged(StateDelivering)
	o.events.TTSAudio(audio)
	o.events.TTSComplete()
	return audio, nil
}

// SetTimeLimit changes the speaking-time limit. While Processing this makes
// any cached or in-flight evaluation stale, so the counter moves; the eager
// task is not interrupted, only starved of permission to commit.
func (o *Orchestrator) SetTimeLimit(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("time limit must be positive, got %d", seconds)
	}
	s := o.sess
	s.mu.Lock()
	s.timeLimitSeconds = seconds
	if s.state == StateProcessing {
		s.bumpRunIDLocked()
		s.eagerStatus = EagerIdle
	}
	s.touchLocked()
	s.mu.Unlock()
	return nil
}

// Purge discards all session data, including the replayable audio cache, and
// returns the session to Idle. Used by the idle sweep and on disconnect.
func (o *Orchestrator) Purge() {
	s := o.sess
	s.mu.Lock()
	s.bumpRunIDLocked()
	s.resetCycleLocked()
	s.state = StateIdle
	s.mu.Unlock()
	log.Printf("[%s] session data purged", s.ID)
}

// onLiveCaption forwards live recognition to the client and accumulates
// finalized utterances as fallback segments. Captions from a superseded run
// are dropped, mirroring how the client drops stale pipeline progress.
func (o *Orchestrator) onLiveCaption(runID uint64) func(text string, final bool) {
	return func(text string, final bool) {
		s := o.sess
		s.mu.Lock()
		if s.runID != runID || s.state != StateRecording {
			s.mu.Unlock()
			return
		}
		if final {
			end := time.Since(s.recordingStartedAt).Milliseconds()
			start := int64(0)
			if n := len(s.liveSegments); n > 0 {
				start = s.liveSegments[n-1].EndMS
			}
			s.liveSegments = append(s.liveSegments, Segment{Text: text, StartMS: start, EndMS: end})
		}
		s.mu.Unlock()
		if text != "" {
			o.events.Caption(text)
		}
	}
}

// tickElapsed emits a once-per-second elapsed counter while the recording
// that started it is still the live one.
func (o *Orchestrator) tickElapsed(runID uint64) {
	s := o.sess
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		if s.runID != runID || s.state != StateRecording {
			s.mu.Unlock()
			return
		}
		secs := int(time.Since(s.recordingStartedAt).Seconds())
		limit := s.timeLimitSeconds
		s.mu.Unlock()
		o.events.Elapsed(secs)
		if limit > 0 && secs == limit {
			log.Printf("[%s] speaking time limit reached (%ds)", s.ID, limit)
			o.events.Error("time_limit_reached", fmt.Sprintf("speaking time limit of %ds reached", limit), true)
		}
	}
}
