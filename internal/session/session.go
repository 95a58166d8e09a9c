package session

import (
	"sync"
	"time"
)

// EagerStatus tracks the background pipeline's progress independently of the
// session state.
type EagerStatus string

const (
	EagerIdle         EagerStatus = "idle"
	EagerGenerating   EagerStatus = "generating"
	EagerSynthesizing EagerStatus = "synthesizing"
	EagerReady        EagerStatus = "ready"
	EagerFailed       EagerStatus = "failed"
)

// EvaluationBundle is the immutable product of one pipeline run. It is valid
// if and only if RunID equals the session's current runID. A bundle is built
// off to the side and committed in one assignment, so a partially populated
// bundle is never observable.
type EvaluationBundle struct {
	RunID      uint64
	Evaluation Evaluation
	Script     string
	Audio      []byte
	Public     PublicEvaluation
}

// Session is the per-connection entity. One connection owns one session;
// handlers for that connection and the session's own timers are the only
// mutators. The mutex guards field access; cancellation and commit
// permission come from the runID comparison, never from lock ordering. The
// mutex is never held across a collaborator call.
type Session struct {
	ID string

	mu               sync.Mutex
	state            State
	runID            uint64
	timeLimitSeconds int

	eagerStatus EagerStatus
	eagerRunID  uint64
	eagerTask   *eagerTask

	evaluationCache *EvaluationBundle
	ttsAudioCache   []byte

	// Transient per-cycle fields, overwritten wholesale when a new recording
	// starts.
	audio          []byte
	liveSegments   []Segment
	segments       []Segment
	metrics        Metrics
	haveMetrics    bool
	qualityWarning bool

	recordingStartedAt time.Time
	createdAt          time.Time
	lastActivity       time.Time
}

func newSession(id string, timeLimitSeconds int) *Session {
	now := time.Now()
	return &Session{
		ID:               id,
		state:            StateIdle,
		timeLimitSeconds: timeLimitSeconds,
		eagerStatus:      EagerIdle,
		createdAt:        now,
		lastActivity:     now,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RunID returns the current generation counter. Asynchronous stages capture
// it once at entry and compare at every resumption point.
func (s *Session) RunID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// EagerStatus returns the background pipeline's progress.
func (s *Session) EagerStatus() EagerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eagerStatus
}

// TTSAudioCache returns the last synthesized audio buffer, if any.
func (s *Session) TTSAudioCache() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttsAudioCache
}

// TimeLimitSeconds returns the configured speaking-time limit.
func (s *Session) TimeLimitSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeLimitSeconds
}

// IdleSince reports how long the session has gone without operator activity.
func (s *Session) IdleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// bumpRunIDLocked is the only cancellation primitive. Every in-flight stage
// notices the moved counter at its next checkpoint and discards its result.
func (s *Session) bumpRunIDLocked() uint64 {
	s.runID++
	return s.runID
}

func (s *Session) touchLocked() {
	s.lastActivity = time.Now()
}

// cacheValidLocked reports whether the evaluation cache belongs to the
// current generation.
func (s *Session) cacheValidLocked() bool {
	return s.evaluationCache != nil && s.evaluationCache.RunID == s.runID
}

// resetCycleLocked overwrites all transient per-cycle data. Called when a new
// recording starts; leftover delivery artifacts from the previous cycle are
// discarded here, including the replayable audio cache.
func (s *Session) resetCycleLocked() {
	s.audio = nil
	s.liveSegments = nil
	s.segments = nil
	s.metrics = Metrics{}
	s.haveMetrics = false
	s.qualityWarning = false
	s.evaluationCache = nil
	s.ttsAudioCache = nil
	s.eagerStatus = EagerIdle
}
