package session

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// errStale marks a result that arrived after its runID was superseded. It is
// discarded silently: a newer operation has already taken over narrating the
// session's state to the operator.
var errStale = errors.New("superseded by a newer run")

// eagerTask is the handle to one in-flight background pipeline run. The
// result is written exactly once before done is closed, so awaiting done and
// then reading res is race-free. The task always settles; failure is encoded
// in the result, never raised to a caller.
type eagerTask struct {
	runID uint64
	done  chan struct{}
	res   eagerResult
}

type eagerResult struct {
	bundle *EvaluationBundle
	err    error
	stale  bool
}

func (t *eagerTask) wait() eagerResult {
	<-t.done
	return t.res
}

// startEagerLocked launches the speculative generation+synthesis run under
// the given runID. Caller holds s.mu. Any previous task is abandoned, not
// interrupted; its captured runID no longer matches, so it cannot commit.
func (o *Orchestrator) startEagerLocked(runID uint64) {
	t := &eagerTask{runID: runID, done: make(chan struct{})}
	o.sess.eagerTask = t
	o.sess.eagerRunID = runID
	o.sess.eagerStatus = EagerGenerating
	go o.runEager(t)
}

func (o *Orchestrator) runEager(t *eagerTask) {
	defer o.settleEager(t)

	bundle, err := o.buildBundle(context.Background(), t.runID, func(stage string) {
		o.setEagerStage(t, stage)
	})

	s := o.sess
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case errors.Is(err, errStale) || t.runID != s.runID:
		t.res = eagerResult{stale: true}
	case err != nil:
		log.Printf("[%s] eager pipeline failed (run %d): %v", s.ID, t.runID, err)
		t.res = eagerResult{err: err}
		if s.eagerTask == t && t.runID == s.runID {
			s.eagerStatus = EagerFailed
		}
	default:
		s.evaluationCache = bundle
		t.res = eagerResult{bundle: bundle}
		if s.eagerTask == t && t.runID == s.runID {
			s.eagerStatus = EagerReady
		}
	}
}

// settleEager closes the task exactly once and clears the session's handle,
// but only if the handle still points at this task; a newer task may have
// replaced it while we ran.
func (o *Orchestrator) settleEager(t *eagerTask) {
	s := o.sess
	if r := recover(); r != nil {
		log.Printf("[%s] eager pipeline panic swallowed (run %d): %v", s.ID, t.runID, r)
		s.mu.Lock()
		t.res = eagerResult{err: fmt.Errorf("eager pipeline panic: %v", r)}
		if s.eagerTask == t && t.runID == s.runID {
			s.eagerStatus = EagerFailed
		}
		s.mu.Unlock()
	}
	close(t.done)
	s.mu.Lock()
	if s.eagerTask == t {
		s.eagerTask = nil
	}
	s.mu.Unlock()
}

// setEagerStage advances eagerStatus as the background run progresses. A
// stale or replaced task is not allowed to touch the status.
func (o *Orchestrator) setEagerStage(t *eagerTask, stage string) {
	s := o.sess
	s.mu.Lock()
	if s.eagerTask == t && t.runID == s.runID && stage == StageSynthesizing {
		s.eagerStatus = EagerSynthesizing
	}
	s.mu.Unlock()
	o.events.PipelineProgress(stage, t.runID)
}
