// Package client holds the connection-side logic of the CLI client: the
// playback deferral state machine and local audio playback bookkeeping.
package client

import (
	"sync"
	"time"
)

// UIState mirrors the server session state for display purposes.
type UIState string

const (
	UIIdle       UIState = "idle"
	UIRecording  UIState = "recording"
	UIProcessing UIState = "processing"
	UIDelivering UIState = "delivering"
)

// idleCooldown is how long the client holds off a new recording after the UI
// settles back to Idle.
const idleCooldown = 500 * time.Millisecond

// deferredIdle postpones an Idle transition until the clip tagged with token
// finishes playing.
type deferredIdle struct {
	token uint64
}

// pendingIdle records an Idle announcement that arrived before the clip it
// pertains to; tokenAtLatch is the playback token at the moment of the
// announcement.
type pendingIdle struct {
	tokenAtLatch uint64
}

// Deferral reconciles server state changes with local audio playback. An Idle
// announcement never applies while its clip could still make noise: under a
// playing clip it becomes a deferred marker tied to that clip's token, and
// ahead of a clip whose audio is still in flight it becomes a latch that
// converts to a deferred marker once playback starts. The token moves when a
// clip begins or a fail-safe fires, so stale markers can never match.
type Deferral struct {
	mu            sync.Mutex
	uiState       UIState
	ttsPlaying    bool
	playbackToken uint64
	deferred      *deferredIdle
	latched       *pendingIdle

	cooldownUntil  time.Time
	cooldownStarts int
}

func NewDeferral() *Deferral {
	return &Deferral{uiState: UIIdle}
}

// UIState returns the state the UI should display.
func (d *Deferral) UIState() UIState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uiState
}

// Playing reports whether a clip is currently playing.
func (d *Deferral) Playing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ttsPlaying
}

// InCooldown reports whether the post-Idle cooldown is still running.
func (d *Deferral) InCooldown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Now().Before(d.cooldownUntil)
}

// OnServerState applies a state announcement. A non-Idle state applies
// immediately and clears any pending Idle bookkeeping. Idle is evaluated in
// order: defer under a playing clip, latch while the clip's audio may still
// be in flight, otherwise apply.
func (d *Deferral) OnServerState(st UIState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st != UIIdle {
		d.uiState = st
		d.deferred = nil
		d.latched = nil
		return
	}
	switch {
	case d.ttsPlaying:
		// Wait for the playing clip. Duplicate announcements are ignored;
		// the first marker wins.
		if d.deferred == nil {
			d.deferred = &deferredIdle{token: d.playbackToken}
		}
	case d.uiState != UIIdle:
		// The clip for this delivery may not have arrived yet; latch the
		// announcement against the current token instead of applying it.
		if d.latched == nil {
			d.latched = &pendingIdle{tokenAtLatch: d.playbackToken}
		}
	default:
		d.applyIdleLocked()
	}
}

// StartPlayback marks a clip as playing, advances the token, and returns the
// new token identifying this clip. A latch set exactly one clip ago means the
// Idle announcement truly preceded this clip, so it converts to a deferred
// marker; any older latch is stale and dropped.
func (d *Deferral) StartPlayback() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playbackToken++
	d.ttsPlaying = true
	d.deferred = nil
	if d.latched != nil {
		if d.latched.tokenAtLatch+1 == d.playbackToken {
			d.deferred = &deferredIdle{token: d.playbackToken}
		}
		d.latched = nil
	}
	return d.playbackToken
}

// FinishPlayback ends the clip identified by token. A late or duplicate end
// event carries a stale token and changes nothing. A deferred Idle tagged
// with this clip applies now.
func (d *Deferral) FinishPlayback(token uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ttsPlaying || token != d.playbackToken {
		return
	}
	d.ttsPlaying = false
	if d.deferred != nil && d.deferred.token == token {
		d.applyIdleLocked()
	}
}

// ApplyLatchedIdle resolves a latched Idle when the caller knows no clip is
// coming to convert it, for example because it acknowledged the delivery
// itself or the delivery carried no audio. A no-op while a clip plays or when
// nothing is latched.
func (d *Deferral) ApplyLatchedIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ttsPlaying || d.latched == nil {
		return
	}
	d.applyIdleLocked()
}

// ForceStop is the fail-safe path: playback broke, the transport dropped, or
// the operator killed it. Everything playback-related is cleared, the token
// moves so nothing stale can ever match, and the UI drops to Idle. The caller
// should surface the written evaluation since the spoken one was cut off.
func (d *Deferral) ForceStop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ttsPlaying = false
	d.deferred = nil
	d.latched = nil
	d.playbackToken++
	d.uiState = UIIdle
}

// applyIdleLocked transitions the UI to Idle, clears all pending Idle
// bookkeeping, and starts the cooldown.
func (d *Deferral) applyIdleLocked() {
	d.uiState = UIIdle
	d.deferred = nil
	d.latched = nil
	d.cooldownUntil = time.Now().Add(idleCooldown)
	d.cooldownStarts++
}
