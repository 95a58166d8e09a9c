package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeferral_IdleDuringPlaybackIsDeferred(t *testing.T) {
	d := NewDeferral()
	d.OnServerState(UIDelivering)
	token := d.StartPlayback()

	d.OnServerState(UIIdle)
	require.Equal(t, UIDelivering, d.UIState(), "idle must wait for playback")
	require.True(t, d.Playing())

	d.FinishPlayback(token)
	require.Equal(t, UIIdle, d.UIState())
	require.False(t, d.Playing())
	require.Nil(t, d.deferred)
	require.Nil(t, d.latched)
}

func TestDeferral_IdleBeforeClipAudioIsLatched(t *testing.T) {
	d := NewDeferral()
	d.OnServerState(UIDelivering)

	// The server announces Idle before the clip's first audio frame lands.
	d.OnServerState(UIIdle)
	require.Equal(t, UIDelivering, d.UIState(), "idle must latch, not apply")
	require.NotNil(t, d.latched)

	// Playback starting converts the latch into a deferral for this clip,
	// so the UI never shows Idle under running audio.
	token := d.StartPlayback()
	require.True(t, d.Playing())
	require.NotEqual(t, UIIdle, d.UIState())
	require.Nil(t, d.latched)
	require.NotNil(t, d.deferred)

	d.FinishPlayback(token)
	require.Equal(t, UIIdle, d.UIState())
}

func TestDeferral_DuplicateIdleAnnouncementsAreNoOps(t *testing.T) {
	d := NewDeferral()
	d.OnServerState(UIDelivering)
	token := d.StartPlayback()

	d.OnServerState(UIIdle)
	first := *d.deferred
	d.OnServerState(UIIdle)
	d.OnServerState(UIIdle)
	require.Equal(t, first, *d.deferred, "duplicates must not replace the marker")
	require.Equal(t, token, d.playbackToken)
	require.Equal(t, UIDelivering, d.UIState())

	d.FinishPlayback(token)
	require.Equal(t, UIIdle, d.UIState())
	require.Equal(t, 1, d.cooldownStarts)
}

func TestDeferral_StaleLatchDiscardedOnPlaybackStart(t *testing.T) {
	d := NewDeferral()
	d.uiState = UIDelivering
	d.latched = &pendingIdle{tokenAtLatch: 5}

	// The latch belongs to a much older announcement; this clip must not
	// inherit it.
	token := d.StartPlayback()
	require.Nil(t, d.latched)
	require.Nil(t, d.deferred)

	d.FinishPlayback(token)
	require.Equal(t, UIDelivering, d.UIState(), "stale latch must never apply")
}

func TestDeferral_LateOrWrongTokenFinishIgnored(t *testing.T) {
	d := NewDeferral()
	d.OnServerState(UIDelivering)
	token := d.StartPlayback()
	d.OnServerState(UIIdle)

	d.FinishPlayback(token - 1)
	require.True(t, d.Playing(), "wrong token must not end the clip")
	require.Equal(t, UIDelivering, d.UIState())

	d.FinishPlayback(token)
	require.Equal(t, UIIdle, d.UIState())

	// Double-finish from a confused player changes nothing.
	d.FinishPlayback(token)
	require.Equal(t, UIIdle, d.UIState())
	require.False(t, d.Playing())
}

func TestDeferral_NonIdleStateClearsPendingIdle(t *testing.T) {
	d := NewDeferral()
	d.OnServerState(UIDelivering)
	token := d.StartPlayback()
	d.OnServerState(UIIdle)

	// A new recording starts before playback finishes.
	d.OnServerState(UIRecording)
	require.Equal(t, UIRecording, d.UIState())
	require.Nil(t, d.deferred)

	d.FinishPlayback(token)
	require.Equal(t, UIRecording, d.UIState(), "cleared marker must not fire")

	// Same for a latch set before any audio arrived.
	d.OnServerState(UIDelivering)
	d.OnServerState(UIIdle)
	require.NotNil(t, d.latched)
	d.OnServerState(UIRecording)
	require.Nil(t, d.latched)
}

func TestDeferral_ApplyLatchedIdleResolvesAudiolessDelivery(t *testing.T) {
	d := NewDeferral()
	d.OnServerState(UIDelivering)

	// Synthesis failed, so no clip will ever arrive for this delivery; the
	// Idle latches and the caller resolves it explicitly.
	d.OnServerState(UIIdle)
	require.Equal(t, UIDelivering, d.UIState())

	d.ApplyLatchedIdle()
	require.Equal(t, UIIdle, d.UIState())
	require.Nil(t, d.latched)
	require.Equal(t, 1, d.cooldownStarts)

	// Without a latch it is a no-op.
	d.OnServerState(UIRecording)
	d.ApplyLatchedIdle()
	require.Equal(t, UIRecording, d.UIState())
}

func TestDeferral_ApplyLatchedIdleNoOpWhilePlaying(t *testing.T) {
	d := NewDeferral()
	d.OnServerState(UIDelivering)
	d.OnServerState(UIIdle)
	token := d.StartPlayback()

	d.ApplyLatchedIdle()
	require.Equal(t, UIDelivering, d.UIState(), "idle must never apply under audio")

	d.FinishPlayback(token)
	require.Equal(t, UIIdle, d.UIState())
}

func TestDeferral_ForceStopClearsEverything(t *testing.T) {
	d := NewDeferral()
	d.OnServerState(UIDelivering)
	token := d.StartPlayback()
	d.OnServerState(UIIdle)

	d.ForceStop()
	require.Equal(t, UIIdle, d.UIState())
	require.False(t, d.Playing())
	require.Nil(t, d.deferred)
	require.Nil(t, d.latched)

	// The token moved, so a late finish for the cut-off clip is a no-op.
	d.FinishPlayback(token)
	require.Equal(t, UIIdle, d.UIState())
	require.False(t, d.Playing())
}

func TestDeferral_CooldownStartsOncePerAppliedIdle(t *testing.T) {
	d := NewDeferral()
	d.OnServerState(UIDelivering)
	token := d.StartPlayback()
	d.OnServerState(UIIdle)
	require.Equal(t, 0, d.cooldownStarts, "cooldown must wait for the clip")
	require.False(t, d.InCooldown())

	d.FinishPlayback(token)
	require.Equal(t, 1, d.cooldownStarts)
	require.True(t, d.InCooldown())

	// A late finish must not restart it.
	d.FinishPlayback(token)
	require.Equal(t, 1, d.cooldownStarts)
}

func TestDeferral_InvariantPlayingNeverShowsIdle(t *testing.T) {
	d := NewDeferral()
	d.OnServerState(UIDelivering)

	// Idle ahead of the clip, then a barrage of duplicates mid-clip: the UI
	// must not show Idle while audio runs.
	d.OnServerState(UIIdle)
	token := d.StartPlayback()
	for i := 0; i < 5; i++ {
		d.OnServerState(UIIdle)
		require.NotEqual(t, UIIdle, d.UIState())
		require.Nil(t, d.latched, "no dangling latch while deferred")
	}
	d.FinishPlayback(token)
	require.Equal(t, UIIdle, d.UIState())
	require.Nil(t, d.latched)
}
