package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rservant/speech-evaluator-sub004/internal/client"
)

// The panic command and a transport drop both route through failSafe: the
// playback bookkeeping is cleared, the UI drops to Idle, and late clip-end
// events for the cut-off clip change nothing.
func TestFailSafeForcesIdleAndInvalidatesClip(t *testing.T) {
	app := &clientApp{
		deferral: client.NewDeferral(),
		progress: &client.PlaybackProgress{},
	}
	app.lastScript.Store("script: strong opener")

	app.deferral.OnServerState(client.UIDelivering)
	app.clipToken = app.deferral.StartPlayback()
	app.progress.Start()
	app.deferral.OnServerState(client.UIIdle)

	app.failSafe()
	require.Equal(t, client.UIIdle, app.deferral.UIState())
	require.False(t, app.deferral.Playing())
	_, _, ok := app.progress.Snapshot()
	require.False(t, ok, "playback bookkeeping must stop")

	app.deferral.FinishPlayback(app.clipToken)
	require.Equal(t, client.UIIdle, app.deferral.UIState())
	require.False(t, app.deferral.Playing())
}
