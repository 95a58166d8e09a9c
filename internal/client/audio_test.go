package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlaybackProgress(t *testing.T) {
	p := &PlaybackProgress{}
	if _, _, ok := p.Snapshot(); ok {
		t.Fatalf("inactive tracker must not report progress")
	}

	p.Start()
	// 1 second of 48kHz 16-bit mono
	p.AddBytes(playbackSampleRateHz * pcmBytesPerSample)
	played, buffered, ok := p.Snapshot()
	require.True(t, ok)
	require.LessOrEqual(t, played, int64(1000))
	require.Equal(t, int64(1000), played+buffered)

	p.Finish()
	_, _, ok = p.Snapshot()
	require.False(t, ok)
}

func TestBytesToMS(t *testing.T) {
	require.Equal(t, int64(1000), bytesToMS(playbackSampleRateHz*pcmBytesPerSample, playbackSampleRateHz))
	require.Equal(t, int64(0), bytesToMS(100, 0))
}

func TestMicFFmpegArgs(t *testing.T) {
	for _, goos := range []string{"darwin", "linux"} {
		args, err := micFFmpegArgs(goos)
		require.NoError(t, err)
		require.NotEmpty(t, args)
	}
	_, err := micFFmpegArgs("windows")
	require.Error(t, err)
}
