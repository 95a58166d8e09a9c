package client

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

const (
	micSampleRateHz      = 16000
	playbackSampleRateHz = 48000
	pcmBytesPerSample    = 2
)

// PlaybackProgress tracks how much of the current clip has been written to
// the player and estimates how much has actually been heard.
type PlaybackProgress struct {
	mu        sync.Mutex
	active    bool
	sentBytes int64
	startedAt time.Time
}

func (p *PlaybackProgress) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	p.sentBytes = 0
	p.startedAt = time.Now()
}

func (p *PlaybackProgress) AddBytes(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		p.sentBytes += n
	}
}

// Snapshot returns estimated played and buffered milliseconds.
func (p *PlaybackProgress) Snapshot() (playedMS, bufferedMS int64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return 0, 0, false
	}
	sentMS := bytesToMS(p.sentBytes, playbackSampleRateHz)
	elapsedMS := time.Since(p.startedAt).Milliseconds()
	if elapsedMS < 0 {
		elapsedMS = 0
	}
	if elapsedMS > sentMS {
		elapsedMS = sentMS
	}
	return elapsedMS, sentMS - elapsedMS, true
}

// RemainingEstimate reports how long until the buffered audio drains.
func (p *PlaybackProgress) RemainingEstimate() time.Duration {
	_, buffered, ok := p.Snapshot()
	if !ok {
		return 0
	}
	return time.Duration(buffered) * time.Millisecond
}

func (p *PlaybackProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	p.sentBytes = 0
	p.startedAt = time.Time{}
}

func bytesToMS(bytes int64, sampleRate int64) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return (bytes * 1000) / (sampleRate * pcmBytesPerSample)
}

// MicCapture reads 16-bit mono PCM from the default input device via ffmpeg.
type MicCapture struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func NewMicCapture() (*MicCapture, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for mic capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := micFFmpegArgs(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}
	return &MicCapture{cmd: cmd, stdout: stdout}, nil
}

func micFFmpegArgs(goos string) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", micSampleRateHz),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("mic capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

func (m *MicCapture) Read(p []byte) (int, error) {
	if m == nil || m.stdout == nil {
		return 0, io.EOF
	}
	return m.stdout.Read(p)
}

func (m *MicCapture) Close() error {
	if m == nil {
		return nil
	}
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	return nil
}

// PCMPlayer plays 16-bit mono PCM through ffplay.
type PCMPlayer struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func NewPCMPlayer() (*PCMPlayer, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	player := &PCMPlayer{}
	if err := player.startLocked(); err != nil {
		return nil, err
	}
	return player, nil
}

func (p *PCMPlayer) startLocked() error {
	p.cmd = exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", playbackSampleRateHz),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	p.cmd.Stdout = io.Discard
	p.cmd.Stderr = io.Discard
	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	p.stdin = stdin
	return nil
}

func (p *PCMPlayer) Write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return errors.New("ffplay stdin is not initialized")
	}
	_, err := p.stdin.Write(data)
	return err
}

// Reset kills the player mid-clip and restarts it for the next one.
func (p *PCMPlayer) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	p.stdin = nil
	return p.startLocked()
}

func (p *PCMPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	p.stdin = nil
	return nil
}
