package transcript

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rservant/speech-evaluator-sub004/internal/session"
)

const (
	sampleRate    = 16000
	streamingURL  = "wss://streaming.assemblyai.com/v3/ws"
	uploadURL     = "https://api.assemblyai.com/v2/upload"
	transcriptURL = "https://api.assemblyai.com/v2/transcript"

	// Words separated by more than this gap start a new segment in the
	// finalized transcript.
	segmentGap = 600 * time.Millisecond

	// pollInterval paces the finalize status polling.
	pollInterval = 800 * time.Millisecond
)

// AssemblyAIService transcribes speech two ways: a streaming pass for live
// captions while the speaker talks, and a batch pass over the full recording
// for the authoritative transcript. It also keeps rough voice-energy stats so
// the caller can warn about recordings too quiet or clipped to trust.
type AssemblyAIService struct {
	apiKey string
	client *http.Client

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	audioData chan []byte
	stopCh    chan struct{}
	onCaption func(text string, final bool)

	// energy stats over the whole recording
	statMu       sync.Mutex
	frames       int
	voicedFrames int
	clipped      int
	samples      int
}

// Streaming message shapes, AssemblyAI v3.
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewAssemblyAIService creates a transcription service backed by AssemblyAI.
func NewAssemblyAIService(apiKey string) *AssemblyAIService {
	return &AssemblyAIService{
		apiKey: apiKey,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// StartLive opens the streaming recognition connection. Captions flow to the
// callback from a reader goroutine until StopLive.
func (s *AssemblyAIService) StartLive(_ context.Context, onCaption func(text string, final bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return fmt.Errorf("live transcription already running")
	}
	if s.apiKey == "" {
		return fmt.Errorf("AssemblyAI API key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := fmt.Sprintf("%s?%s", streamingURL, params.Encode())

	headers := map[string][]string{"Authorization": {s.apiKey}}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("AssemblyAI streaming connection failed with status: %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.audioData = make(chan []byte, 1000)
	s.stopCh = make(chan struct{})
	s.onCaption = onCaption
	s.resetStats()

	go s.handleMessages(conn, s.stopCh)
	go s.sendAudioData(conn, s.audioData, s.stopCh)
	return nil
}

// FeedAudio queues a PCM frame for streaming recognition and folds it into
// the energy stats. A full queue drops the frame; live captions are advisory
// and the batch pass sees the frame regardless.
func (s *AssemblyAIService) FeedAudio(pcm []byte) error {
	s.trackEnergy(pcm)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("live transcription not running")
	}
	select {
	case s.audioData <- pcm:
	default:
		log.Println("AssemblyAI audio buffer full, dropping frame")
	}
	return nil
}

// StopLive tears down the streaming connection. Safe to call when not
// running.
func (s *AssemblyAIService) StopLive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.stopCh)
	if s.conn != nil {
		_ = s.conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = s.conn.Close()
	}
	s.connected = false
	s.conn = nil
	s.onCaption = nil
	return nil
}

// Finalize uploads the full recording and runs a batch transcription over it.
// Words are grouped into segments at pauses longer than segmentGap.
func (s *AssemblyAIService) Finalize(ctx context.Context, audio []byte) ([]session.Segment, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("AssemblyAI API key is empty")
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio captured")
	}

	audioURL, err := s.upload(ctx, wrapWAV(audio))
	if err != nil {
		return nil, fmt.Errorf("upload recording: %w", err)
	}
	id, err := s.submit(ctx, audioURL)
	if err != nil {
		return nil, fmt.Errorf("submit transcription: %w", err)
	}
	words, err := s.poll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("transcription %s: %w", id, err)
	}
	return groupWords(words), nil
}

// QualityWarning reports whether the recording looked too quiet or too
// clipped to transcribe reliably.
func (s *AssemblyAIService) QualityWarning() bool {
	s.statMu.Lock()
	defer s.statMu.Unlock()
	if s.frames == 0 {
		return false
	}
	voicedRatio := float64(s.voicedFrames) / float64(s.frames)
	clipRatio := 0.0
	if s.samples > 0 {
		clipRatio = float64(s.clipped) / float64(s.samples)
	}
	return voicedRatio < 0.05 || clipRatio > 0.02
}

func (s *AssemblyAIService) resetStats() {
	s.statMu.Lock()
	s.frames, s.voicedFrames, s.clipped, s.samples = 0, 0, 0, 0
	s.statMu.Unlock()
}

// trackEnergy scans 16-bit little-endian mono PCM for voice energy and
// clipping.
func (s *AssemblyAIService) trackEnergy(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count, clipped := 0, 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		if v == math.MaxInt16 || v == math.MinInt16 {
			clipped++
		}
		count++
	}
	if count == 0 {
		return
	}
	rms := math.Sqrt(sumSquares / float64(count))
	const voiceRMS = 250.0
	s.statMu.Lock()
	s.frames++
	if rms >= voiceRMS {
		s.voicedFrames++
	}
	s.clipped += clipped
	s.samples += count
	s.statMu.Unlock()
}

func (s *AssemblyAIService) handleMessages(conn *websocket.Conn, stopCh chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in handleMessages: %v", r)
		}
	}()
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stopCh:
			default:
				log.Printf("AssemblyAI read error: %v", err)
			}
			return
		}
		s.processMessage(message)
	}
}

func (s *AssemblyAIService) processMessage(message []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}
	switch envelope.Type {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			log.Printf("AssemblyAI session began: ID=%s", msg.ID)
		}
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling Turn message: %v", err)
			return
		}
		if msg.Transcript == "" {
			return
		}
		s.mu.RLock()
		cb := s.onCaption
		s.mu.RUnlock()
		if cb != nil {
			cb(msg.Transcript, msg.EndOfTurn)
		}
	case "Termination":
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			log.Printf("AssemblyAI error: %s", msg.Error)
		}
	default:
		log.Printf("Unknown AssemblyAI message type: %s", envelope.Type)
	}
}

func (s *AssemblyAIService) sendAudioData(conn *websocket.Conn, audioData chan []byte, stopCh chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in sendAudioData: %v", r)
		}
	}()
	for {
		select {
		case <-stopCh:
			return
		case pcm := <-audioData:
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				log.Printf("Error sending audio data: %v", err)
				return
			}
		}
	}
}

func (s *AssemblyAIService) upload(ctx context.Context, wav []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(wav))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload returned %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.UploadURL, nil
}

func (s *AssemblyAIService) submit(ctx context.Context, audioURL string) (string, error) {
	payload, _ := json.Marshal(map[string]any{
		"audio_url":   audioURL,
		"punctuate":   true,
		"format_text": true,
		// Fillers matter for the delivery metrics downstream.
		"disfluencies": true,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, transcriptURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("submit returned %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

type transcriptWord struct {
	Text  string `json:"text"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

func (s *AssemblyAIService) poll(ctx context.Context, id string) ([]transcriptWord, error) {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, transcriptURL+"/"+id, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", s.apiKey)
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		var out struct {
			Status string           `json:"status"`
			Error  string           `json:"error"`
			Words  []transcriptWord `json:"words"`
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		switch out.Status {
		case "completed":
			return out.Words, nil
		case "error":
			return nil, fmt.Errorf("transcription failed: %s", out.Error)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// groupWords folds the word list into segments, breaking at pauses longer
// than segmentGap.
func groupWords(words []transcriptWord) []session.Segment {
	var segments []session.Segment
	var cur *session.Segment
	gapMS := segmentGap.Milliseconds()
	for _, w := range words {
		if cur != nil && w.Start-cur.EndMS <= gapMS {
			cur.Text += " " + w.Text
			cur.EndMS = w.End
			continue
		}
		segments = append(segments, session.Segment{Text: w.Text, StartMS: w.Start, EndMS: w.End})
		cur = &segments[len(segments)-1]
	}
	return segments
}

// wrapWAV prepends a RIFF header for 16-bit mono PCM at the streaming sample
// rate.
func wrapWAV(pcm []byte) []byte {
	buf := make([]byte, 0, 44+len(pcm))
	w := bytes.NewBuffer(buf)
	dataLen := uint32(len(pcm))
	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, 36+dataLen)
	w.WriteString("WAVE")
	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(w, binary.LittleEndian, uint16(1)) // mono
	binary.Write(w, binary.LittleEndian, uint32(sampleRate))
	binary.Write(w, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(w, binary.LittleEndian, uint16(2))
	binary.Write(w, binary.LittleEndian, uint16(16))
	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, dataLen)
	w.Write(pcm)
	return w.Bytes()
}
