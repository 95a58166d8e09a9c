package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rservant/speech-evaluator-sub004/internal/config"
	"github.com/rservant/speech-evaluator-sub004/internal/session"
)

func TestServer_Healthz(t *testing.T) {
	srv := New(config.Config{TimeLimitSeconds: 120})
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

// Stub collaborators for websocket tests. Everything succeeds instantly.
type stubSTT struct{}

func (stubSTT) StartLive(_ context.Context, _ func(string, bool)) error { return nil }
func (stubSTT) FeedAudio(_ []byte) error                                { return nil }
func (stubSTT) StopLive() error                                         { return nil }
func (stubSTT) Finalize(_ context.Context, _ []byte) ([]session.Segment, error) {
	return []session.Segment{{Text: "hello judges", StartMS: 0, EndMS: 1500}}, nil
}
func (stubSTT) QualityWarning() bool { return false }

type stubMetrics struct{}

func (stubMetrics) Extract(_ []session.Segment) (session.Metrics, error) {
	return session.Metrics{WordCount: 2, DurationSeconds: 1.5}, nil
}

type stubGen struct{}

func (stubGen) Generate(_ context.Context, _ []session.Segment, _ session.Metrics) (session.Evaluation, error) {
	return session.Evaluation{Summary: "well structured"}, nil
}
func (stubGen) RenderScript(ev session.Evaluation, _ session.Metrics) string { return ev.Summary }
func (stubGen) Redact(ev session.Evaluation) session.PublicEvaluation {
	return session.PublicEvaluation{Summary: ev.Summary}
}

type stubTone struct{}

func (stubTone) Check(string) []string                            { return nil }
func (stubTone) StripViolations(s string, _ []string) string      { return s }
func (stubTone) StripMarkers(s string) string                     { return s }
func (stubTone) AppendScopeAcknowledgment(s string, _ session.Metrics, _ int) string {
	return s
}

type stubTTS struct{}

func (stubTTS) TrimToFit(s string, _ int) string { return s }
func (stubTTS) Synthesize(_ context.Context, _ string) ([]byte, error) {
	return []byte{0xAA, 0xBB}, nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(config.Config{TimeLimitSeconds: 120, MaxSpeakSeconds: 90})
	srv.collab = func() session.Collaborators {
		return session.Collaborators{
			Transcription: stubSTT{},
			Metrics:       stubMetrics{},
			Generator:     stubGen{},
			Tone:          stubTone{},
			TTS:           stubTTS{},
		}
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

// waitForFrame reads frames until a JSON one with the wanted type arrives.
// Binary frames seen along the way are returned through gotBinary.
func waitForFrame(t *testing.T, conn *websocket.Conn, wantType string, gotBinary *[][]byte) map[string]any {
	t.Helper()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", wantType, err)
		}
		if mt == websocket.BinaryMessage {
			if gotBinary != nil {
				*gotBinary = append(*gotBinary, data)
			}
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("bad frame %q: %v", string(data), err)
		}
		if frame["type"] == wantType {
			return frame
		}
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, v string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(v)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWS_FullSessionCycle(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts)

	ready := waitForFrame(t, conn, "session_ready", nil)
	if ready["session_id"] == "" {
		t.Fatalf("missing session id: %v", ready)
	}
	if ready["time_limit_seconds"].(float64) != 120 {
		t.Fatalf("unexpected time limit: %v", ready)
	}

	sendJSON(t, conn, `{"type":"start_recording"}`)
	frame := waitForFrame(t, conn, "state_change", nil)
	if frame["state"] != "recording" {
		t.Fatalf("expected recording, got %v", frame)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 320)); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	sendJSON(t, conn, `{"type":"stop_recording"}`)
	frame = waitForFrame(t, conn, "state_change", nil)
	if frame["state"] != "processing" {
		t.Fatalf("expected processing, got %v", frame)
	}

	sendJSON(t, conn, `{"type":"deliver_evaluation"}`)
	var audio [][]byte
	frame = waitForFrame(t, conn, "evaluation_ready", &audio)
	evo := frame["evaluation"].(map[string]any)
	if evo["summary"] != "well structured" {
		t.Fatalf("unexpected evaluation: %v", frame)
	}
	if frame["has_audio"] != true {
		t.Fatalf("expected audio, got %v", frame)
	}
	waitForFrame(t, conn, "tts_complete", &audio)
	if len(audio) != 1 || len(audio[0]) != 2 {
		t.Fatalf("expected one audio frame, got %v", audio)
	}

	sendJSON(t, conn, `{"type":"complete_delivery"}`)
	frame = waitForFrame(t, conn, "state_change", nil)
	if frame["state"] != "idle" {
		t.Fatalf("expected idle, got %v", frame)
	}

	// The clip replays from cache without resynthesis.
	sendJSON(t, conn, `{"type":"replay_tts"}`)
	audio = nil
	waitForFrame(t, conn, "tts_complete", &audio)
	if len(audio) != 1 {
		t.Fatalf("expected replayed audio frame, got %d", len(audio))
	}
}

func TestWS_BadFramesGetErrorResponses(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialWS(t, ts)
	waitForFrame(t, conn, "session_ready", nil)

	sendJSON(t, conn, `not json`)
	frame := waitForFrame(t, conn, "error", nil)
	if frame["code"] != "bad_request" {
		t.Fatalf("unexpected error frame: %v", frame)
	}

	sendJSON(t, conn, `{"type":"replay_tts"}`)
	frame = waitForFrame(t, conn, "error", nil)
	if frame["code"] != "nothing_to_replay" {
		t.Fatalf("unexpected error frame: %v", frame)
	}

	sendJSON(t, conn, `{"type":"stop_recording"}`)
	frame = waitForFrame(t, conn, "error", nil)
	if frame["code"] != "invalid_transition" {
		t.Fatalf("unexpected error frame: %v", frame)
	}
}

func TestWS_DisconnectEvictsSession(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dialWS(t, ts)
	waitForFrame(t, conn, "session_ready", nil)
	if srv.Store().Len() != 1 {
		t.Fatalf("expected 1 live session, got %d", srv.Store().Len())
	}
	_ = conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Store().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not evicted after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
