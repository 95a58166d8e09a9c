// Package protocol defines the JSON message frames exchanged over the
// session websocket. Recorded audio travels upstream as binary frames and
// synthesized audio travels downstream the same way; everything else is a
// typed JSON frame with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// Client frame types.
const (
	TypeStartRecording    = "start_recording"
	TypeStopRecording     = "stop_recording"
	TypeDeliverEvaluation = "deliver_evaluation"
	TypeCompleteDelivery  = "complete_delivery"
	TypeReplayTTS         = "replay_tts"
	TypePanicMute         = "panic_mute"
	TypeSetTimeLimit      = "set_time_limit"
)

// Server frame types.
const (
	TypeSessionReady     = "session_ready"
	TypeStateChange      = "state_change"
	TypeCaption          = "caption"
	TypePipelineProgress = "pipeline_progress"
	TypeEvaluationReady  = "evaluation_ready"
	TypeTTSComplete      = "tts_complete"
	TypeElapsed          = "elapsed"
	TypeError            = "error"
)

type StartRecording struct {
	Type string `json:"type"`
}

type StopRecording struct {
	Type string `json:"type"`
}

type DeliverEvaluation struct {
	Type string `json:"type"`
}

type CompleteDelivery struct {
	Type string `json:"type"`
}

type ReplayTTS struct {
	Type string `json:"type"`
}

type PanicMute struct {
	Type string `json:"type"`
}

type SetTimeLimit struct {
	Type    string `json:"type"`
	Seconds int    `json:"seconds"`
}

// DecodeClientMessage parses one inbound JSON frame into its typed form. A
// frame that fails here is the caller's mistake and never touches the
// session; the returned *DecodeError carries the code the error frame should
// echo back.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeStartRecording:
		return StartRecording{Type: typ}, nil
	case TypeStopRecording:
		return StopRecording{Type: typ}, nil
	case TypeDeliverEvaluation:
		return DeliverEvaluation{Type: typ}, nil
	case TypeCompleteDelivery:
		return CompleteDelivery{Type: typ}, nil
	case TypeReplayTTS:
		return ReplayTTS{Type: typ}, nil
	case TypePanicMute:
		return PanicMute{Type: typ}, nil
	case TypeSetTimeLimit:
		var msg SetTimeLimit
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid set_time_limit", "")
		}
		if msg.Seconds <= 0 {
			return nil, badRequest("set_time_limit.seconds must be > 0", "seconds")
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

type SessionReady struct {
	Type             string `json:"type"`
	SessionID        string `json:"session_id"`
	TimeLimitSeconds int    `json:"time_limit_seconds"`
}

type StateChange struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type Caption struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type PipelineProgress struct {
	Type  string `json:"type"`
	Stage string `json:"stage"`
	RunID uint64 `json:"run_id"`
}

type EvaluationView struct {
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	PassRate     float64  `json:"pass_rate"`
}

type EvaluationReady struct {
	Type       string         `json:"type"`
	Evaluation EvaluationView `json:"evaluation"`
	Script     string         `json:"script"`
	HasAudio   bool           `json:"has_audio"`
}

type TTSComplete struct {
	Type string `json:"type"`
}

type Elapsed struct {
	Type    string `json:"type"`
	Seconds int    `json:"seconds"`
}

type ServerError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func NewSessionReady(sessionID string, timeLimitSeconds int) SessionReady {
	return SessionReady{Type: TypeSessionReady, SessionID: sessionID, TimeLimitSeconds: timeLimitSeconds}
}

func NewStateChange(state string) StateChange {
	return StateChange{Type: TypeStateChange, State: state}
}

func NewCaption(text string) Caption {
	return Caption{Type: TypeCaption, Text: text}
}

func NewPipelineProgress(stage string, runID uint64) PipelineProgress {
	return PipelineProgress{Type: TypePipelineProgress, Stage: stage, RunID: runID}
}

func NewEvaluationReady(view EvaluationView, script string, hasAudio bool) EvaluationReady {
	return EvaluationReady{Type: TypeEvaluationReady, Evaluation: view, Script: script, HasAudio: hasAudio}
}

func NewTTSComplete() TTSComplete {
	return TTSComplete{Type: TypeTTSComplete}
}

func NewElapsed(seconds int) Elapsed {
	return Elapsed{Type: TypeElapsed, Seconds: seconds}
}

func NewServerError(code, message string, recoverable bool) ServerError {
	return ServerError{Type: TypeError, Code: code, Message: message, Recoverable: recoverable}
}
