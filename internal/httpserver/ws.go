package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/rservant/speech-evaluator-sub004/internal/protocol"
	"github.com/rservant/speech-evaluator-sub004/internal/session"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for demo use; restrict in production
		return true
	},
}

// handleWS upgrades the connection and runs one session over it. The read
// loop dispatches commands in arrival order and never blocks on a
// collaborator; delivery runs in its own goroutine and reports through the
// event stream.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return nil
	}

	sess := s.store.Create()
	ev := newWSEvents(conn)
	orch := session.NewOrchestrator(sess, s.collab(), ev, s.cfg.MaxSpeakSeconds)
	log.Printf("[%s] session connected", sess.ID)

	defer func() {
		orch.Purge()
		s.store.Evict(sess.ID)
		ev.close()
		_ = conn.Close()
		log.Printf("[%s] session disconnected", sess.ID)
	}()

	ev.send(protocol.NewSessionReady(sess.ID, sess.TimeLimitSeconds()))

	ctx := c.Request().Context()
	for {
		mt, data, rerr := conn.ReadMessage()
		if rerr != nil {
			if websocket.IsUnexpectedCloseError(rerr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[%s] ws read error: %v", sess.ID, rerr)
			}
			return nil
		}
		switch mt {
		case websocket.BinaryMessage:
			orch.FeedAudio(data)
		case websocket.TextMessage:
			s.dispatch(ctx, orch, ev, data)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, orch *session.Orchestrator, ev *wsEvents, data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			ev.Error(de.Code, de.Error(), true)
		} else {
			ev.Error("bad_request", err.Error(), true)
		}
		return
	}

	switch m := msg.(type) {
	case protocol.StartRecording:
		err = orch.StartRecording(ctx)
	case protocol.StopRecording:
		err = orch.StopRecording(ctx)
	case protocol.DeliverEvaluation:
		// Blocking resolver; failures surface through the event stream.
		go func() { _, _ = orch.GenerateEvaluation(context.Background()) }()
	case protocol.CompleteDelivery:
		err = orch.CompleteDelivery(ctx)
	case protocol.ReplayTTS:
		_, err = orch.ReplayTTS()
	case protocol.PanicMute:
		orch.PanicMute()
	case protocol.SetTimeLimit:
		err = orch.SetTimeLimit(m.Seconds)
	}
	if err != nil {
		ev.Error(commandErrorCode(err), err.Error(), true)
	}
}

func commandErrorCode(err error) string {
	var ite *session.InvalidTransitionError
	switch {
	case errors.As(err, &ite):
		return "invalid_transition"
	case errors.Is(err, session.ErrNothingToReplay):
		return "nothing_to_replay"
	default:
		return "bad_request"
	}
}

type outFrame struct {
	binary bool
	data   []byte
}

// wsEvents serializes all writes to the connection through one goroutine.
// Event methods are called from the read loop, the elapsed ticker, and
// pipeline goroutines.
type wsEvents struct {
	out    chan outFrame
	closed chan struct{}
}

func newWSEvents(conn *websocket.Conn) *wsEvents {
	e := &wsEvents{
		out:    make(chan outFrame, 256),
		closed: make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-e.closed:
				return
			case f := <-e.out:
				mt := websocket.TextMessage
				if f.binary {
					mt = websocket.BinaryMessage
				}
				if err := conn.WriteMessage(mt, f.data); err != nil {
					log.Printf("ws write error: %v", err)
					return
				}
			}
		}
	}()
	return e
}

func (e *wsEvents) close() { close(e.closed) }

func (e *wsEvents) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("ws marshal error: %v", err)
		return
	}
	e.enqueue(outFrame{data: data})
}

func (e *wsEvents) enqueue(f outFrame) {
	select {
	case e.out <- f:
	case <-e.closed:
	}
}

func (e *wsEvents) StateChanged(st session.State) {
	e.send(protocol.NewStateChange(string(st)))
}

func (e *wsEvents) Caption(text string) {
	e.send(protocol.NewCaption(text))
}

func (e *wsEvents) PipelineProgress(stage string, runID uint64) {
	e.send(protocol.NewPipelineProgress(stage, runID))
}

func (e *wsEvents) EvaluationReady(view session.PublicEvaluation, script string, hasAudio bool) {
	e.send(protocol.NewEvaluationReady(protocol.EvaluationView{
		Summary:      view.Summary,
		Strengths:    view.Strengths,
		Improvements: view.Improvements,
		PassRate:     view.PassRate,
	}, script, hasAudio))
}

func (e *wsEvents) TTSAudio(audio []byte) {
	e.enqueue(outFrame{binary: true, data: audio})
}

func (e *wsEvents) TTSComplete() {
	e.send(protocol.NewTTSComplete())
}

func (e *wsEvents) Elapsed(seconds int) {
	e.send(protocol.NewElapsed(seconds))
}

func (e *wsEvents) Error(code, message string, recoverable bool) {
	e.send(protocol.NewServerError(code, message, recoverable))
}
