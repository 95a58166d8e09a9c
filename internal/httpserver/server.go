package httpserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rservant/speech-evaluator-sub004/internal/config"
	"github.com/rservant/speech-evaluator-sub004/internal/evaluation"
	"github.com/rservant/speech-evaluator-sub004/internal/metrics"
	"github.com/rservant/speech-evaluator-sub004/internal/persist"
	"github.com/rservant/speech-evaluator-sub004/internal/session"
	"github.com/rservant/speech-evaluator-sub004/internal/tone"
	"github.com/rservant/speech-evaluator-sub004/internal/transcript"
	"github.com/rservant/speech-evaluator-sub004/internal/tts"
)

// Server bundles the Echo router, the session store, and the collaborator
// factory. Each websocket connection gets its own session and its own
// collaborator set.
type Server struct {
	cfg    config.Config
	store  *session.Store
	echo   *echo.Echo
	collab func() session.Collaborators
}

// New constructs the HTTP server with routes.
func New(cfg config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		cfg:   cfg,
		store: session.NewStore(cfg.TimeLimitSeconds),
		echo:  e,
	}
	s.collab = func() session.Collaborators { return buildCollaborators(cfg) }

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/ws", s.handleWS)
	return s
}

// Router exposes the handler for http.Server and tests.
func (s *Server) Router() http.Handler { return s.echo }

// Store exposes the session store for shutdown sweeps.
func (s *Server) Store() *session.Store { return s.store }

// SweepIdle evicts sessions with no operator activity for longer than
// maxIdle. Run periodically from main.
func (s *Server) SweepIdle(maxIdle time.Duration) {
	for _, sess := range s.store.All() {
		if sess.IdleSince() > maxIdle {
			log.Printf("[%s] evicting idle session (%s)", sess.ID, sess.IdleSince().Round(time.Second))
			s.store.Evict(sess.ID)
		}
	}
}

func buildCollaborators(cfg config.Config) session.Collaborators {
	var primary, fallback tts.Synthesizer
	if cfg.ElevenLabsKey != "" && cfg.ElevenLabsVoiceID != "" {
		primary = tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	}
	if cfg.DeepgramKey != "" {
		dg := tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramVoice)
		if primary == nil {
			primary = dg
		} else {
			fallback = dg
		}
	}
	if primary == nil {
		primary = unavailableSynth{}
	}

	var store session.Persistence
	switch {
	case cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "":
		sb, err := persist.NewSupabaseStore(persist.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			log.Printf("supabase persistence disabled: %v", err)
		} else {
			store = sb
		}
	case cfg.LocalSaveDir != "":
		store = persist.NewLocalStore(cfg.LocalSaveDir)
	}

	return session.Collaborators{
		Transcription: transcript.NewAssemblyAIService(cfg.AssemblyAIKey),
		Metrics:       metrics.NewExtractor(),
		Generator:     evaluation.NewCerebrasGenerator(cfg.CerebrasKey, cfg.CerebrasModelID),
		Tone:          tone.NewChecker(),
		TTS:           tts.NewEngine(primary, fallback),
		Persist:       store,
	}
}

// unavailableSynth stands in when no TTS key is configured. Synthesis failure
// is non-fatal upstream, so evaluations still arrive as text.
type unavailableSynth struct{}

func (unavailableSynth) Synthesize(_ context.Context, _ string) ([]byte, error) {
	return nil, fmt.Errorf("no TTS provider configured")
}
