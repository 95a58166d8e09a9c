package evaluation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rservant/speech-evaluator-sub004/internal/session"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func redirectTo(srv *httptest.Server) *http.Client {
	return &http.Client{Timeout: time.Second, Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		req.URL.Scheme = "http"
		req.URL.Host = srv.Listener.Addr().String()
		return http.DefaultTransport.RoundTrip(req)
	})}
}

var testSegments = []session.Segment{{Text: "good evening everyone", StartMS: 0, EndMS: 2000}}

func TestGenerate_NoKey(t *testing.T) {
	g := NewCerebrasGenerator("", "model")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := g.Generate(ctx, testSegments, session.Metrics{}); err == nil {
		t.Fatalf("expected error with missing key")
	}
}

func TestGenerate_HTTPFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status_non_2xx", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500); _, _ = w.Write([]byte("oops")) }},
		{"bad_json", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("not-json")) }},
		{"empty_choices", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}},
		{"unparseable_evaluation", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"I cannot evaluate this"}}]}`))
		}},
		{"missing_summary", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"pass_rate\":0.5}"}}]}`))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			g := NewCerebrasGenerator("key", "model")
			g.HTTPClient = redirectTo(srv)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if _, err := g.Generate(ctx, testSegments, session.Metrics{}); err == nil {
				t.Fatalf("expected error; got nil")
			}
		})
	}
}

func TestGenerate_ParsesFencedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := "```json\n{\"summary\":\"solid opener\",\"strengths\":[{\"claim\":\"clear structure\",\"evidence\":\"good evening everyone\",\"note\":\"internal\"}],\"improvements\":[],\"pass_rate\":0.8}\n```"
		body := chatCompletionsResponse{Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: content}}}}
		w.WriteHeader(200)
		writeJSON(t, w, body)
	}))
	defer srv.Close()

	g := NewCerebrasGenerator("key", "model")
	g.HTTPClient = redirectTo(srv)
	ev, err := g.Generate(context.Background(), testSegments, session.Metrics{WordCount: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Summary != "solid opener" || len(ev.Strengths) != 1 || ev.PassRate != 0.8 {
		t.Fatalf("unexpected evaluation: %+v", ev)
	}
}

func TestRedact_DropsEvidenceAndNotes(t *testing.T) {
	g := NewCerebrasGenerator("key", "model")
	ev := session.Evaluation{
		Summary: "fine",
		Strengths: []session.EvaluationPoint{
			{Claim: "clear voice", Evidence: "verbatim quote", Note: "internal remark"},
		},
		Improvements: []session.EvaluationPoint{
			{Claim: "slow down", Evidence: "another quote"},
		},
		PassRate: 0.7,
	}
	pub := g.Redact(ev)
	if pub.Summary != "fine" || pub.PassRate != 0.7 {
		t.Fatalf("unexpected public view: %+v", pub)
	}
	if len(pub.Strengths) != 1 || pub.Strengths[0] != "clear voice" {
		t.Fatalf("unexpected strengths: %v", pub.Strengths)
	}
	if len(pub.Improvements) != 1 || pub.Improvements[0] != "slow down" {
		t.Fatalf("unexpected improvements: %v", pub.Improvements)
	}
}

func TestRenderScript_IncludesClaimsAndPace(t *testing.T) {
	g := NewCerebrasGenerator("key", "model")
	ev := session.Evaluation{
		Summary:      "a confident speech",
		Strengths:    []session.EvaluationPoint{{Claim: "strong opening"}},
		Improvements: []session.EvaluationPoint{{Claim: "fewer fillers"}},
	}
	script := g.RenderScript(ev, session.Metrics{WordsPerMinute: 142.4})
	for _, want := range []string{"a confident speech", "strong opening", "fewer fillers", "142 words per minute", "[pause]"} {
		if !strings.Contains(script, want) {
			t.Fatalf("script missing %q:\n%s", want, script)
		}
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode: %v", err)
	}
}
