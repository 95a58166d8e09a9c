// Package evaluation turns a finalized transcript and its delivery metrics
// into a structured speech evaluation, renders the evaluation into a spoken
// script, and redacts it for the client-facing view.
package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rservant/speech-evaluator-sub004/internal/session"
)

const systemPrompt = `You are an experienced speech evaluator. Given a speech transcript and delivery metrics, produce a JSON evaluation with this exact shape:
{"summary": "...", "strengths": [{"claim": "...", "evidence": "...", "note": "..."}], "improvements": [{"claim": "...", "evidence": "...", "note": "..."}], "pass_rate": 0.0}
Each evidence field must be a verbatim quote from the transcript. Notes are internal reviewer remarks. Give 2-4 strengths and 2-3 improvements. pass_rate is your 0..1 confidence the speech met its objective. Respond with the JSON object only.`

type CerebrasGenerator struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Message      chatMessage `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
}

func NewCerebrasGenerator(apiKey, model string) *CerebrasGenerator {
	return &CerebrasGenerator{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		Model:      model,
	}
}

// Generate asks the model for a structured evaluation of the transcript.
func (c *CerebrasGenerator) Generate(ctx context.Context, segments []session.Segment, m session.Metrics) (session.Evaluation, error) {
	if c.APIKey == "" {
		return session.Evaluation{}, fmt.Errorf("cerebras api key missing")
	}
	raw, err := c.complete(ctx, buildPrompt(segments, m))
	if err != nil {
		return session.Evaluation{}, err
	}
	var ev session.Evaluation
	if err := json.Unmarshal([]byte(extractJSON(raw)), &ev); err != nil {
		return session.Evaluation{}, fmt.Errorf("cerebras: unparseable evaluation: %w", err)
	}
	if ev.Summary == "" {
		return session.Evaluation{}, fmt.Errorf("cerebras: evaluation missing summary")
	}
	return ev, nil
}

// RenderScript flattens the evaluation into the text to be spoken. Pause
// markers ([pause]) survive tone checking and are stripped just before
// synthesis.
func (c *CerebrasGenerator) RenderScript(ev session.Evaluation, m session.Metrics) string {
	var b strings.Builder
	b.WriteString(ev.Summary)
	b.WriteString(" [pause] ")
	if len(ev.Strengths) > 0 {
		b.WriteString("What worked well: ")
		for i, p := range ev.Strengths {
			if i > 0 {
				b.WriteString(" [pause] ")
			}
			b.WriteString(p.Claim)
		}
	}
	if len(ev.Improvements) > 0 {
		b.WriteString(" [pause] Something to work on: ")
		for i, p := range ev.Improvements {
			if i > 0 {
				b.WriteString(" [pause] ")
			}
			b.WriteString(p.Claim)
		}
	}
	if m.WordsPerMinute > 0 {
		b.WriteString(fmt.Sprintf(" [pause] You spoke at about %.0f words per minute.", m.WordsPerMinute))
	}
	return b.String()
}

// Redact strips evidence quotes and internal notes for the client view.
func (c *CerebrasGenerator) Redact(ev session.Evaluation) session.PublicEvaluation {
	out := session.PublicEvaluation{Summary: ev.Summary, PassRate: ev.PassRate}
	for _, p := range ev.Strengths {
		out.Strengths = append(out.Strengths, p.Claim)
	}
	for _, p := range ev.Improvements {
		out.Improvements = append(out.Improvements, p.Claim)
	}
	return out
}

func (c *CerebrasGenerator) complete(ctx context.Context, prompt string) (string, error) {
	endpoint := "https://api.cerebras.ai/v1/chat/completions"
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}

	reqBody, _ := json.Marshal(chatCompletionsRequest{Model: c.Model, Messages: messages})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("cerebras error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("cerebras: empty choices")
	}
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

func buildPrompt(segments []session.Segment, m session.Metrics) string {
	var b strings.Builder
	b.WriteString("Transcript:\n")
	for _, seg := range segments {
		b.WriteString(seg.Text)
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf(
		"\nDelivery metrics: duration %.1fs, %d words, %.0f wpm, %d fillers (rate %.3f), pause ratio %.2f, longest pause %dms.\n",
		m.DurationSeconds, m.WordCount, m.WordsPerMinute, m.FillerCount, m.FillerRate, m.PauseRatio, m.LongestPauseMS))
	return b.String()
}

// extractJSON tolerates models that wrap the object in markdown fences or
// prose.
func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}
