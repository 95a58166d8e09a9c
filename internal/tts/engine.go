// Package tts synthesizes evaluation scripts into PCM audio and trims
// scripts that would run too long when spoken.
package tts

import (
	"context"
	"log"
	"strings"
)

// wordsPerSecond is the assumed synthesis speaking rate used by TrimToFit.
const wordsPerSecond = 2.6

// Synthesizer is one speech provider.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Engine fronts a primary provider with an optional fallback. The fallback
// only runs when the primary fails outright; a degraded clip from the
// primary is preferred over a voice change mid-session.
type Engine struct {
	primary  Synthesizer
	fallback Synthesizer
}

func NewEngine(primary, fallback Synthesizer) *Engine {
	return &Engine{primary: primary, fallback: fallback}
}

func (e *Engine) Synthesize(ctx context.Context, script string) ([]byte, error) {
	audio, err := e.primary.Synthesize(ctx, script)
	if err == nil {
		return audio, nil
	}
	if e.fallback == nil {
		return nil, err
	}
	log.Printf("tts: primary synthesis failed, trying fallback: %v", err)
	return e.fallback.Synthesize(ctx, script)
}

// TrimToFit cuts the script at sentence boundaries so its estimated spoken
// length fits maxSeconds. At least one sentence always survives, even when
// it alone exceeds the budget.
func (e *Engine) TrimToFit(script string, maxSeconds int) string {
	if maxSeconds <= 0 {
		return script
	}
	budget := int(float64(maxSeconds) * wordsPerSecond)
	if countWords(script) <= budget {
		return script
	}

	sentences := splitScriptSentences(script)
	var kept []string
	used := 0
	for i, s := range sentences {
		n := countWords(s)
		if i > 0 && used+n > budget {
			break
		}
		kept = append(kept, s)
		used += n
	}
	return strings.TrimSpace(strings.Join(kept, " "))
}

func countWords(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\t' || r == '\n' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

func splitScriptSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(text[start : i+1])
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}
