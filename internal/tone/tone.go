// Package tone screens an evaluation script before it is spoken aloud. The
// generated text is addressed to a person who just performed, so harsh or
// absolute phrasing is removed rather than risked.
package tone

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rservant/speech-evaluator-sub004/internal/session"
)

// harshPhrases trip the checker when they appear in a sentence. Matching is
// case-insensitive on the rendered script with pause markers still present.
var harshPhrases = []string{
	"you failed",
	"terrible",
	"awful",
	"worst",
	"never speak",
	"give up",
	"embarrassing",
	"pathetic",
	"you always",
	"you never",
}

var (
	pauseMarker = regexp.MustCompile(`\s*\[pause\]\s*`)
	multiSpace  = regexp.MustCompile(`\s{2,}`)
)

type Checker struct{}

func NewChecker() *Checker { return &Checker{} }

// Check returns the harsh phrases present in the script, in script order.
func (c *Checker) Check(script string) []string {
	lower := strings.ToLower(script)
	var found []string
	for _, p := range harshPhrases {
		if strings.Contains(lower, p) {
			found = append(found, p)
		}
	}
	return found
}

// StripViolations removes every sentence containing a flagged phrase. The
// surviving sentences keep their order and pause markers.
func (c *Checker) StripViolations(script string, violations []string) string {
	if len(violations) == 0 {
		return script
	}
	sentences := splitSentences(script)
	var kept []string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		bad := false
		for _, v := range violations {
			if strings.Contains(lower, v) {
				bad = true
				break
			}
		}
		if !bad {
			kept = append(kept, s)
		}
	}
	return strings.TrimSpace(strings.Join(kept, " "))
}

// StripMarkers removes pause markers before synthesis.
func (c *Checker) StripMarkers(script string) string {
	out := pauseMarker.ReplaceAllString(script, " ")
	out = multiSpace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// AppendScopeAcknowledgment adds a closing sentence about how the speech
// length compared to the configured limit, when the difference is worth
// mentioning.
func (c *Checker) AppendScopeAcknowledgment(script string, m session.Metrics, limitSeconds int) string {
	if limitSeconds <= 0 || m.DurationSeconds <= 0 {
		return script
	}
	limit := float64(limitSeconds)
	switch {
	case m.DurationSeconds > limit*1.1:
		over := int(m.DurationSeconds - limit)
		return script + fmt.Sprintf(" [pause] One more thing: you ran about %d seconds over the %d second limit, so keep an eye on the clock next time.", over, limitSeconds)
	case m.DurationSeconds < limit*0.5:
		return script + fmt.Sprintf(" [pause] You also had plenty of time left within the %d second limit, so there is room to develop your points further.", limitSeconds)
	default:
		return script
	}
}

// splitSentences breaks on sentence-ending punctuation, keeping the
// punctuation with its sentence.
func splitSentences(text string) []string {
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
