// Package metrics derives delivery statistics from a finalized transcript:
// pace, filler usage, and pausing. The numbers feed both the generated
// evaluation and the scope acknowledgment appended to its spoken script.
package metrics

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/rservant/speech-evaluator-sub004/internal/session"
)

// fillerWords are counted toward the filler rate. Matching is on lowercased
// words with punctuation stripped.
var fillerWords = map[string]struct{}{
	"um": {}, "uh": {}, "er": {}, "ah": {}, "hmm": {},
	"like": {}, "basically": {}, "actually": {}, "literally": {},
	"kinda": {}, "sorta": {}, "y'know": {},
}

type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

// Extract computes delivery metrics over the segment list. Pauses are the
// gaps between consecutive segments; intra-segment word gaps already fell
// under the segmentation threshold upstream.
func (e *Extractor) Extract(segments []session.Segment) (session.Metrics, error) {
	if len(segments) == 0 {
		return session.Metrics{}, fmt.Errorf("no transcript segments")
	}

	var m session.Metrics
	var fillers int
	for _, seg := range segments {
		for _, w := range splitWords(seg.Text) {
			m.WordCount++
			if _, ok := fillerWords[w]; ok {
				fillers++
			}
		}
	}

	start := segments[0].StartMS
	end := segments[len(segments)-1].EndMS
	totalMS := end - start
	if totalMS <= 0 {
		return session.Metrics{}, fmt.Errorf("degenerate segment timestamps: %d..%d", start, end)
	}
	m.DurationSeconds = float64(totalMS) / 1000.0

	var pausedMS int64
	for i := 1; i < len(segments); i++ {
		gap := segments[i].StartMS - segments[i-1].EndMS
		if gap <= 0 {
			continue
		}
		pausedMS += gap
		if gap > m.LongestPauseMS {
			m.LongestPauseMS = gap
		}
	}

	m.FillerCount = fillers
	if m.WordCount > 0 {
		m.FillerRate = float64(fillers) / float64(m.WordCount)
		m.WordsPerMinute = float64(m.WordCount) / (m.DurationSeconds / 60.0)
	}
	m.PauseRatio = float64(pausedMS) / float64(totalMS)
	return m, nil
}

func splitWords(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.Trim(f, "'"))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
