// Package transcript holds the word-level transcript model and the pure
// merge algorithms shared by the live streaming engine and the batch
// pipeline: overlap resolution between re-transcribed audio regions and
// the rolling commit of stable words.
//
// Everything in this package is deterministic and side-effect free;
// persistence and event publication live with the callers.
package transcript

import (
	"sort"
	"strings"
)

// Word is a single transcribed token with absolute timing and confidence.
type Word struct {
	Text       string  `json:"text"`
	StartMs    int64   `json:"start_ms"`
	EndMs      int64   `json:"end_ms"`
	Confidence float64 `json:"confidence"`        // 0..1
	Speaker    string  `json:"speaker,omitempty"` // set by diarization
}

// Words is an ordered list of words.
type Words []Word

// Text joins word texts with single spaces.
func (ws Words) Text() string {
	if len(ws) == 0 {
		return ""
	}
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

// StartMs returns the earliest start in the list, or 0 when empty.
func (ws Words) StartMs() int64 {
	if len(ws) == 0 {
		return 0
	}
	min := ws[0].StartMs
	for _, w := range ws[1:] {
		if w.StartMs < min {
			min = w.StartMs
		}
	}
	return min
}

// EndMs returns the latest end in the list, or 0 when empty.
func (ws Words) EndMs() int64 {
	if len(ws) == 0 {
		return 0
	}
	max := ws[0].EndMs
	for _, w := range ws[1:] {
		if w.EndMs > max {
			max = w.EndMs
		}
	}
	return max
}

// MeanConfidence returns the average confidence, or 0 when empty.
func (ws Words) MeanConfidence() float64 {
	if len(ws) == 0 {
		return 0
	}
	var sum float64
	for _, w := range ws {
		sum += w.Confidence
	}
	return sum / float64(len(ws))
}

// Clone returns a copy the caller may mutate freely.
func (ws Words) Clone() Words {
	out := make(Words, len(ws))
	copy(out, ws)
	return out
}

// SortDedupe sorts by StartMs (stable, preserving the list's own ordering
// for equal starts) and drops later words that collide on the same start.
// The first word at each start wins.
func SortDedupe(ws Words) Words {
	if len(ws) == 0 {
		return ws
	}
	sorted := ws.Clone()
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartMs < sorted[j].StartMs
	})

	out := sorted[:1]
	for _, w := range sorted[1:] {
		if w.StartMs == out[len(out)-1].StartMs {
			continue
		}
		out = append(out, w)
	}
	return out
}

// SynthesizeUniform builds a word list with uniform intervals across
// [startMs, endMs) for providers that return text without word timings.
// Confidence is zero so any overlapping timed words win merge conflicts.
func SynthesizeUniform(text string, startMs, endMs int64) Words {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || endMs <= startMs {
		return nil
	}
	span := endMs - startMs
	out := make(Words, len(tokens))
	n := int64(len(tokens))
	for i, tok := range tokens {
		out[i] = Word{
			Text:       tok,
			StartMs:    startMs + span*int64(i)/n,
			EndMs:      startMs + span*int64(i+1)/n,
			Confidence: 0,
		}
	}
	return out
}
