package transcript

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOverlapNoExistingWords(t *testing.T) {
	incoming := Words{
		{Text: "b", StartMs: 500, EndMs: 900, Confidence: 0.8},
		{Text: "a", StartMs: 0, EndMs: 400, Confidence: 0.8},
	}

	got := ResolveOverlap(nil, incoming, 0.8, 0, 100)

	assert.Equal(t, "a b", got.Text())
}

func TestResolveOverlapDisjointSidesBothSurvive(t *testing.T) {
	existing := Words{{Text: "early", StartMs: 0, EndMs: 300, Confidence: 0.5}}
	incoming := Words{{Text: "late", StartMs: 5000, EndMs: 5300, Confidence: 0.5}}

	got := ResolveOverlap(existing, incoming, 0.5, 2500, 100)

	assert.Equal(t, "early late", got.Text())
}

func TestMergeSegmentsOrdersByIndex(t *testing.T) {
	segments := []Segment{
		{Idx: 1, StartMs: 1000, EndMs: 2000, Words: Words{
			{Text: "world", StartMs: 1000, EndMs: 1400, Confidence: 0.8},
		}},
		{Idx: 0, StartMs: 0, EndMs: 1000, Words: Words{
			{Text: "hello", StartMs: 0, EndMs: 400, Confidence: 0.8},
		}},
	}

	got := MergeSegments(segments, 100)

	assert.Equal(t, "hello world", got.Text())
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool {
		return got[i].StartMs < got[j].StartMs
	}))
}

func TestMergeSegmentsBoundaryConfidenceRule(t *testing.T) {
	// Segment 0 ends with a low-confidence word inside segment 1's
	// boundary window; segment 1 re-transcribes it with high confidence.
	segments := []Segment{
		{Idx: 0, StartMs: 0, EndMs: 1000, Words: Words{
			{Text: "the", StartMs: 0, EndMs: 400, Confidence: 0.9},
			{Text: "cut", StartMs: 950, EndMs: 1050, Confidence: 0.4},
		}},
		{Idx: 1, StartMs: 1000, EndMs: 2000, Words: Words{
			{Text: "cat", StartMs: 960, EndMs: 1060, Confidence: 0.9},
			{Text: "sat", StartMs: 1200, EndMs: 1500, Confidence: 0.9},
		}},
	}

	got := MergeSegments(segments, 100)

	assert.Equal(t, "the cat sat", got.Text())
}

func TestMergeSegmentsEmpty(t *testing.T) {
	assert.Empty(t, MergeSegments(nil, 100))
	assert.Empty(t, MergeSegments([]Segment{}, 100))
}

func TestAssignSpeakers(t *testing.T) {
	t.Run("gap flips speaker", func(t *testing.T) {
		ws := Words{
			{Text: "hello", StartMs: 0, EndMs: 500},
			{Text: "there", StartMs: 600, EndMs: 1000},   // 100ms gap, same speaker
			{Text: "hi", StartMs: 3000, EndMs: 3400},     // 2000ms gap, next speaker
			{Text: "back", StartMs: 6000, EndMs: 6400},   // 2600ms gap, wraps to first
		}

		got := AssignSpeakers(ws, 1500, 2)

		assert.Equal(t, "speaker_0", got[0].Speaker)
		assert.Equal(t, "speaker_0", got[1].Speaker)
		assert.Equal(t, "speaker_1", got[2].Speaker)
		assert.Equal(t, "speaker_0", got[3].Speaker)
	})

	t.Run("input not mutated", func(t *testing.T) {
		ws := Words{{Text: "a", StartMs: 0, EndMs: 100}}
		_ = AssignSpeakers(ws, 1500, 2)
		assert.Empty(t, ws[0].Speaker)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, AssignSpeakers(nil, 1500, 2))
	})

	t.Run("defaults applied", func(t *testing.T) {
		ws := Words{
			{Text: "a", StartMs: 0, EndMs: 100},
			{Text: "b", StartMs: 5000, EndMs: 5100},
		}
		got := AssignSpeakers(ws, 0, 0)
		require.Len(t, got, 2)
		assert.Equal(t, "speaker_0", got[0].Speaker)
		assert.Equal(t, "speaker_1", got[1].Speaker)
	})
}
