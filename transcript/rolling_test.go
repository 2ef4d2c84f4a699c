package transcript

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testParams shrinks the production time constants so overlap windows
// and commit boundaries land inside short synthetic word lists.
func testParams() Params {
	return Params{ChunkMs: 400, OverlapMs: 100, CommitWindowMs: 100}
}

func theCatWords() Words {
	return Words{
		{Text: "the", StartMs: 0, EndMs: 200, Confidence: 0.6},
		{Text: "cat", StartMs: 200, EndMs: 400, Confidence: 0.6},
	}
}

func TestUpsertFirstChunkEmitsPartialOnly(t *testing.T) {
	st := NewRollingState()

	res := st.Upsert(0, theCatWords(), 0.6, 0, testParams())

	assert.Nil(t, res.Commit, "nothing can be stable before the first boundary")
	require.NotNil(t, res.Partial)
	assert.Equal(t, "the cat", res.Partial.Text)
	assert.Equal(t, int64(0), res.Partial.StartMs)
	assert.Equal(t, int64(400), res.Partial.EndMs)
	assert.Empty(t, st.CommittedWords)
	assert.Equal(t, 0, st.LastSeq)
}

func TestUpsertIdempotentPerChunkIndex(t *testing.T) {
	st := NewRollingState()

	first := st.Upsert(0, theCatWords(), 0.6, 0, testParams())
	require.NotNil(t, first.Partial)

	tailBefore := st.TailBuffer.Clone()
	committedBefore := st.CommittedWords.Clone()

	second := st.Upsert(0, theCatWords(), 0.6, 0, testParams())

	assert.Nil(t, second.Commit)
	assert.Nil(t, second.Partial)
	assert.Equal(t, tailBefore, st.TailBuffer)
	assert.Equal(t, committedBefore, st.CommittedWords)
}

func TestUpsertEmptyWordsRecordsIndexOnly(t *testing.T) {
	st := NewRollingState()

	res := st.Upsert(0, Words{}, 0, 0, testParams())

	assert.Nil(t, res.Commit)
	assert.Nil(t, res.Partial)
	assert.True(t, st.HasReceived(0))
	assert.Empty(t, st.TailBuffer)
	assert.Empty(t, st.CommittedWords)
}

func TestOverlapResolutionNewWins(t *testing.T) {
	st := NewRollingState()
	p := testParams()

	st.Upsert(0, theCatWords(), 0.6, 0, p)

	// The second chunk re-transcribes the boundary region with higher
	// confidence: its "cat" should replace the existing one.
	incoming := Words{
		{Text: "cat", StartMs: 200, EndMs: 400, Confidence: 0.9},
		{Text: "sat", StartMs: 400, EndMs: 600, Confidence: 0.9},
	}
	res := st.Upsert(1, incoming, 0.9, 300, p)

	require.NotNil(t, res.Commit)
	assert.Equal(t, "the cat sat", res.Commit.Text)
	assert.Equal(t, 3, res.Commit.WordCount)
	assert.Nil(t, res.Partial, "everything committed, tail is empty")

	require.Len(t, st.CommittedWords, 3)
	assert.Equal(t, "the cat sat", st.CommittedWords.Text())
	assert.InDelta(t, 0.9, st.CommittedWords[1].Confidence, 1e-9, "winning cat is the re-transcribed one")
	assert.Equal(t, int64(600), st.LastCommittedMs)
}

func TestOverlapResolutionExistingWinsWithinMargin(t *testing.T) {
	st := NewRollingState()
	p := testParams()

	st.Upsert(0, theCatWords(), 0.6, 0, p)

	// 0.65 does not clear the 0.1 margin over 0.6: existing words stay.
	incoming := Words{
		{Text: "cat", StartMs: 200, EndMs: 400, Confidence: 0.65},
		{Text: "sat", StartMs: 400, EndMs: 600, Confidence: 0.65},
	}
	res := st.Upsert(1, incoming, 0.65, 300, p)

	require.NotNil(t, res.Commit)
	assert.Equal(t, "the cat sat", res.Commit.Text)

	catCount := 0
	for _, w := range st.CommittedWords {
		if w.Text == "cat" {
			catCount++
			assert.InDelta(t, 0.6, w.Confidence, 1e-9, "existing cat is the survivor")
		}
	}
	assert.Equal(t, 1, catCount, "exactly one cat after overlap resolution")
}

func TestOverlapResolutionExactMarginKeepsExisting(t *testing.T) {
	st := NewRollingState()
	p := testParams()

	st.Upsert(0, theCatWords(), 0.6, 0, p)

	// Exactly existing + 0.1: the margin is strict, existing wins.
	incoming := Words{
		{Text: "cat", StartMs: 200, EndMs: 400, Confidence: 0.7},
		{Text: "sat", StartMs: 400, EndMs: 600, Confidence: 0.7},
	}
	st.Upsert(1, incoming, 0.7, 300, p)

	for _, w := range st.CommittedWords {
		if w.Text == "cat" {
			assert.InDelta(t, 0.6, w.Confidence, 1e-9)
		}
	}
}

func chunkWords(idx int, conf float64) Words {
	base := int64(idx) * 1000
	return Words{
		{Text: "a", StartMs: base, EndMs: base + 400, Confidence: conf},
		{Text: "b", StartMs: base + 500, EndMs: base + 900, Confidence: conf},
	}
}

func TestOutOfOrderChunksKeepCommittedSorted(t *testing.T) {
	st := NewRollingState()
	p := Params{ChunkMs: 1000, OverlapMs: 100, CommitWindowMs: 200}

	for _, idx := range []int{2, 0, 1} {
		st.Upsert(idx, chunkWords(idx, 0.8), 0.8, int64(idx)*1000, p)
	}
	final := st.CollapseTail()

	require.Len(t, final.Words, 6)
	assert.True(t, sort.SliceIsSorted(final.Words, func(i, j int) bool {
		return final.Words[i].StartMs < final.Words[j].StartMs
	}), "committed words must be sorted by start")

	seen := map[int64]bool{}
	for _, w := range final.Words {
		assert.False(t, seen[w.StartMs], "no two committed words share a start")
		seen[w.StartMs] = true
	}
	assert.Equal(t, 2, st.LastSeq)
	assert.Equal(t, []int{0, 1, 2}, st.ReceivedIdx)
}

func TestInOrderCommitsAreMonotonic(t *testing.T) {
	st := NewRollingState()
	p := Params{ChunkMs: 1000, OverlapMs: 100, CommitWindowMs: 200}

	var lastCommitStart int64 = -1
	for idx := 0; idx < 5; idx++ {
		res := st.Upsert(idx, chunkWords(idx, 0.8), 0.8, int64(idx)*1000, p)
		if res.Commit != nil {
			assert.GreaterOrEqual(t, res.Commit.StartMs, lastCommitStart,
				"in-order arrival must commit in non-decreasing start order")
			lastCommitStart = res.Commit.StartMs
		}
	}
}

func TestCommittedWordsNeverRevised(t *testing.T) {
	st := NewRollingState()
	p := Params{ChunkMs: 1000, OverlapMs: 100, CommitWindowMs: 200}

	st.Upsert(0, chunkWords(0, 0.5), 0.5, 0, p)
	st.Upsert(1, chunkWords(1, 0.5), 0.5, 1000, p)
	require.NotEmpty(t, st.CommittedWords)

	committed := st.CommittedWords.Clone()

	// A late chunk with very high confidence over already-committed time
	// must not rewrite committed words.
	late := Words{{Text: "REWRITE", StartMs: 0, EndMs: 400, Confidence: 0.99}}
	st.Upsert(5, late, 0.99, 5000, p)
	st.CollapseTail()

	for i, w := range committed {
		assert.Equal(t, w.Text, st.CommittedWords[i].Text, "committed word %d changed", i)
	}
}

func TestCollapseTail(t *testing.T) {
	st := NewRollingState()
	p := testParams()

	st.Upsert(0, theCatWords(), 0.6, 0, p)
	require.NotEmpty(t, st.TailBuffer)

	final := st.CollapseTail()

	assert.Equal(t, "the cat", final.Text)
	assert.Equal(t, 2, final.WordCount)
	assert.Equal(t, int64(400), final.DurationMs)
	assert.Empty(t, st.TailBuffer)
	assert.Equal(t, int64(400), st.LastCommittedMs)

	// Finalizing again yields the same transcript.
	again := st.CollapseTail()
	assert.Equal(t, final.Text, again.Text)
	assert.Equal(t, final.WordCount, again.WordCount)
}

func TestLastCommittedTracksMaxEnd(t *testing.T) {
	st := NewRollingState()
	p := Params{ChunkMs: 1000, OverlapMs: 100, CommitWindowMs: 200}

	st.Upsert(0, chunkWords(0, 0.8), 0.8, 0, p)
	st.Upsert(1, chunkWords(1, 0.8), 0.8, 1000, p)

	for _, w := range st.CommittedWords {
		assert.LessOrEqual(t, w.EndMs, st.LastCommittedMs)
	}
}
