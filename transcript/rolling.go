package transcript

import (
	"sort"
	"time"
)

// Params holds the time constants driving the rolling merge.
type Params struct {
	// ChunkMs is the nominal duration of one streamed audio chunk.
	ChunkMs int64 `json:"chunk_ms"`

	// OverlapMs is the half-width of the overlap window around a chunk
	// boundary inside which re-transcribed words compete by confidence.
	OverlapMs int64 `json:"overlap_ms"`

	// CommitWindowMs is how far behind the newest chunk boundary a word
	// must fall before it is considered stable and committed.
	CommitWindowMs int64 `json:"commit_window_ms"`
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		ChunkMs:        5000,
		OverlapMs:      750,
		CommitWindowMs: 2500,
	}
}

// RollingState is the per-session merge state. Committed words are
// stable and never revised; the tail buffer is subject to overlap
// resolution on each subsequent chunk.
type RollingState struct {
	LastCommittedMs int64     `json:"last_committed_ms"`
	TailBuffer      Words     `json:"tail_buffer"`
	ReceivedIdx     []int     `json:"received_idx_set"` // sorted set of merged chunk indices
	LastSeq         int       `json:"last_seq"`
	CommittedWords  Words     `json:"committed_words"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewRollingState returns an empty state ready for the first chunk.
func NewRollingState() *RollingState {
	return &RollingState{
		TailBuffer:     Words{},
		ReceivedIdx:    []int{},
		LastSeq:        -1,
		CommittedWords: Words{},
		UpdatedAt:      time.Now().UTC(),
	}
}

// HasReceived reports whether chunk idx has already been merged.
func (st *RollingState) HasReceived(idx int) bool {
	i := sort.SearchInts(st.ReceivedIdx, idx)
	return i < len(st.ReceivedIdx) && st.ReceivedIdx[i] == idx
}

func (st *RollingState) markReceived(idx int) {
	if st.HasReceived(idx) {
		return
	}
	st.ReceivedIdx = append(st.ReceivedIdx, idx)
	sort.Ints(st.ReceivedIdx)
	if idx > st.LastSeq {
		st.LastSeq = idx
	}
}

// Commit captures one batch of words moving from the tail buffer to the
// permanent transcript.
type Commit struct {
	Text      string `json:"text"`
	Words     Words  `json:"words"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
	WordCount int    `json:"word_count"`
}

// Partial captures the current revisable tail buffer. Each partial
// replaces the previous one; consumers render only the latest.
type Partial struct {
	Text    string `json:"text"`
	Words   Words  `json:"words"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// Final carries the complete word list produced by session finalization.
type Final struct {
	Text       string `json:"text"`
	Words      Words  `json:"words"`
	WordCount  int    `json:"word_count"`
	DurationMs int64  `json:"duration_ms"`
}

// UpsertResult reports what one merge step produced. Nil fields mean the
// step produced no event of that kind.
type UpsertResult struct {
	Commit  *Commit
	Partial *Partial
}

// Upsert merges one transcribed chunk into the rolling state.
//
// The merge is idempotent per chunk index: a chunk that was already
// merged returns an empty result without mutating word state. An empty
// word list records the index (so retries stay idempotent) but moves no
// words and emits nothing.
//
// chunkStartMs is the absolute start of the chunk's audio;
// avgConfidence is the provider's confidence for the whole chunk.
func (st *RollingState) Upsert(chunkIdx int, words Words, avgConfidence float64, chunkStartMs int64, p Params) UpsertResult {
	if st.HasReceived(chunkIdx) {
		return UpsertResult{}
	}
	st.markReceived(chunkIdx)
	st.UpdatedAt = time.Now().UTC()

	if len(words) == 0 {
		return UpsertResult{}
	}

	st.TailBuffer = ResolveOverlap(st.TailBuffer, words, avgConfidence, chunkStartMs, p.OverlapMs)

	// Words older than the newest boundary minus the commit window are
	// stable: no future chunk's overlap window can still reach them.
	commitBoundary := chunkStartMs + int64(chunkIdx)*p.ChunkMs - p.CommitWindowMs
	moved := st.commitThrough(commitBoundary)

	result := UpsertResult{}
	if len(moved) > 0 {
		result.Commit = &Commit{
			Text:      moved.Text(),
			Words:     moved.Clone(),
			StartMs:   moved.StartMs(),
			EndMs:     moved.EndMs(),
			WordCount: len(moved),
		}
	}
	if len(st.TailBuffer) > 0 {
		result.Partial = &Partial{
			Text:    st.TailBuffer.Text(),
			Words:   st.TailBuffer.Clone(),
			StartMs: st.TailBuffer.StartMs(),
			EndMs:   st.TailBuffer.EndMs(),
		}
	}
	return result
}

// commitThrough moves every tail word with EndMs <= boundary into the
// committed list and returns the moved words in start order.
func (st *RollingState) commitThrough(boundary int64) Words {
	if len(st.TailBuffer) == 0 {
		return nil
	}

	var moved, remaining Words
	for _, w := range st.TailBuffer {
		if w.EndMs <= boundary {
			moved = append(moved, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	if len(moved) == 0 {
		return nil
	}

	st.TailBuffer = remaining
	st.appendCommitted(moved)
	return moved
}

// appendCommitted merges words into the committed list keeping it sorted
// with unique starts. A collision with an already-committed start keeps
// the committed word: committed words are never revised.
func (st *RollingState) appendCommitted(words Words) {
	combined := make(Words, 0, len(st.CommittedWords)+len(words))
	combined = append(combined, st.CommittedWords...)
	combined = append(combined, words...)
	st.CommittedWords = SortDedupe(combined)

	if end := words.EndMs(); end > st.LastCommittedMs {
		st.LastCommittedMs = end
	}
}

// CollapseTail commits the entire tail buffer regardless of the commit
// boundary and returns the data for the final event. Used by session
// finalization and idle expiry.
func (st *RollingState) CollapseTail() Final {
	if len(st.TailBuffer) > 0 {
		tail := st.TailBuffer
		st.TailBuffer = Words{}
		st.appendCommitted(tail)
		st.UpdatedAt = time.Now().UTC()
	}

	return Final{
		Text:       st.CommittedWords.Text(),
		Words:      st.CommittedWords.Clone(),
		WordCount:  len(st.CommittedWords),
		DurationMs: st.CommittedWords.EndMs(),
	}
}
