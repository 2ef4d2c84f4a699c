package pipeline

import (
	"sort"

	"github.com/AuralStack/ScribeFlow/transcript"
	"github.com/AuralStack/ScribeFlow/types"
)

// Checkpoint payloads, one per stage. Each is opaque JSON to the
// checkpoint store; the shapes here are the contract between a stage
// and every stage after it.

type validateState struct {
	DurationS float64  `json:"duration_s"`
	Container string   `json:"container"`
	Streams   []string `json:"streams"`
}

type transcodeState struct {
	NormalizedBlobKey string `json:"normalized_blob_key"`
}

type segmentRef struct {
	Idx     int    `json:"idx"`
	BlobKey string `json:"blob_key"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

type segmentState struct {
	Segments []segmentRef `json:"segments"`
}

type languageState struct {
	DetectedLanguage string  `json:"detected_language"`
	Confidence       float64 `json:"confidence"`
}

// segmentTranscript is one segment's provider result with word times
// already shifted to absolute positions.
type segmentTranscript struct {
	Idx        int              `json:"idx"`
	Words      transcript.Words `json:"words"`
	Confidence float64          `json:"confidence"`
}

// transcribeState grows incrementally: each finished segment appends
// its transcript and the whole state is re-saved, so a retry only
// redoes the segments that are missing.
type transcribeState struct {
	Transcripts []segmentTranscript `json:"transcripts"`
}

func (s *transcribeState) sortByIdx() {
	sort.Slice(s.Transcripts, func(i, j int) bool {
		return s.Transcripts[i].Idx < s.Transcripts[j].Idx
	})
}

func (s *transcribeState) doneIdx() map[int]bool {
	done := make(map[int]bool, len(s.Transcripts))
	for _, t := range s.Transcripts {
		done[t.Idx] = true
	}
	return done
}

type mergeState struct {
	MergedWords transcript.Words `json:"merged_words"`
}

type diarizeState struct {
	WordsWithSpeaker transcript.Words `json:"words_with_speaker"`
}

type outputsState struct {
	ArtifactKeys map[types.ArtifactKind]string `json:"artifact_keys"`
}
