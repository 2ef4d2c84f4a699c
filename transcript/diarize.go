package transcript

import "fmt"

// DefaultSpeakerGapMs is the silence length treated as a speaker change
// by the pause-gap heuristic.
const DefaultSpeakerGapMs = 1500

// AssignSpeakers annotates words with alternating speaker labels using a
// pause-gap heuristic: a silence of at least gapMs between consecutive
// words flips to the next speaker. Labels are "speaker_0", "speaker_1",
// cycling through maxSpeakers slots.
//
// The input must be sorted by StartMs. The returned list is a copy; the
// input is not mutated.
func AssignSpeakers(words Words, gapMs int64, maxSpeakers int) Words {
	if len(words) == 0 {
		return Words{}
	}
	if gapMs <= 0 {
		gapMs = DefaultSpeakerGapMs
	}
	if maxSpeakers < 1 {
		maxSpeakers = 2
	}

	out := words.Clone()
	speaker := 0
	out[0].Speaker = speakerLabel(0)
	for i := 1; i < len(out); i++ {
		if out[i].StartMs-out[i-1].EndMs >= gapMs {
			speaker = (speaker + 1) % maxSpeakers
		}
		out[i].Speaker = speakerLabel(speaker)
	}
	return out
}

func speakerLabel(n int) string {
	return fmt.Sprintf("speaker_%d", n)
}
