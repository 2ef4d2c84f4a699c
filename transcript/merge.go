package transcript

// ResolveOverlap merges incoming words into an existing word list around
// one chunk or segment boundary.
//
// The overlap window is the symmetric interval
// [boundaryMs-overlapMs, boundaryMs+overlapMs]. Words strictly inside or
// crossing the window (StartMs < hi and EndMs > lo) compete; when both
// sides have competing words the incoming set wins only when
// avgConfidence beats the existing side's mean confidence by more than
// 0.1. Words outside the window from both sides always survive.
//
// The result is sorted by StartMs with same-start collisions dropped in
// favor of the earlier entry (selected overlap words first, then the
// existing remainder, then the incoming remainder).
func ResolveOverlap(existing, incoming Words, avgConfidence float64, boundaryMs, overlapMs int64) Words {
	lo := boundaryMs - overlapMs
	hi := boundaryMs + overlapMs

	existingOverlap, existingRest := splitByWindow(existing, lo, hi)
	incomingOverlap, incomingRest := splitByWindow(incoming, lo, hi)

	selected := existingOverlap
	if len(existingOverlap) == 0 {
		selected = incomingOverlap
	} else if len(incomingOverlap) > 0 {
		existingConf := existingOverlap.MeanConfidence()
		// Strict 10% margin: an exact tie keeps the existing words.
		if avgConfidence > existingConf+0.1 {
			selected = incomingOverlap
		}
	}

	combined := make(Words, 0, len(selected)+len(existingRest)+len(incomingRest))
	combined = append(combined, selected...)
	combined = append(combined, existingRest...)
	combined = append(combined, incomingRest...)
	return SortDedupe(combined)
}

// splitByWindow partitions words into those overlapping (lo, hi) and the
// rest, preserving order.
func splitByWindow(ws Words, lo, hi int64) (inside, outside Words) {
	for _, w := range ws {
		if w.StartMs < hi && w.EndMs > lo {
			inside = append(inside, w)
		} else {
			outside = append(outside, w)
		}
	}
	return inside, outside
}

// Segment is one transcribed slice of a batch audio file.
type Segment struct {
	Idx     int   `json:"idx"`
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
	Words   Words `json:"words"`
}

// MergeSegments concatenates per-segment word lists in index order,
// applying the overlap rule at each segment boundary. Segments are
// assumed to carry absolute timings; each boundary is the following
// segment's StartMs.
func MergeSegments(segments []Segment, overlapMs int64) Words {
	if len(segments) == 0 {
		return Words{}
	}

	ordered := make([]Segment, len(segments))
	copy(ordered, segments)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Idx < ordered[j-1].Idx; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	merged := ordered[0].Words.Clone()
	for _, seg := range ordered[1:] {
		merged = ResolveOverlap(merged, seg.Words, seg.Words.MeanConfidence(), seg.StartMs, overlapMs)
	}
	return SortDedupe(merged)
}
