package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// pcmBytesPerSample is the number of bytes per 16-bit PCM sample.
	pcmBytesPerSample = 2
	// pcmMaxAmplitude is the maximum amplitude for 16-bit signed audio.
	pcmMaxAmplitude = 32768.0

	// DefaultSilenceRMS is the RMS level below which a window counts as silent.
	// Typical voice RMS is 0.05-0.3 for normalized audio.
	DefaultSilenceRMS = 0.015
	// DefaultAnalysisWindow is the window size used for RMS analysis.
	DefaultAnalysisWindow = 20 * time.Millisecond
)

// RMS computes the Root Mean Square of 16-bit little-endian PCM samples,
// normalized to the 0.0-1.0 range.
func RMS(pcm []byte) float64 {
	numSamples := len(pcm) / pcmBytesPerSample
	if numSamples == 0 {
		return 0
	}

	var sumSquares float64
	for i := 0; i < numSamples; i++ {
		// #nosec G115 -- overflow is intentional for signed PCM conversion
		sample := int16(binary.LittleEndian.Uint16(pcm[i*pcmBytesPerSample:]))
		normalized := float64(sample) / pcmMaxAmplitude
		sumSquares += normalized * normalized
	}

	return math.Sqrt(sumSquares / float64(numSamples))
}

// SplitParams controls silence-aligned cut point selection.
type SplitParams struct {
	// SilenceRMS is the RMS threshold below which a window counts as silent.
	SilenceRMS float64
	// Window is the RMS analysis window size.
	Window time.Duration
	// SearchRadius is how far before the target offset to look for silence.
	SearchRadius time.Duration
}

// DefaultSplitParams returns split parameters tuned for speech.
func DefaultSplitParams() SplitParams {
	return SplitParams{
		SilenceRMS:   DefaultSilenceRMS,
		Window:       DefaultAnalysisWindow,
		SearchRadius: 2 * time.Second,
	}
}

// FindSplitPoint returns a byte offset at or before target where the audio is
// quietest, preferring true silence. Cutting a segment mid-word degrades the
// transcription at both boundary sides, so the segmenter calls this to nudge
// each cut toward a pause.
//
// The returned offset is frame-aligned. If no window within the search radius
// falls below the silence threshold, the quietest window wins.
func FindSplitPoint(pcm []byte, format Format, target int, params SplitParams) int {
	frame := format.Channels * format.BitsPerSample / 8
	if frame <= 0 || len(pcm) == 0 {
		return 0
	}
	if target >= len(pcm) {
		return len(pcm)
	}
	target -= target % frame

	windowBytes := format.BytesForDuration(params.Window)
	if windowBytes <= 0 {
		return target
	}
	radiusBytes := format.BytesForDuration(params.SearchRadius)
	searchStart := target - radiusBytes
	if searchStart < 0 {
		searchStart = 0
	}

	best := target
	bestRMS := math.Inf(1)

	// Walk backward from the target so ties resolve to the latest quiet
	// window, keeping segments as close to the nominal size as possible.
	for off := target - windowBytes; off >= searchStart; off -= windowBytes {
		rms := RMS(pcm[off : off+windowBytes])
		if rms < bestRMS {
			bestRMS = rms
			best = off + windowBytes
		}
		if rms <= params.SilenceRMS {
			return off + windowBytes
		}
	}

	return best
}
