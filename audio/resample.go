// Package audio provides PCM processing utilities: resampling, WAV
// encode/parse, duration math, and silence analysis for segment cuts.
package audio

import (
	"encoding/binary"
	"fmt"
)

// Common sample rates across the ingest paths.
const (
	SampleRate48kHz = 48000 // container/source material
	SampleRate16kHz = 16000 // normalized STT input rate
	SampleRate8kHz  = 8000  // telephony sources
)

const bytesPerSample = 2 // PCM16

// ResamplePCM16 converts little-endian 16-bit signed PCM between sample
// rates using linear interpolation. Matching rates return a copy.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}
	if len(input)%bytesPerSample != 0 {
		return nil, fmt.Errorf("input length %d is not sample-aligned", len(input))
	}

	if fromRate == toRate {
		out := make([]byte, len(input))
		copy(out, input)
		return out, nil
	}

	in := decodeSamples(input)
	outCount := int(float64(len(in)) * float64(toRate) / float64(fromRate))
	if len(in) == 0 || outCount == 0 {
		return []byte{}, nil
	}

	out := make([]int16, outCount)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		s0, s1 := float64(in[idx]), float64(in[idx+1])
		out[i] = int16(s0 + frac*(s1-s0))
	}

	return encodeSamples(out), nil
}

// ResampleTo16k normalizes source audio to the rate the transcription
// providers expect.
func ResampleTo16k(input []byte, fromRate int) ([]byte, error) {
	return ResamplePCM16(input, fromRate, SampleRate16kHz)
}

// The int16/uint16 round-trips below are lossless: PCM16 stores the full
// signed range as little-endian unsigned bytes.

func decodeSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])) //nolint:gosec
	}
	return samples
}

func encodeSamples(samples []int16) []byte {
	pcm := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*bytesPerSample:], uint16(s)) //nolint:gosec
	}
	return pcm
}
