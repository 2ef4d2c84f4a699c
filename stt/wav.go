package stt

import "github.com/AuralStack/ScribeFlow/audio"

// pcmToWAV frames raw PCM in a canonical WAV header for providers that
// only accept file uploads.
func pcmToWAV(pcm []byte, sampleRate, channels, bitDepth int) []byte {
	return audio.EncodeWAV(pcm, audio.Format{
		SampleRate:    sampleRate,
		Channels:      channels,
		BitsPerSample: bitDepth,
	})
}
