package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	wavHeaderSize = 44
	riffHeaderLen = 8
)

// Format describes the PCM layout of a decoded WAV stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// BytesPerSecond returns the PCM byte rate for the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Duration returns the play time of pcmLen bytes of audio in this format.
func (f Format) Duration(pcmLen int) time.Duration {
	rate := f.BytesPerSecond()
	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(pcmLen) / float64(rate) * float64(time.Second))
}

// DurationMs returns the play time of pcmLen bytes in milliseconds.
func (f Format) DurationMs(pcmLen int) int64 {
	return f.Duration(pcmLen).Milliseconds()
}

// BytesForDuration returns the PCM byte count covering d, aligned down to a
// whole frame so a cut never lands mid-sample.
func (f Format) BytesForDuration(d time.Duration) int {
	n := int(float64(f.BytesPerSecond()) * d.Seconds())
	frame := f.Channels * f.BitsPerSample / 8
	if frame <= 0 {
		return 0
	}
	return n - n%frame
}

// EncodeWAV wraps raw little-endian PCM data in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, format Format) []byte {
	dataSize := len(pcm)
	byteRate := format.BytesPerSecond()
	blockAlign := format.Channels * format.BitsPerSample / 8

	wav := make([]byte, wavHeaderSize+dataSize)

	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+dataSize))
	copy(wav[8:12], "WAVE")

	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16) // Subchunk1Size for PCM
	binary.LittleEndian.PutUint16(wav[20:22], 1)  // AudioFormat (1 = PCM)
	binary.LittleEndian.PutUint16(wav[22:24], uint16(format.Channels))
	binary.LittleEndian.PutUint32(wav[24:28], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(wav[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(wav[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(wav[34:36], uint16(format.BitsPerSample))

	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(dataSize))
	copy(wav[44:], pcm)

	return wav
}

// ParseWAV extracts the format and PCM payload from a WAV byte stream.
// Only uncompressed PCM (format tag 1) is supported. Chunks other than
// "fmt " and "data" (LIST, INFO, etc.) are skipped.
func ParseWAV(data []byte) (Format, []byte, error) {
	if len(data) < wavHeaderSize {
		return Format{}, nil, fmt.Errorf("wav too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, fmt.Errorf("not a RIFF/WAVE stream")
	}

	var format Format
	var pcm []byte
	haveFmt := false

	offset := 12
	for offset+riffHeaderLen <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + riffHeaderLen
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return Format{}, nil, fmt.Errorf("fmt chunk too short: %d bytes", chunkSize)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return Format{}, nil, fmt.Errorf("unsupported wav format tag %d, want PCM", audioFormat)
			}
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				SampleRate:    int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(data[body+14 : body+16])),
			}
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned
		if chunkSize%2 == 1 {
			chunkSize++
		}
		offset = body + chunkSize
	}

	if !haveFmt {
		return Format{}, nil, fmt.Errorf("wav missing fmt chunk")
	}
	if pcm == nil {
		return Format{}, nil, fmt.Errorf("wav missing data chunk")
	}
	return format, pcm, nil
}
