package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func mono16k() Format {
	return Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms at 16kHz mono
	for i := 0; i < len(pcm)/2; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(i*7))
	}

	wav := EncodeWAV(pcm, mono16k())
	format, got, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if format != mono16k() {
		t.Errorf("format mismatch: %+v", format)
	}
	if !bytes.Equal(got, pcm) {
		t.Error("pcm payload does not round-trip")
	}
}

func TestParseWAV_SkipsUnknownChunks(t *testing.T) {
	pcm := make([]byte, 320)
	wav := EncodeWAV(pcm, mono16k())

	// Splice a LIST chunk between fmt and data
	list := make([]byte, 8+4)
	copy(list[0:4], "LIST")
	binary.LittleEndian.PutUint32(list[4:8], 4)
	copy(list[8:12], "INFO")

	spliced := append([]byte{}, wav[:36]...)
	spliced = append(spliced, list...)
	spliced = append(spliced, wav[36:]...)
	binary.LittleEndian.PutUint32(spliced[4:8], uint32(len(spliced)-8))

	format, got, err := ParseWAV(spliced)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if format.SampleRate != 16000 {
		t.Errorf("sample rate = %d", format.SampleRate)
	}
	if len(got) != len(pcm) {
		t.Errorf("pcm length = %d, want %d", len(got), len(pcm))
	}
}

func TestParseWAV_RejectsNonPCM(t *testing.T) {
	wav := EncodeWAV(make([]byte, 32), mono16k())
	binary.LittleEndian.PutUint16(wav[20:22], 3) // IEEE float format tag

	if _, _, err := ParseWAV(wav); err == nil {
		t.Error("expected error for non-PCM format tag")
	}
}

func TestParseWAV_Truncated(t *testing.T) {
	if _, _, err := ParseWAV([]byte("RIFF")); err == nil {
		t.Error("expected error for truncated stream")
	}
}

func TestFormatDuration(t *testing.T) {
	f := mono16k()
	// 32000 bytes = 16000 samples = 1 second
	if got := f.DurationMs(32000); got != 1000 {
		t.Errorf("DurationMs = %d, want 1000", got)
	}
	if got := f.BytesForDuration(500 * time.Millisecond); got != 16000 {
		t.Errorf("BytesForDuration = %d, want 16000", got)
	}
}
