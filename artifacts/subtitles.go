package artifacts

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/transcript"
)

// Cue grouping limits: a cue closes at this many words or once its
// span reaches this duration, whichever comes first.
const (
	maxCueWords  = 10
	maxCueSpanMs = 5000
)

// Cue is one subtitle entry.
type Cue struct {
	Index   int
	StartMs int64
	EndMs   int64
	Text    string
}

// BuildCues groups words into subtitle cues numbered from 1.
func BuildCues(words transcript.Words) []Cue {
	var cues []Cue
	var current transcript.Words

	flush := func() {
		if len(current) == 0 {
			return
		}
		cues = append(cues, Cue{
			Index:   len(cues) + 1,
			StartMs: current.StartMs(),
			EndMs:   current.EndMs(),
			Text:    current.Text(),
		})
		current = nil
	}

	for _, word := range words {
		current = append(current, word)
		if len(current) >= maxCueWords || word.EndMs-current.StartMs() >= maxCueSpanMs {
			flush()
		}
	}
	flush()
	return cues
}

// formatTimestamp renders ms as HH:MM:SS<sep>mmm.
func formatTimestamp(ms int64, sep byte) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3600000
	m := ms % 3600000 / 60000
	s := ms % 60000 / 1000
	frac := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, frac)
}

// RenderSRT renders SubRip subtitles.
func RenderSRT(words transcript.Words) []byte {
	var b bytes.Buffer
	for _, cue := range BuildCues(words) {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			cue.Index,
			formatTimestamp(cue.StartMs, ','),
			formatTimestamp(cue.EndMs, ','),
			cue.Text)
	}
	return b.Bytes()
}

// RenderVTT renders WebVTT subtitles.
func RenderVTT(words transcript.Words) []byte {
	var b bytes.Buffer
	b.WriteString("WEBVTT\n\n")
	for _, cue := range BuildCues(words) {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			formatTimestamp(cue.StartMs, '.'),
			formatTimestamp(cue.EndMs, '.'),
			cue.Text)
	}
	return b.Bytes()
}

// ParseSRT reads SubRip subtitles back into cues.
func ParseSRT(data []byte) ([]Cue, error) {
	var cues []Cue
	scanner := bufio.NewScanner(bytes.NewReader(data))

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		index, err := strconv.Atoi(line)
		if err != nil {
			return nil, fault.InvalidInput("srt_malformed",
				fmt.Sprintf("expected cue number, got %q", line))
		}

		if !scanner.Scan() {
			return nil, fault.InvalidInput("srt_malformed", "cue missing timing line")
		}
		start, end, err := parseTimingLine(strings.TrimSpace(scanner.Text()))
		if err != nil {
			return nil, err
		}

		var text []string
		for scanner.Scan() {
			t := strings.TrimSpace(scanner.Text())
			if t == "" {
				break
			}
			text = append(text, t)
		}

		cues = append(cues, Cue{
			Index:   index,
			StartMs: start,
			EndMs:   end,
			Text:    strings.Join(text, " "),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan srt: %w", err)
	}
	return cues, nil
}

func parseTimingLine(line string) (int64, int64, error) {
	parts := strings.Split(line, " --> ")
	if len(parts) != 2 {
		return 0, 0, fault.InvalidInput("srt_malformed",
			fmt.Sprintf("bad timing line %q", line))
	}
	start, err := parseTimestamp(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := parseTimestamp(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp reads HH:MM:SS,mmm.
func parseTimestamp(ts string) (int64, error) {
	var h, m, s, frac int64
	if _, err := fmt.Sscanf(strings.TrimSpace(ts), "%d:%d:%d,%d", &h, &m, &s, &frac); err != nil {
		return 0, fault.InvalidInput("srt_malformed",
			fmt.Sprintf("bad timestamp %q", ts))
	}
	return h*3600000 + m*60000 + s*1000 + frac, nil
}
