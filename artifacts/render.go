// Package artifacts derives the four output formats from a final word
// list: plain text, JSON with word timings, and SRT/VTT subtitles.
// Rendering is deterministic for a given word list modulo the JSON
// creation timestamp.
package artifacts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/transcript"
)

// SchemaVersion is stamped into every JSON artifact. Readers accept
// any 1.x document.
const SchemaVersion = "1.0.0"

// schemaConstraint is what ParseJSON accepts on read-back.
const schemaConstraint = "^1.0"

// Document is the JSON artifact shape.
type Document struct {
	ID         string           `json:"session_or_job_id"`
	Transcript string           `json:"transcript"`
	Words      transcript.Words `json:"words"`
	Metadata   Metadata         `json:"metadata"`
}

// Metadata carries document-level facts about the transcript.
type Metadata struct {
	TotalWords    int    `json:"total_words"`
	DurationMs    int64  `json:"duration_ms"`
	CreatedAtISO  string `json:"created_at_iso"`
	SchemaVersion string `json:"schema_version"`
}

// RenderTXT renders the space-joined transcript text.
func RenderTXT(words transcript.Words) []byte {
	return []byte(words.Text() + "\n")
}

// RenderJSON renders the JSON artifact.
func RenderJSON(id string, words transcript.Words, createdAt time.Time) ([]byte, error) {
	doc := Document{
		ID:         id,
		Transcript: words.Text(),
		Words:      words,
		Metadata: Metadata{
			TotalWords:    len(words),
			DurationMs:    words.EndMs(),
			CreatedAtISO:  createdAt.UTC().Format(time.RFC3339),
			SchemaVersion: SchemaVersion,
		},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal transcript document: %w", err)
	}
	return append(data, '\n'), nil
}

// ParseJSON reads a JSON artifact back, rejecting documents written
// under an incompatible schema version.
func ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "artifact_malformed",
			"transcript document is not valid JSON", err)
	}

	version, err := semver.NewVersion(doc.Metadata.SchemaVersion)
	if err != nil {
		return nil, fault.InvalidInput("artifact_schema_invalid",
			fmt.Sprintf("schema_version %q is not a version", doc.Metadata.SchemaVersion))
	}
	constraint, err := semver.NewConstraint(schemaConstraint)
	if err != nil {
		return nil, fault.Internal("bad schema constraint", err)
	}
	if !constraint.Check(version) {
		return nil, fault.InvalidInput("artifact_schema_unsupported",
			fmt.Sprintf("schema_version %s is outside %s", doc.Metadata.SchemaVersion, schemaConstraint))
	}
	return &doc, nil
}
