package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/types"
)

// audioField is the multipart form field carrying live audio bytes.
const audioField = "audio"

func (s *Server) handleLiveChunk(w http.ResponseWriter, r *http.Request) {
	idx, err := pathIndex(r, "idx")
	if err != nil {
		writeError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxChunkBody)
	if err := r.ParseMultipartForm(s.maxChunkBody); err != nil {
		writeError(w, r, fault.InvalidInput("bad_chunk_body", "multipart form is required"))
		return
	}

	file, _, err := r.FormFile(audioField)
	if err != nil {
		writeError(w, r, fault.InvalidInput("missing_audio", "multipart field \"audio\" is required"))
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, fault.InvalidInput("bad_chunk_body", "could not read audio data"))
		return
	}

	sampleRate := 0
	if v := r.FormValue("sample_rate"); v != "" {
		sampleRate, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, r, fault.InvalidInput("bad_sample_rate", "sample_rate must be an integer"))
			return
		}
	}
	codec := r.FormValue("codec")

	err = s.deps.Live.AcceptChunk(r.Context(), userID(r.Context()),
		r.PathValue("session_id"), idx, audio, sampleRate, codec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.LiveChunkResponse{ProcessingStarted: true})
}

func (s *Server) handleLiveFinalize(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	final, err := s.deps.Live.Finalize(r.Context(), userID(r.Context()), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := types.FinalizeResponse{Transcript: final.Text}
	urls := map[types.ArtifactKind]*string{
		types.ArtifactTXT:  &resp.Artifacts.TXT,
		types.ArtifactJSON: &resp.Artifacts.JSON,
		types.ArtifactSRT:  &resp.Artifacts.SRT,
		types.ArtifactVTT:  &resp.Artifacts.VTT,
	}
	for kind, dst := range urls {
		key, ok := final.ArtifactKeys[kind]
		if !ok {
			continue
		}
		url, err := s.deps.Blobs.GetURL(r.Context(), key, signedURLTTL)
		if err != nil {
			writeError(w, r, err)
			return
		}
		*dst = url
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLiveTranscript(w http.ResponseWriter, r *http.Request) {
	resp, err := s.deps.Live.Live(r.Context(), userID(r.Context()), r.PathValue("session_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// liveEventTypes maps the query parameter values of the polling API to
// their event types.
var liveEventTypes = map[string]events.EventType{
	"partial": events.EventTranscriptPartial,
	"commit":  events.EventTranscriptCommit,
	"final":   events.EventTranscriptFinal,
}

func (s *Server) handleLiveEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	// The rolling-transcript lookup doubles as the ownership check.
	if _, err := s.deps.Live.Live(r.Context(), userID(r.Context()), sessionID); err != nil {
		writeError(w, r, err)
		return
	}

	var wanted []events.EventType
	if q := r.URL.Query().Get("type"); q != "" {
		et, ok := liveEventTypes[q]
		if !ok {
			writeError(w, r, fault.InvalidInput("bad_event_type",
				"type must be one of partial, commit, final"))
			return
		}
		wanted = []events.EventType{et}
	} else {
		wanted = []events.EventType{
			events.EventTranscriptPartial,
			events.EventTranscriptCommit,
			events.EventTranscriptFinal,
		}
	}

	recs := make([]*events.Record, 0, len(wanted))
	for _, et := range wanted {
		rec, err := s.deps.Records.Latest(r.Context(), sessionID, et)
		if err != nil {
			if fault.IsKind(err, fault.KindNotFound) {
				continue
			}
			writeError(w, r, err)
			return
		}
		recs = append(recs, rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": recs})
}
