package server

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/AuralStack/ScribeFlow/cache"
	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/types"
	"github.com/AuralStack/ScribeFlow/upload"
)

// chunkField is the multipart form field carrying chunk bytes.
const chunkField = "chunk"

func (s *Server) handleUploadCreate(w http.ResponseWriter, r *http.Request) {
	var req types.CreateUploadRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := s.deps.Uploads.Create(r.Context(), userID(r.Context()), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, upload.CreateResponse(session))
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	idx, err := pathIndex(r, "idx")
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := s.readChunkBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp, err := s.deps.Uploads.PutChunk(r.Context(), userID(r.Context()), r.PathValue("id"), idx, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.deps.Uploads.Status(r.Context(), userID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	var req types.CompleteUploadRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	owner := userID(r.Context())
	resp, err := s.deps.Uploads.Complete(r.Context(), owner, r.PathValue("id"), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// The new job must show up in the next listing.
	if err := s.deps.Cache.Delete(r.Context(), cache.UserJobsKey(owner)); err != nil {
		logger.WarnContext(r.Context(), "job list cache invalidation failed",
			"user_id", owner, "error", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUploadCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Uploads.Cancel(r.Context(), userID(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readChunkBody accepts a chunk either as the multipart field "chunk"
// or as a raw request body.
func (s *Server) readChunkBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxChunkBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		file, _, err := r.FormFile(chunkField)
		if err != nil {
			return nil, fault.InvalidInput("missing_chunk", "multipart field \"chunk\" is required")
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fault.InvalidInput("bad_chunk_body", "could not read chunk data")
		}
		return data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fault.InvalidInput("bad_chunk_body", "could not read chunk data")
	}
	return data, nil
}

// pathIndex parses a non-negative integer path segment.
func pathIndex(r *http.Request, name string) (int, error) {
	idx, err := strconv.Atoi(r.PathValue(name))
	if err != nil || idx < 0 {
		return 0, fault.InvalidInput("bad_chunk_index", "chunk index must be a non-negative integer")
	}
	return idx, nil
}
