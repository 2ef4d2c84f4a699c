package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AuralStack/ScribeFlow/events"
	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/media"
	"github.com/AuralStack/ScribeFlow/ratelimit"
	"github.com/AuralStack/ScribeFlow/storage"
	"github.com/AuralStack/ScribeFlow/types"
)

// DefaultChunkSize is the fixed chunk size handed to upload clients.
const DefaultChunkSize int64 = 5 * 1024 * 1024

// DefaultMaxFileSize caps the declared total size of one upload.
const DefaultMaxFileSize int64 = 2 * 1024 * 1024 * 1024

// MaxDurationHours is the advertised media duration ceiling. Actual
// duration is enforced by the pipeline's validating stage once the
// media has been probed.
const MaxDurationHours = 8.0

// estimatedBytesPerMinute sizes the quota check before the media has
// been probed. One MiB per minute matches ~128 kbps compressed audio;
// the pipeline records the real duration after transcription.
const estimatedBytesPerMinute int64 = 1 << 20

// JobEnqueuer receives the job built from an assembled upload. The
// jobs package implements it; tests substitute a recorder.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, job *types.Job) error
}

// ManagerConfig carries the upload policy knobs.
type ManagerConfig struct {
	ChunkSize   int64
	MaxFileSize int64
	SessionTTL  time.Duration
}

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ChunkSize:   DefaultChunkSize,
		MaxFileSize: DefaultMaxFileSize,
		SessionTTL:  DefaultSessionTTL,
	}
}

// Manager owns the upload session lifecycle: create, chunk put, status,
// finalize, cancel. Sessions move from active to exactly one of
// completed, cancelled, or expired.
type Manager struct {
	store    SessionStore
	blobs    storage.ObjectStore
	enqueuer JobEnqueuer
	bus      *events.EventBus
	quota    *ratelimit.QuotaManager
	tier     ratelimit.TierResolver
	cfg      ManagerConfig
	clock    func() time.Time
	newID    func() string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerConfig overrides the default policy.
func WithManagerConfig(cfg ManagerConfig) ManagerOption {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithBus attaches the event bus upload lifecycle events are published
// on.
func WithBus(bus *events.EventBus) ManagerOption {
	return func(m *Manager) {
		m.bus = bus
	}
}

// WithQuota attaches the tier quota gate. Session creation checks the
// declared file size; finalize checks the estimated minutes and
// storage before the job is enqueued.
func WithQuota(quota *ratelimit.QuotaManager, tier ratelimit.TierResolver) ManagerOption {
	return func(m *Manager) {
		m.quota = quota
		m.tier = tier
	}
}

func withClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.clock = clock
	}
}

func withIDGenerator(newID func() string) ManagerOption {
	return func(m *Manager) {
		m.newID = newID
	}
}

// NewManager creates an upload manager.
func NewManager(store SessionStore, blobs storage.ObjectStore, enqueuer JobEnqueuer, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		blobs:    blobs,
		enqueuer: enqueuer,
		tier:     ratelimit.FreeTier,
		cfg:      DefaultManagerConfig(),
		clock:    time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a new upload session for ownerID.
func (m *Manager) Create(ctx context.Context, ownerID string, req *types.CreateUploadRequest) (*types.UploadSession, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return nil, fault.InvalidInput("filename_required", "filename is required")
	}
	if req.TotalSize <= 0 {
		return nil, fault.InvalidInput("total_size_invalid", "total_size must be positive")
	}
	if req.TotalSize > m.cfg.MaxFileSize {
		return nil, fault.InvalidInput("file_too_large",
			fmt.Sprintf("total_size exceeds the %d byte limit", m.cfg.MaxFileSize))
	}
	if !media.IsAllowedMIMEType(req.MIMEType) {
		return nil, fault.InvalidInput("unsupported_media_type",
			fmt.Sprintf("mime type %q is not an accepted audio or video type", req.MIMEType))
	}
	if err := m.checkQuota(ctx, ownerID, ratelimit.QuotaRequest{
		FileSizeMB: req.TotalSize / (1 << 20),
	}); err != nil {
		return nil, err
	}

	session := types.NewUploadSession(
		m.newID(), ownerID, req.Filename,
		media.NormalizeMIMEType(req.MIMEType),
		req.TotalSize, m.cfg.ChunkSize, m.cfg.SessionTTL,
	)
	if err := m.store.Put(ctx, session); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "upload session created",
		"upload_id", session.ID, "filename", session.Filename,
		"total_size", session.TotalSize, "chunks", session.TotalChunks())
	events.NewEmitter(m.bus, "", "", ownerID).UploadCreated(session.ID, session.Filename, session.TotalSize)
	return session, nil
}

// PutChunk stores chunk idx. Duplicate puts of an already received
// index succeed without rewriting the blob; out-of-order puts are
// accepted.
func (m *Manager) PutChunk(ctx context.Context, ownerID, uploadID string, idx int, data []byte) (*types.ChunkPutResponse, error) {
	session, err := m.load(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}
	if err := m.requireActive(session); err != nil {
		return nil, err
	}

	if idx < 0 || idx >= session.TotalChunks() {
		return nil, fault.InvalidInput("chunk_index_out_of_range",
			fmt.Sprintf("chunk index %d outside [0, %d)", idx, session.TotalChunks()))
	}
	if expected := session.ExpectedChunkSize(idx); int64(len(data)) != expected {
		return nil, fault.InvalidInput("chunk_size_mismatch",
			fmt.Sprintf("chunk %d must be %d bytes, got %d", idx, expected, len(data)))
	}

	if session.HasChunk(idx) {
		return &types.ChunkPutResponse{ChunkIndex: idx, Uploaded: true}, nil
	}

	if _, err := m.blobs.Put(ctx, session.ChunkBlobKey(idx), data); err != nil {
		return nil, err
	}
	if err := m.store.MarkChunk(ctx, uploadID, idx); err != nil {
		return nil, err
	}
	return &types.ChunkPutResponse{ChunkIndex: idx, Uploaded: true}, nil
}

// Status reports upload progress.
func (m *Manager) Status(ctx context.Context, ownerID, uploadID string) (*types.UploadStatusResponse, error) {
	session, err := m.load(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}
	return &types.UploadStatusResponse{
		Status:         session.Status,
		ChunksUploaded: session.ChunksUploaded,
		TotalChunks:    session.TotalChunks(),
		BytesUploaded:  session.BytesUploaded(),
		TotalBytes:     session.TotalSize,
	}, nil
}

// Complete assembles the chunks into the job source blob, verifies the
// client hash when one was supplied, creates the batch job, and
// enqueues it. Any failure leaves the session active so the client can
// retry.
func (m *Manager) Complete(ctx context.Context, ownerID, uploadID string, req *types.CompleteUploadRequest) (*types.CompleteUploadResponse, error) {
	session, err := m.load(ctx, ownerID, uploadID)
	if err != nil {
		return nil, err
	}
	if err := m.requireActive(session); err != nil {
		return nil, err
	}
	if missing := session.MissingChunks(); len(missing) > 0 {
		return nil, fault.InvalidInput("chunks_missing",
			fmt.Sprintf("missing chunk indices: %v", missing))
	}
	if err := m.checkQuota(ctx, ownerID, ratelimit.QuotaRequest{
		FileSizeMB: session.TotalSize / (1 << 20),
		Minutes:    float64(session.TotalSize) / float64(estimatedBytesPerMinute),
		StorageGB:  float64(session.TotalSize) / (1 << 30),
	}); err != nil {
		return nil, err
	}

	jobID := m.newID()
	finalKey := storage.JobSourceKey(jobID, session.Filename)

	digest, size, err := m.assemble(ctx, session, finalKey)
	if err != nil {
		return nil, err
	}
	if req != nil && req.SHA256 != "" && !strings.EqualFold(req.SHA256, digest) {
		// The assembled blob does not match what the client sent; do
		// not keep it.
		if _, delErr := m.blobs.Delete(ctx, finalKey); delErr != nil {
			logger.WarnContext(ctx, "failed to delete mismatched blob", "key", finalKey, "error", delErr)
		}
		return nil, fault.IntegrityMismatch("sha256_mismatch",
			"assembled file hash does not match the client digest")
	}

	job := types.NewJob(jobID, ownerID, finalKey, session.Filename, session.MIMEType, size)
	if err := m.enqueuer.Enqueue(ctx, job); err != nil {
		if _, delErr := m.blobs.Delete(ctx, finalKey); delErr != nil {
			logger.WarnContext(ctx, "failed to delete orphaned blob", "key", finalKey, "error", delErr)
		}
		return nil, err
	}

	session.Status = types.UploadStatusCompleted
	session.FinalBlobKey = finalKey
	session.SHA256 = digest
	session.Touch()
	if err := m.store.Put(ctx, session); err != nil {
		return nil, err
	}
	m.deleteChunkBlobs(ctx, session)
	if m.quota != nil {
		if err := m.quota.RecordStorage(ctx, ownerID, float64(size)/(1<<30)); err != nil {
			logger.WarnContext(ctx, "failed to record storage usage",
				"upload_id", session.ID, "error", err)
		}
	}

	logger.InfoContext(ctx, "upload completed",
		"upload_id", session.ID, "job_id", jobID, "size", size, "sha256", digest)
	events.NewEmitter(m.bus, "", jobID, ownerID).UploadCompleted(session.ID, jobID)

	return &types.CompleteUploadResponse{
		JobID:    jobID,
		UploadID: session.ID,
		Status:   job.Status,
	}, nil
}

// Cancel abandons an active session and reclaims its chunk blobs.
func (m *Manager) Cancel(ctx context.Context, ownerID, uploadID string) error {
	session, err := m.load(ctx, ownerID, uploadID)
	if err != nil {
		return err
	}
	if err := m.requireActive(session); err != nil {
		return err
	}

	session.Status = types.UploadStatusCancelled
	session.Touch()
	if err := m.store.Put(ctx, session); err != nil {
		return err
	}
	m.deleteChunkBlobs(ctx, session)
	logger.InfoContext(ctx, "upload cancelled", "upload_id", session.ID)
	return nil
}

// assemble streams the chunks in ascending index order into a single
// blob under finalKey, hashing as it goes. Memory stays bounded by one
// chunk regardless of total size.
func (m *Manager) assemble(ctx context.Context, session *types.UploadSession, finalKey string) (string, int64, error) {
	hasher := sha256.New()
	pr, pw := io.Pipe()

	go func() {
		for _, idx := range session.ChunksUploaded {
			r, err := m.blobs.GetReader(ctx, session.ChunkBlobKey(idx))
			if err != nil {
				pw.CloseWithError(fmt.Errorf("read chunk %d: %w", idx, err))
				return
			}
			_, err = io.Copy(pw, io.TeeReader(r, hasher))
			r.Close()
			if err != nil {
				pw.CloseWithError(fmt.Errorf("copy chunk %d: %w", idx, err))
				return
			}
		}
		pw.Close()
	}()

	if _, err := m.blobs.PutReader(ctx, finalKey, pr); err != nil {
		// Unblock the producer goroutine if the write side bailed first.
		pr.CloseWithError(err)
		return "", 0, fmt.Errorf("assemble upload: %w", err)
	}

	info, err := m.blobs.Stat(ctx, finalKey)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), info.Size, nil
}

func (m *Manager) deleteChunkBlobs(ctx context.Context, session *types.UploadSession) {
	for _, idx := range session.ChunksUploaded {
		if _, err := m.blobs.Delete(ctx, session.ChunkBlobKey(idx)); err != nil {
			logger.WarnContext(ctx, "failed to delete chunk blob",
				"upload_id", session.ID, "chunk", idx, "error", err)
		}
	}
}

// load fetches the session, enforces ownership, and applies lazy
// expiry so a session past its deadline reads as expired even before
// the sweeper has run.
func (m *Manager) load(ctx context.Context, ownerID, uploadID string) (*types.UploadSession, error) {
	session, err := m.store.Get(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != ownerID {
		return nil, fault.Forbidden("upload_forbidden", "upload session belongs to another user")
	}
	if session.Status == types.UploadStatusActive && m.clock().After(session.ExpiresAt) {
		session.Status = types.UploadStatusExpired
		session.Touch()
		if err := m.store.Put(ctx, session); err != nil {
			return nil, err
		}
		m.deleteChunkBlobs(ctx, session)
	}
	return session, nil
}

// checkQuota asks the tier gate whether the request fits. A nil quota
// manager skips the check.
func (m *Manager) checkQuota(ctx context.Context, ownerID string, req ratelimit.QuotaRequest) error {
	if m.quota == nil {
		return nil
	}
	decision, err := m.quota.Check(ctx, ownerID, m.tier(ctx, ownerID), req)
	if err != nil {
		return err
	}
	return decision.Err()
}

func (m *Manager) requireActive(session *types.UploadSession) error {
	if session.Status != types.UploadStatusActive {
		return fault.InvalidInput("upload_not_active",
			fmt.Sprintf("upload session is %s", session.Status))
	}
	return nil
}

// CreateResponse builds the client-facing handle for a new session.
func CreateResponse(session *types.UploadSession) *types.CreateUploadResponse {
	return &types.CreateUploadResponse{
		UploadID:         session.ID,
		ChunkSize:        session.ChunkSize,
		AllowedMIMETypes: media.AllowedMIMETypes(),
		MaxDurationHours: MaxDurationHours,
	}
}
