package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/ratelimit"
	"github.com/AuralStack/ScribeFlow/storage"
	"github.com/AuralStack/ScribeFlow/storage/local"
	"github.com/AuralStack/ScribeFlow/types"
)

type captureEnqueuer struct {
	jobs []*types.Job
	err  error
}

func (c *captureEnqueuer) Enqueue(_ context.Context, job *types.Job) error {
	if c.err != nil {
		return c.err
	}
	c.jobs = append(c.jobs, job)
	return nil
}

type managerFixture struct {
	manager  *Manager
	store    *MemorySessionStore
	blobs    storage.ObjectStore
	enqueuer *captureEnqueuer
	now      time.Time
}

func newFixture(t *testing.T, opts ...ManagerOption) *managerFixture {
	t.Helper()
	blobs, err := local.New(t.TempDir())
	require.NoError(t, err)

	f := &managerFixture{
		store:    NewMemorySessionStore(),
		blobs:    blobs,
		enqueuer: &captureEnqueuer{},
		// NewUploadSession stamps ExpiresAt from the wall clock, so the
		// injected clock has to start there too.
		now: time.Now().UTC(),
	}
	ids := 0
	base := []ManagerOption{
		WithManagerConfig(ManagerConfig{ChunkSize: 4, MaxFileSize: 1024, SessionTTL: time.Hour}),
		withClock(func() time.Time { return f.now }),
		withIDGenerator(func() string { ids++; return fmt.Sprintf("id-%d", ids) }),
	}
	f.manager = NewManager(f.store, f.blobs, f.enqueuer, append(base, opts...)...)
	return f
}

func (f *managerFixture) createSession(t *testing.T, totalSize int64) *types.UploadSession {
	t.Helper()
	session, err := f.manager.Create(context.Background(), "user-1", &types.CreateUploadRequest{
		Filename:  "meeting.mp3",
		TotalSize: totalSize,
		MIMEType:  "audio/mpeg",
	})
	require.NoError(t, err)
	return session
}

func TestManager_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  types.CreateUploadRequest
		code string
	}{
		{"empty filename", types.CreateUploadRequest{TotalSize: 10, MIMEType: "audio/wav"}, "filename_required"},
		{"zero size", types.CreateUploadRequest{Filename: "a.wav", MIMEType: "audio/wav"}, "total_size_invalid"},
		{"too large", types.CreateUploadRequest{Filename: "a.wav", TotalSize: 2048, MIMEType: "audio/wav"}, "file_too_large"},
		{"text mime", types.CreateUploadRequest{Filename: "a.txt", TotalSize: 10, MIMEType: "text/plain"}, "unsupported_media_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Create(ctx, "user-1", &tt.req)
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.KindInvalidInput))
			assert.Equal(t, tt.code, fault.CodeOf(err))
		})
	}
}

func TestManager_CreateReturnsActiveSession(t *testing.T) {
	f := newFixture(t)

	session := f.createSession(t, 10)
	assert.Equal(t, types.UploadStatusActive, session.Status)
	assert.Equal(t, 3, session.TotalChunks())

	resp := CreateResponse(session)
	assert.Equal(t, session.ID, resp.UploadID)
	assert.Equal(t, int64(4), resp.ChunkSize)
	assert.Contains(t, resp.AllowedMIMETypes, "audio/mpeg")
	assert.Contains(t, resp.AllowedMIMETypes, "video/mp4")
}

func TestManager_PutChunkValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.createSession(t, 10)

	_, err := f.manager.PutChunk(ctx, "user-1", session.ID, 3, []byte("abcd"))
	assert.Equal(t, "chunk_index_out_of_range", fault.CodeOf(err))

	_, err = f.manager.PutChunk(ctx, "user-1", session.ID, 0, []byte("abc"))
	assert.Equal(t, "chunk_size_mismatch", fault.CodeOf(err))

	// Last chunk carries the 2-byte remainder.
	_, err = f.manager.PutChunk(ctx, "user-1", session.ID, 2, []byte("abcd"))
	assert.Equal(t, "chunk_size_mismatch", fault.CodeOf(err))

	_, err = f.manager.PutChunk(ctx, "user-2", session.ID, 0, []byte("abcd"))
	assert.True(t, fault.IsKind(err, fault.KindForbidden))
}

func TestManager_PutChunkOutOfOrderAndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.createSession(t, 10)

	_, err := f.manager.PutChunk(ctx, "user-1", session.ID, 2, []byte("ij"))
	require.NoError(t, err)
	_, err = f.manager.PutChunk(ctx, "user-1", session.ID, 0, []byte("abcd"))
	require.NoError(t, err)
	resp, err := f.manager.PutChunk(ctx, "user-1", session.ID, 0, []byte("abcd"))
	require.NoError(t, err)
	assert.True(t, resp.Uploaded)

	status, err := f.manager.Status(ctx, "user-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, status.ChunksUploaded)
	assert.Equal(t, 3, status.TotalChunks)
	assert.Equal(t, int64(6), status.BytesUploaded)
	assert.Equal(t, int64(10), status.TotalBytes)
}

func TestManager_CompleteRejectsWithMissingIndices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.createSession(t, 10)

	_, err := f.manager.PutChunk(ctx, "user-1", session.ID, 1, []byte("efgh"))
	require.NoError(t, err)

	_, err = f.manager.Complete(ctx, "user-1", session.ID, nil)
	require.Error(t, err)
	assert.Equal(t, "chunks_missing", fault.CodeOf(err))
	assert.Contains(t, err.Error(), "[0 2]")

	// A failed finalize leaves the session active.
	status, err := f.manager.Status(ctx, "user-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusActive, status.Status)
}

func uploadAll(t *testing.T, f *managerFixture, sessionID string, payload []byte, chunkSize int) {
	t.Helper()
	for idx := 0; idx*chunkSize < len(payload); idx++ {
		end := (idx + 1) * chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		_, err := f.manager.PutChunk(context.Background(), "user-1", sessionID, idx, payload[idx*chunkSize:end])
		require.NoError(t, err)
	}
}

func TestManager_CompleteAssemblesAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := []byte("abcdefghij")
	session := f.createSession(t, int64(len(payload)))
	uploadAll(t, f, session.ID, payload, 4)

	sum := sha256.Sum256(payload)
	resp, err := f.manager.Complete(ctx, "user-1", session.ID, &types.CompleteUploadRequest{
		SHA256: hex.EncodeToString(sum[:]),
	})
	require.NoError(t, err)
	assert.Equal(t, session.ID, resp.UploadID)
	assert.Equal(t, types.JobStatusCreated, resp.Status)

	require.Len(t, f.enqueuer.jobs, 1)
	job := f.enqueuer.jobs[0]
	assert.Equal(t, resp.JobID, job.ID)
	assert.Equal(t, "user-1", job.OwnerID)
	assert.Equal(t, int64(len(payload)), job.TotalSize)
	assert.Equal(t, storage.JobSourceKey(job.ID, "meeting.mp3"), job.SourceBlobKey)

	assembled, err := f.blobs.Get(ctx, job.SourceBlobKey)
	require.NoError(t, err)
	assert.Equal(t, payload, assembled)

	// Chunk blobs are reclaimed once the combined blob exists.
	for idx := 0; idx < 3; idx++ {
		exists, err := f.blobs.Exists(ctx, session.ChunkBlobKey(idx))
		require.NoError(t, err)
		assert.False(t, exists, "chunk %d should be deleted", idx)
	}

	// The terminal session refuses further work.
	_, err = f.manager.Complete(ctx, "user-1", session.ID, nil)
	assert.Equal(t, "upload_not_active", fault.CodeOf(err))
}

func TestManager_CompleteHashMismatchKeepsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payload := []byte("abcdefghij")
	session := f.createSession(t, int64(len(payload)))
	uploadAll(t, f, session.ID, payload, 4)

	_, err := f.manager.Complete(ctx, "user-1", session.ID, &types.CompleteUploadRequest{
		SHA256: "deadbeef",
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindIntegrityMismatch))
	assert.Empty(t, f.enqueuer.jobs)

	// Session stays active and the chunks survive for a retry.
	status, err := f.manager.Status(ctx, "user-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusActive, status.Status)
	assert.Equal(t, []int{0, 1, 2}, status.ChunksUploaded)
}

func TestManager_CompleteEnqueueFailureLeavesSessionActive(t *testing.T) {
	f := newFixture(t)
	f.enqueuer.err = fault.Unavailable("queue_unavailable", "queue down")
	ctx := context.Background()
	payload := []byte("abcdefgh")
	session := f.createSession(t, int64(len(payload)))
	uploadAll(t, f, session.ID, payload, 4)

	_, err := f.manager.Complete(ctx, "user-1", session.ID, nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindUnavailable))

	status, err := f.manager.Status(ctx, "user-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusActive, status.Status)
}

func TestManager_Cancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.createSession(t, 10)
	_, err := f.manager.PutChunk(ctx, "user-1", session.ID, 0, []byte("abcd"))
	require.NoError(t, err)

	require.NoError(t, f.manager.Cancel(ctx, "user-1", session.ID))

	exists, err := f.blobs.Exists(ctx, session.ChunkBlobKey(0))
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = f.manager.PutChunk(ctx, "user-1", session.ID, 1, []byte("efgh"))
	assert.Equal(t, "upload_not_active", fault.CodeOf(err))
}

func TestManager_LazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.createSession(t, 10)
	_, err := f.manager.PutChunk(ctx, "user-1", session.ID, 0, []byte("abcd"))
	require.NoError(t, err)

	f.now = f.now.Add(2 * time.Hour)

	status, err := f.manager.Status(ctx, "user-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusExpired, status.Status)

	// Expiry reclaims the chunk blobs without waiting for the sweeper.
	exists, err := f.blobs.Exists(ctx, session.ChunkBlobKey(0))
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = f.manager.PutChunk(ctx, "user-1", session.ID, 0, []byte("abcd"))
	assert.Equal(t, "upload_not_active", fault.CodeOf(err))
}

func TestManager_CreateDeniedOverTierFileSize(t *testing.T) {
	quota := ratelimit.NewQuotaManager(ratelimit.NewMemoryUsageStore())
	f := newFixture(t,
		WithManagerConfig(ManagerConfig{ChunkSize: 1 << 20, MaxFileSize: 1 << 30, SessionTTL: time.Hour}),
		WithQuota(quota, ratelimit.FreeTier),
	)

	// 200 MiB fits the platform ceiling but not the free tier's 100 MB.
	_, err := f.manager.Create(context.Background(), "user-1", &types.CreateUploadRequest{
		Filename:  "town-hall.mp3",
		TotalSize: 200 << 20,
		MIMEType:  "audio/mpeg",
	})
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindRateLimited))

	var qe *ratelimit.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Contains(t, qe.Violations, types.ViolationFileSize)
}

func TestManager_CompleteDeniedWhenDailyMinutesExhausted(t *testing.T) {
	ctx := context.Background()
	quota := ratelimit.NewQuotaManager(ratelimit.NewMemoryUsageStore())
	require.NoError(t, quota.RecordTranscription(ctx, "user-1", 59))

	f := newFixture(t,
		WithManagerConfig(ManagerConfig{ChunkSize: 1 << 20, MaxFileSize: 4 << 20, SessionTTL: time.Hour}),
		WithQuota(quota, ratelimit.FreeTier),
	)

	// 2 MiB estimates to 2 minutes; the user has 1 of 60 daily left.
	// Session creation and chunk puts still succeed.
	payload := bytes.Repeat([]byte{0x5a}, 2<<20)
	session := f.createSession(t, int64(len(payload)))
	uploadAll(t, f, session.ID, payload, 1<<20)

	_, err := f.manager.Complete(ctx, "user-1", session.ID, nil)
	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindRateLimited))
	assert.Equal(t, "quota_exceeded", fault.CodeOf(err))

	var qe *ratelimit.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, []string{types.ViolationDailyMinutes}, qe.Violations)
	assert.Less(t, qe.Remaining.DailyMinutes, 2.0)
	assert.Empty(t, f.enqueuer.jobs)

	// The denial leaves the session active for a retry after reset.
	status, err := f.manager.Status(ctx, "user-1", session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatusActive, status.Status)
}

func TestManager_CompleteRecordsStorage(t *testing.T) {
	ctx := context.Background()
	quota := ratelimit.NewQuotaManager(ratelimit.NewMemoryUsageStore())
	f := newFixture(t, WithQuota(quota, ratelimit.FreeTier))

	payload := []byte("abcdefghij")
	session := f.createSession(t, int64(len(payload)))
	uploadAll(t, f, session.ID, payload, 4)

	_, err := f.manager.Complete(ctx, "user-1", session.ID, nil)
	require.NoError(t, err)

	u, err := quota.Usage(ctx, "user-1")
	require.NoError(t, err)
	assert.Greater(t, u.StorageUsedGB, 0.0)
}
