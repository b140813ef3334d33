package pipeline

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/clock/system"
	"github.com/JakeFAU/compliance-archiver/internal/hash/sha256"
	"github.com/JakeFAU/compliance-archiver/internal/id/uuid"
	rendermock "github.com/JakeFAU/compliance-archiver/internal/render/mock"
	"github.com/JakeFAU/compliance-archiver/internal/storage"
	"github.com/JakeFAU/compliance-archiver/internal/storage/memory"
)

var keyPattern = regexp.MustCompile(`^captures/[0-9a-f-]{36}\.pdf$`)

type failingRenderer struct {
	calls int
}

func (*failingRenderer) Name() string { return "failing" }

func (f *failingRenderer) Render(context.Context, string, capture.Kind, capture.Viewport) ([]byte, error) {
	f.calls++
	return nil, errors.New("net::ERR_NAME_NOT_RESOLVED at https://secret.internal")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []capture.Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, _ string, payload any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if evt, ok := payload.(capture.Event); ok {
		r.events = append(r.events, evt)
	}
	return "msg-1", r.err
}

type fixture struct {
	pipeline  *Pipeline
	artifacts *memory.ArtifactStore
	records   *memory.CaptureStore
	publisher *recordingPublisher
	logs      *observer.ObservedLogs
}

func newFixture(t *testing.T, renderer capture.Renderer) fixture {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	clock := system.NewFrozen(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	artifacts := memory.NewArtifactStore(memory.ArtifactConfig{LockRetention: true}, clock, nil)
	records := memory.NewCaptureStore()
	pub := &recordingPublisher{}

	p, err := New(renderer, sha256.New(), artifacts, records, pub, uuid.New(), clock,
		Config{RetentionDays: 2555, EventsTopic: "capture-events"}, zap.New(core))
	require.NoError(t, err)
	return fixture{pipeline: p, artifacts: artifacts, records: records, publisher: pub, logs: logs}
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(nil, sha256.New(), memory.NewArtifactStore(memory.ArtifactConfig{}, nil, nil),
		memory.NewCaptureStore(), nil, uuid.New(), system.New(), Config{}, nil)
	require.Error(t, err)
}

func TestRunSuccessfulPDFCapture(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rendermock.New())
	ctx := context.Background()

	res, err := f.pipeline.Run(ctx, capture.Request{
		URL:      "https://example.com",
		Kind:     "pdf",
		Owner:    "user-a",
		Metadata: map[string]string{"ticket": "CMP-1", "content_length": "spoofed"},
	})
	require.NoError(t, err)
	require.Equal(t, capture.StatusCompleted, res.Status)
	require.Empty(t, res.Error)
	require.Regexp(t, `^[0-9a-f]{64}$`, res.Digest)
	require.Regexp(t, keyPattern, res.Key)
	require.Equal(t, "mock", res.Renderer)
	require.NotNil(t, res.Upload)
	require.NotNil(t, res.Record)

	stored, err := f.artifacts.Get(ctx, res.Key, res.Upload.VersionID)
	require.NoError(t, err)
	require.Equal(t, sha256.New().Hash(stored), res.Digest)
	require.True(t, f.artifacts.VerifyLock(ctx, res.Key))

	rec, ok := f.records.Get(ctx, res.ID)
	require.True(t, ok)
	require.Equal(t, res.Digest, rec.Digest)
	require.Equal(t, strconv.Itoa(len(stored)), rec.Metadata["content_length"])
	require.Equal(t, res.Upload.VersionID, rec.Metadata["s3_version_id"])
	require.Equal(t, "CMP-1", rec.Metadata["ticket"])
	require.Equal(t, "2033-02-27T12:00:00Z", rec.Metadata["retention_until"])
	require.Equal(t, capture.EpochSeconds(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)), rec.CreatedAt)

	meta, err := f.artifacts.GetMetadata(ctx, res.Key, "")
	require.NoError(t, err)
	require.Equal(t, "CMP-1", meta.Custom["custom-ticket"])
	require.Equal(t, res.ID, meta.Custom["capture-id"])
	require.Equal(t, "https://example.com", meta.Custom["source-url"])

	require.Len(t, f.publisher.events, 1)
	require.Equal(t, capture.StatusCompleted, f.publisher.events[0].Status)

	var stages []string
	for _, entry := range f.logs.FilterMessage("capture stage").All() {
		stages = append(stages, entry.ContextMap()["stage"].(string))
	}
	require.Equal(t, []string{"started", "rendered", "uploaded", "recorded"}, stages)
}

func TestRunRejectsInvalidKindBeforeIO(t *testing.T) {
	t.Parallel()

	renderer := &failingRenderer{}
	f := newFixture(t, renderer)

	_, err := f.pipeline.Run(context.Background(), capture.Request{URL: "https://example.com", Kind: "svg", Owner: "u"})
	require.ErrorIs(t, err, capture.ErrValidation)
	require.Zero(t, renderer.calls)
	require.Empty(t, f.publisher.events)

	_, err = f.pipeline.Run(context.Background(), capture.Request{URL: "ftp://example.com", Kind: "pdf", Owner: "u"})
	require.ErrorIs(t, err, capture.ErrValidation)
}

func TestRunRenderFailureWritesNoRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &failingRenderer{})
	res, err := f.pipeline.Run(context.Background(), capture.Request{URL: "https://example.com", Kind: "pdf", Owner: "user-a"})
	require.NoError(t, err)
	require.Equal(t, capture.StatusFailed, res.Status)
	require.Equal(t, GenericFailure, res.Error)
	require.Empty(t, res.Digest)
	require.Nil(t, res.Record)
	require.NotContains(t, res.Error, "ERR_NAME_NOT_RESOLVED")

	page, err := f.records.ListByOwner(context.Background(), "user-a", 10, "")
	require.NoError(t, err)
	require.Zero(t, page.Count)

	failures := f.logs.FilterMessage("capture failed").All()
	require.Len(t, failures, 1)
	fields := failures[0].ContextMap()
	require.Equal(t, res.ID, fields["capture_id"])
	require.Equal(t, "failed", fields["stage"])
	require.Contains(t, fields["error"], "ERR_NAME_NOT_RESOLVED")

	require.Len(t, f.publisher.events, 1)
	require.Equal(t, capture.StatusFailed, f.publisher.events[0].Status)
}

func TestRunUploadFailureSkipsRecord(t *testing.T) {
	t.Parallel()

	artifacts := &storage.MockArtifactStore{}
	records := &storage.MockProvenanceStore{}
	artifacts.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, 30).
		Return(capture.UploadResult{}, capture.ErrStore)

	p, err := New(rendermock.New(), sha256.New(), artifacts, records, nil, uuid.New(), system.New(),
		Config{RetentionDays: 30}, zap.NewNop())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), capture.Request{URL: "https://example.com", Kind: "png", Owner: "u"})
	require.NoError(t, err)
	require.Equal(t, capture.StatusFailed, res.Status)
	artifacts.AssertExpectations(t)
	records.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRunCreatesRecordExactlyOnce(t *testing.T) {
	t.Parallel()

	artifacts := &storage.MockArtifactStore{}
	records := &storage.MockProvenanceStore{}
	artifacts.On("Upload", mock.Anything, mock.MatchedBy(func(key string) bool {
		return keyPattern.MatchString(key)
	}), rendermock.PDF, mock.Anything, 2555).
		Return(capture.UploadResult{VersionID: "1700", RetentionUntil: time.Now().AddDate(7, 0, 0)}, nil)
	records.On("Create", mock.Anything, mock.AnythingOfType("capture.Record")).
		Return(capture.Record{ID: "stored"}, nil)

	p, err := New(rendermock.New(), sha256.New(), artifacts, records, nil, uuid.New(), system.New(),
		Config{RetentionDays: 2555}, zap.NewNop())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), capture.Request{URL: "https://example.com", Kind: "pdf", Owner: "u"})
	require.NoError(t, err)
	require.Equal(t, capture.StatusCompleted, res.Status)
	records.AssertNumberOfCalls(t, "Create", 1)
}

func TestRunRecordFailureIsSanitized(t *testing.T) {
	t.Parallel()

	artifacts := &storage.MockArtifactStore{}
	records := &storage.MockProvenanceStore{}
	artifacts.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(capture.UploadResult{VersionID: "1"}, nil)
	records.On("Create", mock.Anything, mock.Anything).
		Return(capture.Record{}, errors.New("pq: password authentication failed"))

	p, err := New(rendermock.New(), sha256.New(), artifacts, records, nil, uuid.New(), system.New(), Config{}, zap.NewNop())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), capture.Request{URL: "https://example.com", Kind: "pdf", Owner: "u"})
	require.NoError(t, err)
	require.Equal(t, capture.StatusFailed, res.Status)
	require.Equal(t, GenericFailure, res.Error)
	records.AssertNumberOfCalls(t, "Create", 1)
}

func TestRunIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rendermock.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.pipeline.Run(ctx, capture.Request{URL: "https://example.com", Kind: "pdf", Owner: "u"})
	require.NoError(t, err)
	require.Equal(t, capture.StatusCompleted, res.Status)
}

func TestPublishFailureDoesNotChangeResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t, rendermock.New())
	f.publisher.err = errors.New("topic missing")

	res, err := f.pipeline.Run(context.Background(), capture.Request{URL: "https://example.com", Kind: "pdf", Owner: "u"})
	require.NoError(t, err)
	require.Equal(t, capture.StatusCompleted, res.Status)
	require.Equal(t, 1, f.logs.FilterMessage("publish capture event failed").Len())
}
