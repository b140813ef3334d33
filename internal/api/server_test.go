package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/auth"
	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/clock/system"
	"github.com/JakeFAU/compliance-archiver/internal/config"
	"github.com/JakeFAU/compliance-archiver/internal/dispatcher"
	"github.com/JakeFAU/compliance-archiver/internal/hash/sha256"
	"github.com/JakeFAU/compliance-archiver/internal/id/uuid"
	"github.com/JakeFAU/compliance-archiver/internal/pipeline"
	"github.com/JakeFAU/compliance-archiver/internal/policy/ratelimit"
	queuememory "github.com/JakeFAU/compliance-archiver/internal/queue/memory"
	"github.com/JakeFAU/compliance-archiver/internal/render/mock"
	"github.com/JakeFAU/compliance-archiver/internal/storage/memory"
)

var testSecret = []byte("api-test-secret")

type fixture struct {
	server    *Server
	records   *memory.CaptureStore
	artifacts *memory.ArtifactStore
	schedules *memory.ScheduleStore
	queue     *queuememory.Queue
}

type fixtureOption func(*Deps)

func withRenderer(r capture.Renderer) fixtureOption {
	return func(d *Deps) {
		p, err := pipeline.New(r, sha256.New(), d.Artifacts, d.Records, nil, uuid.New(),
			system.New(), pipeline.Config{RetentionDays: 30}, zap.NewNop())
		if err != nil {
			panic(err)
		}
		d.Pipeline = p
	}
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	clock := system.New()
	f := &fixture{
		records:   memory.NewCaptureStore(),
		artifacts: memory.NewArtifactStore(memory.ArtifactConfig{LockRetention: true}, clock, zap.NewNop()),
		schedules: memory.NewScheduleStore(clock),
		queue:     queuememory.NewQueue(8),
	}
	p, err := pipeline.New(mock.New(), sha256.New(), f.artifacts, f.records, nil, uuid.New(),
		clock, pipeline.Config{RetentionDays: 30}, zap.NewNop())
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(nil, auth.VerifierConfig{HMACSecret: testSecret})
	require.NoError(t, err)

	deps := Deps{
		Pipeline:  p,
		Jobs:      dispatcher.New(f.queue, nil, uuid.New(), clock, zap.NewNop()),
		Artifacts: f.artifacts,
		Records:   f.records,
		Schedules: f.schedules,
		IDs:       uuid.New(),
		Verifier:  verifier,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	cfg := config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Port: 8080, RequestTimeout: 30},
		Storage:     config.StorageConfig{PresignTTLSeconds: 300},
	}
	f.server = NewServer(deps, cfg, zap.NewNop())
	return f
}

func token(t *testing.T, subject string, groups ...string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":            subject,
		"exp":            time.Now().Add(time.Hour).Unix(),
		"cognito:groups": groups,
	}).SignedString(testSecret)
	require.NoError(t, err)
	return raw
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "mock", body["renderer"])
	assert.Equal(t, "test", body["environment"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *Deps) {
		d.Ready = func(context.Context) error { return errors.New("db down") }
	})
	rec := f.do(t, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.do(t, http.MethodGet, "/healthz", "", nil)
	rec := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RequiresToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/captures", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/v1/captures", "garbage", nil).Code)
}

func TestServer_AuthStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/auth/status", token(t, "alice", "user"), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alice", body["user_id"])
	assert.Equal(t, "operator", body["role"])
	assert.Equal(t, true, body["auth_enabled"])
}

func TestServer_AuthDisabledRunsAsDevAdmin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *Deps) { d.Verifier = nil })
	rec := f.do(t, http.MethodGet, "/v1/auth/status", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, auth.DevIdentity().Subject, body["user_id"])
	assert.Equal(t, "admin", body["role"])
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(d *Deps) { d.Records = panickingRecords{} })
	rec := f.do(t, http.MethodGet, "/v1/captures/abc", token(t, "alice", "user"), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

type panickingRecords struct{ capture.ProvenanceStore }

func (panickingRecords) Get(context.Context, string) (capture.Record, bool) {
	panic("boom")
}

func TestWriteFailureMapsKinds(t *testing.T) {
	t.Parallel()

	s := &Server{logger: zap.NewNop()}
	cases := []struct {
		err  error
		want int
	}{
		{capture.ErrValidation, http.StatusBadRequest},
		{capture.ErrNotFound, http.StatusNotFound},
		{capture.ErrAccessDenied, http.StatusForbidden},
		{capture.ErrNotImplemented, http.StatusNotImplemented},
		{capture.ErrStore, http.StatusInternalServerError},
		{errors.New("surprise"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		s.writeFailure(rec, tc.err)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
	}

	rec := httptest.NewRecorder()
	s.writeFailure(rec, errors.Join(capture.ErrStore, errors.New("pg: connection refused")))
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func limiterOption(rps float64, burst int) fixtureOption {
	return func(d *Deps) {
		d.Limiter = ratelimit.New(ratelimit.Config{PerOwnerRPS: rps, Burst: burst})
	}
}
