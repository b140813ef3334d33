package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/app"
	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/config"
	"github.com/JakeFAU/compliance-archiver/internal/publisher/memory"
)

func memoryConfig() config.Config {
	return config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Port: 8080, RequestTimeout: 30},
		Renderer:    config.RendererConfig{Strategy: "mock"},
		Storage:     config.StorageConfig{Provider: "memory", RetentionDays: 30, PresignTTLSeconds: 300},
		DB:          config.DBConfig{Provider: "memory"},
		PubSub:      config.PubSubConfig{EventsTopic: "capture-events"},
		Worker:      config.WorkerConfig{Concurrency: 2, QueueDepth: 4},
		RateLimit:   config.RateLimitConfig{PerOwnerRPS: 10, Burst: 10},
	}
}

func TestNewWithMemoryProviders(t *testing.T) {
	a, err := app.New(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Equal(t, "mock", a.Renderer.Name())
	assert.Nil(t, a.Pool())
	assert.NoError(t, a.Ready(context.Background()))
	require.NotNil(t, a.Server)
}

func TestQueuedJobIsArchived(t *testing.T) {
	a, err := app.New(context.Background(), memoryConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Dispatcher.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	_, err = a.Dispatcher.Submit(ctx, capture.Request{
		URL:   "https://example.com/disclosures",
		Kind:  capture.KindPDF,
		Owner: "alice",
	}, capture.SourceCLI, "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		page, err := a.Records.ListByOwner(context.Background(), "alice", 10, "")
		return err == nil && page.Count == 1
	}, 2*time.Second, 10*time.Millisecond)

	events := a.Publisher.(*memory.Publisher)
	require.Eventually(t, func() bool {
		return len(events.Events("capture-events")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, capture.StatusCompleted, events.Events("capture-events")[0].Status)
	assert.Equal(t, capture.StatusCompleted, events.Events("capture-events")[0].Status)
}

func TestAuthEnabledRequiresToken(t *testing.T) {
	cfg := memoryConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, HMACSecret: "s3cret"}
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/auth/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewRejectsUnknownProviders(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"storage", func(c *config.Config) { c.Storage.Provider = "s3" }, "unknown storage provider"},
		{"database", func(c *config.Config) { c.DB.Provider = "dynamo" }, "unknown database provider"},
		{"renderer", func(c *config.Config) { c.Renderer.Strategy = "webkit" }, "unknown renderer strategy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := memoryConfig()
			tc.mutate(&cfg)
			_, err := app.New(context.Background(), cfg, zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
