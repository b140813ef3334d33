package memory

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/clock/system"
	"github.com/JakeFAU/compliance-archiver/internal/storage"
)

func TestArtifactStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewArtifactStore(ArtifactConfig{}, nil, nil)
	ctx := context.Background()
	for key, payload := range map[string][]byte{
		"captures/a.pdf": []byte("%PDF-1.4"),
		"captures/b.png": {},
	} {
		res, err := store.Upload(ctx, key, payload, nil, 1)
		if err != nil {
			t.Fatalf("Upload(%s) error = %v", key, err)
		}
		got, err := store.Get(ctx, key, res.VersionID)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", key, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("Get(%s) = %q, want %q", key, got, payload)
		}
	}
}

func TestArtifactStoreCopiesData(t *testing.T) {
	t.Parallel()

	store := NewArtifactStore(ArtifactConfig{}, nil, nil)
	payload := []byte("content")
	if _, err := store.Upload(context.Background(), "captures/a.pdf", payload, nil, 1); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	payload[0] = 'C'
	got, _ := store.Get(context.Background(), "captures/a.pdf", "")
	if string(got) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", got)
	}
}

func TestArtifactStoreCreateOnly(t *testing.T) {
	t.Parallel()

	store := NewArtifactStore(ArtifactConfig{}, nil, nil)
	ctx := context.Background()
	if _, err := store.Upload(ctx, "captures/a.pdf", []byte("one"), nil, 1); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	_, err := store.Upload(ctx, "captures/a.pdf", []byte("two"), nil, 1)
	if !errors.Is(err, capture.ErrStore) {
		t.Fatalf("expected store error on overwrite, got %v", err)
	}
}

func TestArtifactStoreMetadataAndLock(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := system.NewFrozen(now)
	store := NewArtifactStore(ArtifactConfig{LockRetention: true}, clock, nil)
	ctx := context.Background()

	res, err := store.Upload(ctx, "captures/a.pdf", []byte("12345"), map[string]string{"capture-id": "abc"}, 10)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if want := now.AddDate(0, 0, 10); !res.RetentionUntil.Equal(want) {
		t.Fatalf("RetentionUntil = %v, want %v", res.RetentionUntil, want)
	}
	meta, err := store.GetMetadata(ctx, "captures/a.pdf", "stale")
	if err != nil {
		t.Fatalf("GetMetadata() error = %v", err)
	}
	if meta.Size != 5 || meta.LockMode != storage.LockModeLocked || meta.VersionID != res.VersionID {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if meta.Custom["capture-id"] != "abc" || meta.Custom[storage.MetaRetentionUntil] == "" {
		t.Fatalf("custom metadata missing fields: %v", meta.Custom)
	}
	if !store.VerifyLock(ctx, "captures/a.pdf") {
		t.Fatal("expected lock to verify")
	}
	if store.Delete(ctx, "captures/a.pdf", "") {
		t.Fatal("expected delete to be refused under retention")
	}
	clock.Advance(11 * 24 * time.Hour)
	if !store.Delete(ctx, "captures/a.pdf", "") {
		t.Fatal("expected delete to succeed after retention")
	}
	if store.VerifyLock(ctx, "captures/a.pdf") {
		t.Fatal("deleted object must not verify")
	}
}

func TestArtifactStoreUnlockedOutsideProduction(t *testing.T) {
	t.Parallel()

	store := NewArtifactStore(ArtifactConfig{}, nil, nil)
	ctx := context.Background()
	if _, err := store.Upload(ctx, "captures/a.pdf", []byte("x"), nil, 10); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if store.VerifyLock(ctx, "captures/a.pdf") {
		t.Fatal("expected no lock outside production")
	}
	if !store.Delete(ctx, "captures/a.pdf", "") || !store.Delete(ctx, "captures/a.pdf", "") {
		t.Fatal("expected idempotent delete")
	}
}

func TestArtifactStorePresign(t *testing.T) {
	t.Parallel()

	store := NewArtifactStore(ArtifactConfig{PresignTTL: 2 * time.Minute}, nil, nil)
	ctx := context.Background()
	res, err := store.Upload(ctx, "captures/a.pdf", []byte("x"), nil, 1)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	cases := []struct {
		ttl     time.Duration
		version string
		want    string
	}{
		{ttl: 1800 * time.Second, want: "900"},
		{ttl: 0, want: "120"},
		{ttl: 30 * time.Second, version: "gone", want: "30"},
	}
	for _, tc := range cases {
		raw, err := store.PresignDownload(ctx, "captures/a.pdf", tc.ttl, tc.version)
		if err != nil {
			t.Fatalf("PresignDownload() error = %v", err)
		}
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if u.Scheme != "memory" || u.Path != "/captures/a.pdf" {
			t.Fatalf("unexpected url %s", raw)
		}
		if got := u.Query().Get("expires_in"); got != tc.want {
			t.Fatalf("expires_in = %s, want %s", got, tc.want)
		}
		if got := u.Query().Get("version"); got != res.VersionID {
			t.Fatalf("version = %s, want latest %s", got, res.VersionID)
		}
	}

	if _, err := store.PresignDownload(ctx, "captures/missing.pdf", 0, ""); !errors.Is(err, capture.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestArtifactStoreDeleteUnknownVersionTargetsLatest(t *testing.T) {
	t.Parallel()

	store := NewArtifactStore(ArtifactConfig{}, nil, nil)
	ctx := context.Background()
	if _, err := store.Upload(ctx, "captures/a.pdf", []byte("x"), nil, 1); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if !store.Delete(ctx, "captures/a.pdf", "gone") {
		t.Fatal("expected delete with unknown version to remove the latest version")
	}
	if _, err := store.Get(ctx, "captures/a.pdf", ""); !errors.Is(err, capture.ErrNotFound) {
		t.Fatalf("expected object to be gone, got %v", err)
	}
}
