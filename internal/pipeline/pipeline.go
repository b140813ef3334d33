// Package pipeline runs a capture attempt: render, hash, upload under a
// retention lock, then record provenance.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/logging"
	"github.com/JakeFAU/compliance-archiver/internal/metrics"
)

// GenericFailure is the only failure text a caller ever sees.
const GenericFailure = "Capture failed - check logs for details"

const tracerName = "github.com/JakeFAU/compliance-archiver/internal/pipeline"

// Config controls Pipeline behavior.
type Config struct {
	RetentionDays int
	EventsTopic   string
}

// Pipeline sequences Renderer, Hasher, ArtifactStore and ProvenanceStore.
type Pipeline struct {
	renderer  capture.Renderer
	hasher    capture.Hasher
	artifacts capture.ArtifactStore
	records   capture.ProvenanceStore
	publisher capture.Publisher
	ids       capture.IDGenerator
	clock     capture.Clock
	tracer    trace.Tracer
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Pipeline. publisher may be nil.
func New(
	renderer capture.Renderer,
	hasher capture.Hasher,
	artifacts capture.ArtifactStore,
	records capture.ProvenanceStore,
	publisher capture.Publisher,
	ids capture.IDGenerator,
	clock capture.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Pipeline, error) {
	switch {
	case renderer == nil:
		return nil, errors.New("renderer is required")
	case hasher == nil:
		return nil, errors.New("hasher is required")
	case artifacts == nil:
		return nil, errors.New("artifact store is required")
	case records == nil:
		return nil, errors.New("provenance store is required")
	case ids == nil:
		return nil, errors.New("id generator is required")
	case clock == nil:
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		renderer:  renderer,
		hasher:    hasher,
		artifacts: artifacts,
		records:   records,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		tracer:    otel.Tracer(tracerName),
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Renderer reports the active rendering strategy.
func (p *Pipeline) Renderer() string {
	return p.renderer.Name()
}

// Validate checks a request without side effects.
func Validate(req capture.Request) (capture.Request, error) {
	kind, err := capture.ParseKind(string(req.Kind))
	if err != nil {
		return capture.Request{}, err
	}
	req.Kind = kind
	req.URL = strings.TrimSpace(req.URL)
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return capture.Request{}, fmt.Errorf("%w: url must be an absolute http(s) URL", capture.ErrValidation)
	}
	if strings.TrimSpace(req.Owner) == "" {
		return capture.Request{}, fmt.Errorf("%w: owner is required", capture.ErrValidation)
	}
	return req, nil
}

// Run executes one capture attempt. Invalid requests are rejected with an
// ErrValidation error before any I/O. Every other outcome, including render,
// upload and record failures, is reported in the returned Result; internal
// error text only reaches the logs. The attempt runs to completion even if
// ctx is canceled; deadlines inside the renderer and stores still apply.
func (p *Pipeline) Run(ctx context.Context, req capture.Request) (capture.Result, error) {
	req, err := Validate(req)
	if err != nil {
		return capture.Result{}, err
	}
	id, err := p.ids.NewID()
	if err != nil {
		return capture.Result{}, fmt.Errorf("%w: generate capture id: %w", capture.ErrStore, err)
	}

	ctx = context.WithoutCancel(ctx)
	ctx, span := p.tracer.Start(ctx, "capture",
		trace.WithAttributes(
			attribute.String("capture.id", id),
			attribute.String("capture.url", req.URL),
			attribute.String("capture.artifact_type", string(req.Kind)),
		))
	defer span.End()

	a := &attempt{
		p:         p,
		req:       req,
		id:        id,
		createdAt: p.clock.Now(),
		logger:    logging.ForCapture(p.logger, id, req.URL),
		span:      span,
	}
	a.transition(capture.StageStarted)
	result := a.run(ctx)

	metrics.ObserveCapture(string(result.Status), string(req.Kind), p.renderer.Name(), a.size)
	p.publish(ctx, a, result)
	return result, nil
}

type attempt struct {
	p         *Pipeline
	req       capture.Request
	id        string
	createdAt time.Time
	size      int
	logger    *zap.Logger
	span      trace.Span
}

func (a *attempt) run(ctx context.Context) capture.Result {
	p := a.p

	var data []byte
	err := a.stage(ctx, "render", func(ctx context.Context) error {
		var rerr error
		data, rerr = p.renderer.Render(ctx, a.req.URL, a.req.Kind, a.req.Viewport.OrDefault())
		return rerr
	})
	if err != nil {
		return a.fail("render", err)
	}
	a.size = len(data)
	a.transition(capture.StageRendered)

	digest := p.hasher.Hash(data)
	key := fmt.Sprintf("captures/%s.%s", a.id, a.req.Kind.Ext())

	var upload capture.UploadResult
	err = a.stage(ctx, "upload", func(ctx context.Context) error {
		var uerr error
		upload, uerr = p.artifacts.Upload(ctx, key, data, a.objectMetadata(), p.cfg.RetentionDays)
		return uerr
	})
	if err != nil {
		return a.fail("upload", err)
	}
	a.transition(capture.StageUploaded)

	record := capture.Record{
		ID:        a.id,
		URL:       a.req.URL,
		Digest:    digest,
		Key:       key,
		VersionID: upload.VersionID,
		Kind:      a.req.Kind,
		Owner:     a.req.Owner,
		Status:    capture.StatusCompleted,
		CreatedAt: capture.EpochSeconds(a.createdAt),
		Metadata:  a.recordMetadata(upload, len(data)),
	}
	var stored capture.Record
	err = a.stage(ctx, "record", func(ctx context.Context) error {
		var cerr error
		stored, cerr = p.records.Create(ctx, record)
		return cerr
	})
	if err != nil {
		a.logger.Error("artifact stored without provenance record",
			zap.String("s3_key", key),
			zap.String("s3_version_id", upload.VersionID),
		)
		return a.fail("record", err)
	}
	a.transition(capture.StageRecorded)
	a.span.SetAttributes(attribute.String("capture.sha256", digest))
	a.span.SetStatus(codes.Ok, "")

	return capture.Result{
		ID:       a.id,
		URL:      a.req.URL,
		Digest:   digest,
		Key:      key,
		Kind:     a.req.Kind,
		Owner:    a.req.Owner,
		Status:   capture.StatusCompleted,
		Upload:   &upload,
		Record:   &stored,
		Renderer: p.renderer.Name(),
	}
}

// stage runs fn inside a child span and records its duration.
func (a *attempt) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := a.p.tracer.Start(ctx, name)
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, capture.KindOf(err).String())
	}
	return err
}

func (a *attempt) transition(stage capture.Stage) {
	a.span.AddEvent(string(stage))
	a.logger.Info("capture stage", zap.String("stage", string(stage)))
}

// fail logs the full error and returns the sanitized result.
func (a *attempt) fail(step string, err error) capture.Result {
	a.logger.Error("capture failed",
		zap.String("stage", string(capture.StageFailed)),
		zap.String("step", step),
		zap.String("error_kind", capture.KindOf(err).String()),
		zap.Error(err),
	)
	a.span.AddEvent(string(capture.StageFailed))
	a.span.SetStatus(codes.Error, step)
	return capture.Result{
		ID:       a.id,
		URL:      a.req.URL,
		Kind:     a.req.Kind,
		Owner:    a.req.Owner,
		Status:   capture.StatusFailed,
		Error:    GenericFailure,
		Renderer: a.p.renderer.Name(),
	}
}

// objectMetadata is attached to the stored object. Caller fields are
// prefixed so they cannot shadow the provenance fields.
func (a *attempt) objectMetadata() map[string]string {
	meta := map[string]string{
		"source-url":    a.req.URL,
		"artifact-type": string(a.req.Kind),
		"capture-id":    a.id,
		"user-id":       a.req.Owner,
	}
	for k, v := range a.req.Metadata {
		meta["custom-"+k] = v
	}
	return meta
}

// recordMetadata merges caller fields with store-derived ones; the derived
// fields win on collision.
func (a *attempt) recordMetadata(upload capture.UploadResult, size int) map[string]string {
	meta := make(map[string]string, len(a.req.Metadata)+3)
	for k, v := range a.req.Metadata {
		meta[k] = v
	}
	meta["s3_version_id"] = upload.VersionID
	meta["content_length"] = strconv.Itoa(size)
	meta["retention_until"] = upload.RetentionUntil.UTC().Format(time.RFC3339)
	return meta
}

func (p *Pipeline) publish(ctx context.Context, a *attempt, result capture.Result) {
	if p.publisher == nil || p.cfg.EventsTopic == "" {
		return
	}
	evt := capture.Event{
		CaptureID:  result.ID,
		URL:        result.URL,
		Status:     result.Status,
		Digest:     result.Digest,
		Key:        result.Key,
		Owner:      result.Owner,
		Kind:       result.Kind,
		ScheduleID: a.req.Metadata["schedule_id"],
		OccurredAt: capture.EpochSeconds(p.clock.Now()),
	}
	if result.Upload != nil {
		evt.VersionID = result.Upload.VersionID
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.EventsTopic, evt); err != nil {
		a.logger.Warn("publish capture event failed", zap.Error(err))
	}
}
