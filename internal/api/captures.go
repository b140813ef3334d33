package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/compliance-archiver/internal/auth"
	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/storage"
)

const missReason = "No capture found with this hash"

type captureRequest struct {
	URL          string            `json:"url" validate:"required,url,max=2048"`
	ArtifactType string            `json:"artifact_type" validate:"omitempty,oneof=pdf png PDF PNG"`
	Viewport     *capture.Viewport `json:"viewport,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty" validate:"omitempty,max=32,dive,keys,min=1,max=128,endkeys,max=1024"`
}

func (c captureRequest) toRequest(owner string) capture.Request {
	kind := capture.KindPDF
	if c.ArtifactType != "" {
		kind = capture.Kind(strings.ToLower(c.ArtifactType))
	}
	return capture.Request{
		URL:      c.URL,
		Kind:     kind,
		Owner:    owner,
		Viewport: c.Viewport,
		Metadata: c.Metadata,
	}
}

type triggerResponse struct {
	capture.Result
	DownloadURL string `json:"download_url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Message     string `json:"message"`
}

// admit applies the per-owner rate limit and writes 429 when exhausted.
func (s *Server) admit(w http.ResponseWriter, owner string) bool {
	if s.deps.Limiter == nil || s.deps.Limiter.Allow(owner) {
		return true
	}
	retry := s.deps.Limiter.RetryAfter(owner)
	secs := int(retry.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	return false
}

func (s *Server) triggerCapture(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var body captureRequest
	if err := s.decode(r, &body); err != nil {
		s.writeFailure(w, err)
		return
	}
	if !s.admit(w, id.Subject) {
		return
	}
	req := body.toRequest(id.Subject)
	if req.Metadata == nil {
		req.Metadata = map[string]string{}
	}
	req.Metadata["triggered_via"] = "api"

	result, err := s.deps.Pipeline.Run(r.Context(), req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if result.Status != capture.StatusCompleted {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":      result.Error,
			"capture_id": result.ID,
			"status":     string(result.Status),
		})
		return
	}

	resp := triggerResponse{
		Result:      result,
		ContentType: storage.ContentType(result.Key),
		Message:     "Capture archived successfully",
	}
	version := ""
	if result.Upload != nil {
		version = result.Upload.VersionID
	}
	if link, err := s.deps.Artifacts.PresignDownload(r.Context(), result.Key, s.cfg.PresignTTL(), version); err == nil {
		resp.DownloadURL = link
	} else {
		s.logger.Warn("presign after capture failed", zap.String("capture_id", result.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) enqueueCapture(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue not configured")
		return
	}
	id, _ := auth.FromContext(r.Context())
	var body captureRequest
	if err := s.decode(r, &body); err != nil {
		s.writeFailure(w, err)
		return
	}
	if !s.admit(w, id.Subject) {
		return
	}
	req := body.toRequest(id.Subject)
	if req.Metadata == nil {
		req.Metadata = map[string]string{}
	}
	req.Metadata["triggered_via"] = "queue"

	job, err := s.deps.Jobs.Submit(r.Context(), req, capture.SourceAPI, "")
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":        job.ID,
		"status":        "queued",
		"url":           job.Request.URL,
		"artifact_type": string(job.Request.Kind),
	})
}

func (s *Server) listCaptures(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > storage.MaxPageSize {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	owner := id.Subject
	if other := strings.TrimSpace(q.Get("user_id")); other != "" && other != owner {
		if !id.IsAdmin() {
			writeError(w, http.StatusForbidden, "access denied")
			return
		}
		owner = other
	}

	page, err := s.deps.Records.ListByOwner(r.Context(), owner, limit, q.Get("next_token"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if page.Records == nil {
		page.Records = []capture.Record{}
	}
	writeJSON(w, http.StatusOK, page)
}

// ownedRecord loads a capture and enforces ownership before anything is returned.
func (s *Server) ownedRecord(w http.ResponseWriter, r *http.Request) (capture.Record, bool) {
	id, _ := auth.FromContext(r.Context())
	rec, ok := s.deps.Records.Get(r.Context(), chi.URLParam(r, "capture_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Capture not found")
		return capture.Record{}, false
	}
	if !auth.CanAccess(id, rec.Owner) {
		writeError(w, http.StatusForbidden, "Access denied")
		return capture.Record{}, false
	}
	return rec, true
}

func (s *Server) getCapture(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func versionOf(rec capture.Record) string {
	if rec.VersionID != "" {
		return rec.VersionID
	}
	return rec.Metadata["s3_version_id"]
}

func (s *Server) downloadCapture(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedRecord(w, r)
	if !ok {
		return
	}
	var requested time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "ttl must be a positive number of seconds")
			return
		}
		requested = time.Duration(n) * time.Second
	}
	ttl := storage.ClampTTL(requested, s.cfg.PresignTTL())

	link, err := s.deps.Artifacts.PresignDownload(r.Context(), rec.Key, ttl, versionOf(rec))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"download_url": link,
		"expires_in":   strconv.Itoa(int(ttl / time.Second)),
		"capture_id":   rec.ID,
		"filename":     rec.ID + "." + rec.Kind.Ext(),
		"content_type": storage.ContentType(rec.Key),
	})
}

func (s *Server) verifyCapture(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	digest := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("sha256")))
	if digest == "" {
		writeError(w, http.StatusBadRequest, "sha256 query parameter is required")
		return
	}
	rec, ok := s.deps.Records.GetByDigest(r.Context(), digest)
	if !ok || !auth.CanAccess(id, rec.Owner) {
		writeJSON(w, http.StatusOK, map[string]any{
			"verified": false,
			"reason":   missReason,
			"sha256":   digest,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verified":             true,
		"capture_id":           rec.ID,
		"url":                  rec.URL,
		"artifact_type":        rec.Kind,
		"created_at":           rec.CreatedAt,
		"object_lock_verified": s.deps.Artifacts.VerifyLock(r.Context(), rec.Key),
		"sha256":               digest,
	})
}

// deleteCapture removes the object first and then the record. There is no
// rollback; a surviving object is logged and reported.
func (s *Server) deleteCapture(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.ownedRecord(w, r)
	if !ok {
		return
	}
	logger := s.logger.With(zap.String("capture_id", rec.ID), zap.String("s3_key", rec.Key))

	objectDeleted := s.deps.Artifacts.Delete(r.Context(), rec.Key, versionOf(rec))
	if !objectDeleted {
		logger.Warn("artifact delete failed, removing record anyway")
	}
	recordDeleted, err := s.deps.Records.Delete(r.Context(), rec.ID)
	if err == nil && !recordDeleted {
		err = errors.New("record vanished during delete")
	}
	if err != nil {
		logger.Error("capture record delete failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete capture record")
		return
	}
	logger.Info("capture deleted", zap.Bool("s3_deleted", objectDeleted))
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Capture " + rec.ID + " deleted",
		"s3_deleted": objectDeleted,
		"db_deleted": recordDeleted,
	})
}
