// Package capture defines core types shared across subsystems.
package capture

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the artifact format produced by a renderer.
type Kind string

// Supported artifact kinds.
const (
	KindPDF Kind = "pdf"
	KindPNG Kind = "png"
)

// ParseKind normalizes s and rejects anything other than pdf or png.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: invalid artifact_type %q (must be pdf or png)", ErrValidation, s)
	}
	return k, nil
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	return k == KindPDF || k == KindPNG
}

// Ext returns the file extension (without dot) used in storage keys.
func (k Kind) Ext() string {
	return string(k)
}

// Status is the terminal status of a capture attempt.
type Status string

// Capture status values persisted in the provenance store.
const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Stage tracks pipeline progress for a single attempt.
type Stage string

// Pipeline stages in order.
const (
	StageStarted  Stage = "started"
	StageRendered Stage = "rendered"
	StageUploaded Stage = "uploaded"
	StageRecorded Stage = "recorded"
	StageFailed   Stage = "failed"
)

// Viewport controls the browser window size used for rendering.
type Viewport struct {
	Width  int `json:"width" validate:"omitempty,min=320,max=7680"`
	Height int `json:"height" validate:"omitempty,min=240,max=4320"`
}

// DefaultViewport is used when a request does not specify one.
var DefaultViewport = Viewport{Width: 1920, Height: 1080}

// OrDefault fills zero dimensions from DefaultViewport.
func (v *Viewport) OrDefault() Viewport {
	if v == nil {
		return DefaultViewport
	}
	out := *v
	if out.Width <= 0 {
		out.Width = DefaultViewport.Width
	}
	if out.Height <= 0 {
		out.Height = DefaultViewport.Height
	}
	return out
}

// Request is the caller-supplied input to a capture attempt.
type Request struct {
	URL      string            `json:"url"`
	Kind     Kind              `json:"artifact_type"`
	Owner    string            `json:"user_id"`
	Viewport *Viewport         `json:"viewport,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Record is the persisted provenance row for a capture.
type Record struct {
	ID        string            `json:"capture_id"`
	URL       string            `json:"url"`
	Digest    string            `json:"sha256"`
	Key       string            `json:"s3_key"`
	VersionID string            `json:"s3_version_id,omitempty"`
	Kind      Kind              `json:"artifact_type"`
	Owner     string            `json:"user_id"`
	Status    Status            `json:"status"`
	CreatedAt float64           `json:"created_at"`
	Metadata  map[string]string `json:"metadata"`
}

// CreatedTime converts CreatedAt to a time.Time.
func (r Record) CreatedTime() time.Time {
	return EpochTime(r.CreatedAt)
}

// RecordUpdate carries a partial update. Identity and creation time are not updatable.
type RecordUpdate struct {
	Status    *Status
	VersionID *string
	Metadata  map[string]string
}

// Empty reports whether the update changes nothing.
func (u RecordUpdate) Empty() bool {
	return u.Status == nil && u.VersionID == nil && len(u.Metadata) == 0
}

// Page is one page of a reverse-chronological listing.
type Page struct {
	Records   []Record `json:"captures"`
	NextToken string   `json:"next_token,omitempty"`
	Count     int      `json:"count"`
}

// UploadResult describes a successful artifact upload.
type UploadResult struct {
	Key            string    `json:"s3_key"`
	VersionID      string    `json:"s3_version_id,omitempty"`
	RetentionUntil time.Time `json:"retention_until"`
}

// ObjectMetadata is the store-side view of an uploaded artifact.
type ObjectMetadata struct {
	Size         int64             `json:"size"`
	ETag         string            `json:"etag"`
	LastModified time.Time         `json:"last_modified"`
	VersionID    string            `json:"version_id,omitempty"`
	LockMode     string            `json:"object_lock_mode,omitempty"`
	LockUntil    time.Time         `json:"object_lock_retain_until,omitempty"`
	Custom       map[string]string `json:"metadata"`
}

// Result is returned by the pipeline for every attempt.
type Result struct {
	ID       string        `json:"capture_id"`
	URL      string        `json:"url"`
	Digest   string        `json:"sha256,omitempty"`
	Key      string        `json:"s3_key,omitempty"`
	Kind     Kind          `json:"artifact_type"`
	Owner    string        `json:"user_id"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Upload   *UploadResult `json:"s3_details,omitempty"`
	Record   *Record       `json:"metadata,omitempty"`
	Renderer string        `json:"renderer,omitempty"`
}

// Schedule is a recurring capture definition.
type Schedule struct {
	ID           string   `json:"schedule_id"`
	Name         string   `json:"name"`
	URL          string   `json:"url"`
	Cron         string   `json:"cron_expression"`
	Kind         Kind     `json:"artifact_type"`
	Viewport     Viewport `json:"viewport"`
	WaitStrategy string   `json:"wait_strategy"`
	Enabled      bool     `json:"enabled"`
	Owner        string   `json:"user_id"`
	CreatedAt    float64  `json:"created_at"`
	UpdatedAt    float64  `json:"updated_at"`
}

// ScheduleUpdate carries a partial schedule update.
type ScheduleUpdate struct {
	Name         *string
	URL          *string
	Cron         *string
	Kind         *Kind
	Viewport     *Viewport
	WaitStrategy *string
	Enabled      *bool
}

// JobSource identifies what enqueued a capture job.
type JobSource string

// Job sources.
const (
	SourceAPI      JobSource = "api"
	SourceSchedule JobSource = "schedule"
	SourceCLI      JobSource = "cli"
)

// Job is a queued capture request.
type Job struct {
	ID         string    `json:"job_id"`
	Request    Request   `json:"request"`
	ScheduleID string    `json:"schedule_id,omitempty"`
	Source     JobSource `json:"source"`
	Submitted  float64   `json:"submitted_at"`
}

// Event is published after every terminal capture attempt.
type Event struct {
	CaptureID  string  `json:"capture_id"`
	URL        string  `json:"url"`
	Status     Status  `json:"status"`
	Digest     string  `json:"sha256,omitempty"`
	Key        string  `json:"s3_key,omitempty"`
	VersionID  string  `json:"s3_version_id,omitempty"`
	Owner      string  `json:"user_id"`
	Kind       Kind    `json:"artifact_type"`
	ScheduleID string  `json:"schedule_id,omitempty"`
	OccurredAt float64 `json:"occurred_at"`
}

// EpochSeconds converts t to fractional seconds since the Unix epoch.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// EpochTime converts fractional epoch seconds back to UTC time.
func EpochTime(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second))).UTC()
}
