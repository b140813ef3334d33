package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/compliance-archiver/internal/auth"
	"github.com/JakeFAU/compliance-archiver/internal/capture"
)

type scheduleRequest struct {
	Name         string            `json:"name" validate:"required,max=200"`
	URL          string            `json:"url" validate:"required,url,max=2048"`
	Cron         string            `json:"cron_expression" validate:"required"`
	ArtifactType string            `json:"artifact_type" validate:"omitempty,oneof=pdf png"`
	Viewport     *capture.Viewport `json:"viewport,omitempty"`
	WaitStrategy string            `json:"wait_strategy" validate:"omitempty,oneof=networkidle domcontentloaded load"`
	Enabled      *bool             `json:"enabled,omitempty"`
}

type scheduleUpdateRequest struct {
	Name         *string           `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	URL          *string           `json:"url,omitempty" validate:"omitempty,url,max=2048"`
	Cron         *string           `json:"cron_expression,omitempty"`
	ArtifactType *string           `json:"artifact_type,omitempty" validate:"omitempty,oneof=pdf png"`
	Viewport     *capture.Viewport `json:"viewport,omitempty"`
	WaitStrategy *string           `json:"wait_strategy,omitempty" validate:"omitempty,oneof=networkidle domcontentloaded load"`
	Enabled      *bool             `json:"enabled,omitempty"`
}

func (u scheduleUpdateRequest) changes() capture.ScheduleUpdate {
	out := capture.ScheduleUpdate{
		Name:         u.Name,
		URL:          u.URL,
		Cron:         u.Cron,
		Viewport:     u.Viewport,
		WaitStrategy: u.WaitStrategy,
		Enabled:      u.Enabled,
	}
	if u.ArtifactType != nil {
		k := capture.Kind(*u.ArtifactType)
		out.Kind = &k
	}
	return out
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	owner := id.Subject
	if other := strings.TrimSpace(r.URL.Query().Get("user_id")); other != "" && other != owner {
		if !id.IsAdmin() {
			writeError(w, http.StatusForbidden, "access denied")
			return
		}
		owner = other
	}
	schedules, err := s.deps.Schedules.ListByOwner(r.Context(), owner)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if schedules == nil {
		schedules = []capture.Schedule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules, "count": len(schedules)})
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var body scheduleRequest
	if err := s.decode(r, &body); err != nil {
		s.writeFailure(w, err)
		return
	}
	scheduleID, err := s.deps.IDs.NewID()
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	sch := capture.Schedule{
		ID:           scheduleID,
		Name:         body.Name,
		URL:          body.URL,
		Cron:         body.Cron,
		Kind:         capture.Kind(body.ArtifactType),
		WaitStrategy: body.WaitStrategy,
		Enabled:      true,
		Owner:        id.Subject,
	}
	if body.Viewport != nil {
		sch.Viewport = *body.Viewport
	}
	if body.Enabled != nil {
		sch.Enabled = *body.Enabled
	}
	created, err := s.deps.Schedules.Create(r.Context(), sch)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ownedSchedule loads a schedule and enforces ownership.
func (s *Server) ownedSchedule(w http.ResponseWriter, r *http.Request) (capture.Schedule, bool) {
	id, _ := auth.FromContext(r.Context())
	sch, err := s.deps.Schedules.Get(r.Context(), chi.URLParam(r, "schedule_id"))
	if err != nil {
		if capture.KindOf(err) == capture.KindNotFound {
			writeError(w, http.StatusNotFound, "Schedule not found")
			return capture.Schedule{}, false
		}
		s.writeFailure(w, err)
		return capture.Schedule{}, false
	}
	if !auth.CanAccess(id, sch.Owner) {
		writeError(w, http.StatusForbidden, "Access denied")
		return capture.Schedule{}, false
	}
	return sch, true
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sch, ok := s.ownedSchedule(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sch)
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	sch, ok := s.ownedSchedule(w, r)
	if !ok {
		return
	}
	var body scheduleUpdateRequest
	if err := s.decode(r, &body); err != nil {
		s.writeFailure(w, err)
		return
	}
	updated, err := s.deps.Schedules.Update(r.Context(), sch.ID, body.changes())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	sch, ok := s.ownedSchedule(w, r)
	if !ok {
		return
	}
	if err := s.deps.Schedules.Delete(r.Context(), sch.ID); err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Schedule deleted successfully"})
}

// runSchedule enqueues one capture from the schedule's parameters.
func (s *Server) runSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job queue not configured")
		return
	}
	sch, ok := s.ownedSchedule(w, r)
	if !ok {
		return
	}
	if !s.admit(w, sch.Owner) {
		return
	}
	job, err := s.deps.Jobs.Submit(r.Context(), sch.Request(), capture.SourceSchedule, sch.ID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":      job.ID,
		"schedule_id": sch.ID,
		"status":      "queued",
	})
}
