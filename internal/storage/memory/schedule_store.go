package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/clock/system"
)

// ScheduleStore is an in-memory ScheduleStore.
type ScheduleStore struct {
	mu        sync.RWMutex
	schedules map[string]capture.Schedule
	clock     capture.Clock
}

// NewScheduleStore constructs a ScheduleStore.
func NewScheduleStore(clock capture.Clock) *ScheduleStore {
	if clock == nil {
		clock = system.New()
	}
	return &ScheduleStore{schedules: make(map[string]capture.Schedule), clock: clock}
}

// Create validates and stores a schedule.
func (s *ScheduleStore) Create(_ context.Context, schedule capture.Schedule) (capture.Schedule, error) {
	if schedule.ID == "" {
		return capture.Schedule{}, fmt.Errorf("%w: schedule_id is required", capture.ErrValidation)
	}
	normalized, err := schedule.Normalize()
	if err != nil {
		return capture.Schedule{}, err
	}
	now := capture.EpochSeconds(s.clock.Now())
	normalized.CreatedAt = now
	normalized.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[normalized.ID]; exists {
		return capture.Schedule{}, fmt.Errorf("%w: schedule %s already exists", capture.ErrStore, normalized.ID)
	}
	s.schedules[normalized.ID] = normalized
	return normalized, nil
}

// Get fetches a schedule by id.
func (s *ScheduleStore) Get(_ context.Context, id string) (capture.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schedules[id]
	if !ok {
		return capture.Schedule{}, fmt.Errorf("%w: schedule %s", capture.ErrNotFound, id)
	}
	return sch, nil
}

// ListByOwner returns an owner's schedules, newest first.
func (s *ScheduleStore) ListByOwner(_ context.Context, owner string) ([]capture.Schedule, error) {
	return s.filter(func(sch capture.Schedule) bool { return sch.Owner == owner }), nil
}

// ListEnabled returns every enabled schedule.
func (s *ScheduleStore) ListEnabled(_ context.Context) ([]capture.Schedule, error) {
	return s.filter(func(sch capture.Schedule) bool { return sch.Enabled }), nil
}

// Update applies a partial change and bumps UpdatedAt.
func (s *ScheduleStore) Update(_ context.Context, id string, changes capture.ScheduleUpdate) (capture.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.schedules[id]
	if !ok {
		return capture.Schedule{}, fmt.Errorf("%w: schedule %s", capture.ErrNotFound, id)
	}
	updated, err := changes.Apply(sch)
	if err != nil {
		return capture.Schedule{}, err
	}
	updated.UpdatedAt = capture.EpochSeconds(s.clock.Now())
	s.schedules[id] = updated
	return updated, nil
}

// Delete removes a schedule.
func (s *ScheduleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("%w: schedule %s", capture.ErrNotFound, id)
	}
	delete(s.schedules, id)
	return nil
}

func (s *ScheduleStore) filter(keep func(capture.Schedule) bool) []capture.Schedule {
	s.mu.RLock()
	out := make([]capture.Schedule, 0)
	for _, sch := range s.schedules {
		if keep(sch) {
			out = append(out, sch)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}
