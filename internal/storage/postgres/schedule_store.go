package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
	"github.com/JakeFAU/compliance-archiver/internal/clock/system"
)

const scheduleColumns = `schedule_id, name, url, cron_expression, artifact_type, viewport_width, viewport_height,
	wait_strategy, enabled, user_id, created_at, updated_at`

// ScheduleStore persists schedule definitions in Postgres.
type ScheduleStore struct {
	pool  Pool
	table string
	clock capture.Clock
}

// NewScheduleStore constructs a store from an existing pool.
func NewScheduleStore(pool Pool, table string, clock capture.Clock) (*ScheduleStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, "schedules")
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = system.New()
	}
	return &ScheduleStore{pool: pool, table: table, clock: clock}, nil
}

// Create validates and inserts a schedule.
func (s *ScheduleStore) Create(ctx context.Context, schedule capture.Schedule) (capture.Schedule, error) {
	if schedule.ID == "" {
		return capture.Schedule{}, fmt.Errorf("%w: schedule_id is required", capture.ErrValidation)
	}
	sch, err := schedule.Normalize()
	if err != nil {
		return capture.Schedule{}, err
	}
	now := capture.EpochSeconds(s.clock.Now())
	sch.CreatedAt, sch.UpdatedAt = now, now

	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, s.table, scheduleColumns)
	if _, err := s.pool.Exec(ctx, query, scheduleArgs(sch)...); err != nil {
		return capture.Schedule{}, fmt.Errorf("%w: insert schedule: %w", capture.ErrStore, err)
	}
	return sch, nil
}

// Get fetches a schedule by id.
func (s *ScheduleStore) Get(ctx context.Context, id string) (capture.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE schedule_id = $1`, scheduleColumns, s.table)
	sch, err := scanSchedule(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return capture.Schedule{}, fmt.Errorf("%w: schedule %s", capture.ErrNotFound, id)
	}
	if err != nil {
		return capture.Schedule{}, fmt.Errorf("%w: get schedule: %w", capture.ErrStore, err)
	}
	return sch, nil
}

// ListByOwner returns an owner's schedules, newest first.
func (s *ScheduleStore) ListByOwner(ctx context.Context, owner string) ([]capture.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1 ORDER BY created_at DESC`, scheduleColumns, s.table)
	return s.list(ctx, query, owner)
}

// ListEnabled returns every enabled schedule.
func (s *ScheduleStore) ListEnabled(ctx context.Context) ([]capture.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE enabled ORDER BY created_at DESC`, scheduleColumns, s.table)
	return s.list(ctx, query)
}

// Update applies a partial change as read-modify-write.
func (s *ScheduleStore) Update(ctx context.Context, id string, changes capture.ScheduleUpdate) (capture.Schedule, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return capture.Schedule{}, err
	}
	sch, err := changes.Apply(current)
	if err != nil {
		return capture.Schedule{}, err
	}
	sch.UpdatedAt = capture.EpochSeconds(s.clock.Now())

	query := fmt.Sprintf(`
UPDATE %s SET
	name = $2, url = $3, cron_expression = $4, artifact_type = $5,
	viewport_width = $6, viewport_height = $7, wait_strategy = $8,
	enabled = $9, updated_at = $10
WHERE schedule_id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		sch.ID, sch.Name, sch.URL, sch.Cron, string(sch.Kind),
		sch.Viewport.Width, sch.Viewport.Height, sch.WaitStrategy,
		sch.Enabled, sch.UpdatedAt,
	)
	if err != nil {
		return capture.Schedule{}, fmt.Errorf("%w: update schedule: %w", capture.ErrStore, err)
	}
	if tag.RowsAffected() == 0 {
		return capture.Schedule{}, fmt.Errorf("%w: schedule %s", capture.ErrNotFound, id)
	}
	return sch, nil
}

// Delete removes a schedule.
func (s *ScheduleStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE schedule_id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: delete schedule: %w", capture.ErrStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: schedule %s", capture.ErrNotFound, id)
	}
	return nil
}

func (s *ScheduleStore) list(ctx context.Context, query string, args ...any) ([]capture.Schedule, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list schedules: %w", capture.ErrStore, err)
	}
	defer rows.Close()
	out := make([]capture.Schedule, 0)
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan schedule: %w", capture.ErrStore, err)
		}
		out = append(out, sch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate schedules: %w", capture.ErrStore, err)
	}
	return out, nil
}

func scheduleArgs(sch capture.Schedule) []any {
	return []any{
		sch.ID,
		sch.Name,
		sch.URL,
		sch.Cron,
		string(sch.Kind),
		sch.Viewport.Width,
		sch.Viewport.Height,
		sch.WaitStrategy,
		sch.Enabled,
		sch.Owner,
		sch.CreatedAt,
		sch.UpdatedAt,
	}
}

func scanSchedule(row pgx.Row) (capture.Schedule, error) {
	var (
		sch  capture.Schedule
		kind string
	)
	err := row.Scan(
		&sch.ID,
		&sch.Name,
		&sch.URL,
		&sch.Cron,
		&kind,
		&sch.Viewport.Width,
		&sch.Viewport.Height,
		&sch.WaitStrategy,
		&sch.Enabled,
		&sch.Owner,
		&sch.CreatedAt,
		&sch.UpdatedAt,
	)
	sch.Kind = capture.Kind(kind)
	return sch, err
}
