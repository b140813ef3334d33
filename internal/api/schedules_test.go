package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
)

func (f *fixture) createSchedule(t *testing.T, bearer string, body map[string]any) map[string]any {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/schedules", bearer, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody(t, rec)
}

func TestSchedules_CreateDefaults(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	created := f.createSchedule(t, token(t, "alice", "user"), map[string]any{
		"name":            "nightly terms",
		"url":             "https://example.com/terms",
		"cron_expression": "0 2 * * *",
	})

	assert.NotEmpty(t, created["schedule_id"])
	assert.Equal(t, "alice", created["user_id"])
	assert.Equal(t, "pdf", created["artifact_type"])
	assert.Equal(t, capture.WaitNetworkIdle, created["wait_strategy"])
	assert.Equal(t, true, created["enabled"])
}

func TestSchedules_CreateValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	op := token(t, "alice", "user")

	cases := []struct {
		name string
		body map[string]any
		want string
	}{
		{"missing name", map[string]any{"url": "https://example.com", "cron_expression": "* * * * *"}, `"name":"required"`},
		{"missing cron", map[string]any{"name": "n", "url": "https://example.com"}, `"cron_expression":"required"`},
		{"short cron", map[string]any{"name": "n", "url": "https://example.com", "cron_expression": "* *"}, "5 or 6 fields"},
		{"bad wait", map[string]any{"name": "n", "url": "https://example.com", "cron_expression": "* * * * *", "wait_strategy": "forever"}, `"wait_strategy":"oneof"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/schedules", op, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/v1/schedules", token(t, "val", "auditor"),
		map[string]any{"name": "n", "url": "https://example.com", "cron_expression": "* * * * *"}).Code)
}

func TestSchedules_ListScopedToOwner(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice := token(t, "alice", "user")
	f.createSchedule(t, alice, map[string]any{"name": "a", "url": "https://example.com/a", "cron_expression": "* * * * *"})
	f.createSchedule(t, token(t, "bob", "user"), map[string]any{"name": "b", "url": "https://example.com/b", "cron_expression": "* * * * *"})

	rec := f.do(t, http.MethodGet, "/v1/schedules", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/schedules?user_id=bob", alice, nil).Code)

	rec = f.do(t, http.MethodGet, "/v1/schedules?user_id=bob", token(t, "root", "admin"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["count"])

	rec = f.do(t, http.MethodGet, "/v1/schedules", token(t, "nobody"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"schedules":[]`)
}

func TestSchedules_GetUpdateDelete(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice := token(t, "alice", "user")
	created := f.createSchedule(t, alice, map[string]any{
		"name": "weekly", "url": "https://example.com", "cron_expression": "0 0 * * 0",
	})
	path := "/v1/schedules/" + created["schedule_id"].(string)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, path, alice, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, path, token(t, "mallory", "user"), nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/schedules/missing", alice, nil).Code)

	rec := f.do(t, http.MethodPut, path, alice, map[string]any{"enabled": false, "artifact_type": "png"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody(t, rec)
	assert.Equal(t, false, updated["enabled"])
	assert.Equal(t, "png", updated["artifact_type"])
	assert.Equal(t, "weekly", updated["name"])

	rec = f.do(t, http.MethodPut, path, alice, map[string]any{"cron_expression": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	stored, err := f.schedules.Get(context.Background(), created["schedule_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * 0", stored.Cron)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, path, token(t, "val", "auditor"), nil).Code)
	rec = f.do(t, http.MethodDelete, path, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Schedule deleted successfully", decodeBody(t, rec)["message"])
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, path, alice, nil).Code)
}

func TestSchedules_RunEnqueuesJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	alice := token(t, "alice", "user")
	created := f.createSchedule(t, alice, map[string]any{
		"name": "adhoc", "url": "https://example.com/pricing", "cron_expression": "*/5 * * * *",
		"artifact_type": "png", "enabled": false,
	})
	id := created["schedule_id"].(string)

	rec := f.do(t, http.MethodPost, "/v1/schedules/"+id+"/run", alice, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, id, body["schedule_id"])
	assert.Equal(t, "queued", body["status"])

	d, err := f.queue.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, body["job_id"], d.Job.ID)
	assert.Equal(t, capture.SourceSchedule, d.Job.Source)
	assert.Equal(t, id, d.Job.ScheduleID)
	assert.Equal(t, capture.KindPNG, d.Job.Request.Kind)
	assert.Equal(t, "alice", d.Job.Request.Owner)
	assert.Equal(t, id, d.Job.Request.Metadata["schedule_id"])

	assert.Equal(t, http.StatusForbidden,
		f.do(t, http.MethodPost, "/v1/schedules/"+id+"/run", token(t, "mallory", "user"), nil).Code)
	assert.Zero(t, f.queue.Len())
}
