package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
)

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	job := capture.Job{
		ID:         "job-1",
		Request:    capture.Request{URL: "https://example.com", Kind: capture.KindPDF, Owner: "alice"},
		ScheduleID: "sched-1",
		Source:     capture.SourceSchedule,
		Submitted:  1700000000.5,
	}
	data, err := Encode(job)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"schedule_id":"sched-1"`)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, job, got)
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	for name, payload := range map[string]string{
		"garbage":    "not json",
		"missing id": `{"request":{"url":"https://example.com"}}`,
		"no url":     `{"job_id":"j"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			require.ErrorIs(t, err, capture.ErrValidation)
		})
	}
}

func TestDeliveryHooks(t *testing.T) {
	t.Parallel()

	var acked, nacked int
	d := NewDelivery(capture.Job{ID: "j"}, func() { acked++ }, func() { nacked++ })
	d.Ack()
	d.Nack()
	assert.Equal(t, 1, acked)
	assert.Equal(t, 1, nacked)

	NewDelivery(capture.Job{}, nil, nil).Ack()
}
