package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_WireShape(t *testing.T) {
	ev := NewEvent("p1", "job-1", NewJobAvailable{
		JobID:          "job-1",
		Title:          "Leaky tap",
		CategoryID:     "plumbing",
		DistanceKm:     1.25,
		EstimatedPrice: decimal.RequireFromString("60.00"),
		ExpiresAt:      t0.Add(30 * time.Second),
	}, t0)

	body, err := json.Marshal(ev)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(body, &wire))
	assert.Equal(t, ev.ID, wire["id"])
	assert.Equal(t, "new_job_available", wire["type"])
	assert.Equal(t, "job-1", wire["job_id"])
	assert.Equal(t, "p1", wire["target_user_id"])

	payload := wire["payload"].(map[string]any)
	assert.Equal(t, "plumbing", payload["category_id"])
	assert.Equal(t, "60", payload["estimated_price"])
	assert.Equal(t, "2026-03-01T09:00:30Z", payload["expires_at"])

	var decoded Event
	require.NoError(t, json.Unmarshal(body, &decoded))
	got, ok := decoded.Payload.(NewJobAvailable)
	require.True(t, ok)
	assert.Equal(t, 1.25, got.DistanceKm)
	assert.True(t, got.EstimatedPrice.Equal(decimal.NewFromInt(60)))
}

func TestEvent_UnknownType(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"id":"e1","type":"job_exploded","payload":{}}`), &ev)
	assert.Error(t, err)
}

func TestEvent_JobUpdateOmitsEmptyReason(t *testing.T) {
	body, err := json.Marshal(JobUpdate{JobID: "job-1", Status: "CANCELLED"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"job-1","status":"CANCELLED"}`, string(body))
}
