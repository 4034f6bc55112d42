package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	body, err := encode(SubjectJobFinished, map[string]string{"job_id": "abc"}, at)
	require.NoError(t, err)

	var e Event
	require.NoError(t, json.Unmarshal(body, &e))
	assert.Equal(t, SubjectJobFinished, e.Subject)
	assert.True(t, e.OccurredAt.Equal(at))
	assert.Equal(t, time.UTC, e.OccurredAt.Location())
	assert.JSONEq(t, `{"job_id":"abc"}`, string(e.Data))
}

func TestEncode_Unmarshalable(t *testing.T) {
	_, err := encode("x", make(chan int), time.Now())
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(context.Background(), "a", 1))
	require.NoError(t, r.Publish(context.Background(), "b", 2))
	assert.Equal(t, []string{"a", "b"}, r.Subjects())
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), "a", nil))
}
