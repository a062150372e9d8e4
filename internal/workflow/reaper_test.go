package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/scourhq/scour/config"
	"github.com/scourhq/scour/internal/events"
	"github.com/scourhq/scour/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReaperDisabled(t *testing.T) {
	r, err := NewReaper(config.ReaperConfig{}, nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, r)

	// A nil reaper starts as a no-op.
	r.Start(context.Background())
}

func TestNewReaperBadSchedule(t *testing.T) {
	_, err := NewReaper(config.ReaperConfig{Enabled: true, Schedule: "not a cron", TTL: time.Hour}, nil, nil, nil)
	assert.Error(t, err)
}

func TestReaperExpiresOldSuspensions(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	sink := events.NewMemorySink(100)

	r, err := NewReaper(config.ReaperConfig{Enabled: true, Schedule: "*/5 * * * *", TTL: time.Millisecond},
		st, events.NewRecorder(sink), nil)
	require.NoError(t, err)
	require.NotNil(t, r)

	require.NoError(t, st.CreateRun(ctx, store.WorkflowRun{RunID: "stale", Query: "q", Status: store.StatusSuspended}))
	require.NoError(t, st.Suspend(ctx, "stale", "review", nil))
	time.Sleep(5 * time.Millisecond)

	r.reap(ctx)

	run, err := st.GetRun(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "expired")

	susp, err := st.GetSuspension(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, susp.Active)

	var failed bool
	for _, ev := range sink.ForRun("stale") {
		if ev.Type == events.TypeFailed {
			failed = true
		}
	}
	assert.True(t, failed)
}

func TestReaperSkipsFreshSuspensions(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	r, err := NewReaper(config.ReaperConfig{Enabled: true, Schedule: "*/5 * * * *", TTL: time.Hour},
		st, events.NewRecorder(nil), nil)
	require.NoError(t, err)

	require.NoError(t, st.CreateRun(ctx, store.WorkflowRun{RunID: "fresh", Query: "q", Status: store.StatusSuspended}))
	require.NoError(t, st.Suspend(ctx, "fresh", "review", nil))

	r.reap(ctx)

	susp, err := st.GetSuspension(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, susp.Active, "fresh suspensions survive the reaper")
}
