package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Badger {
	t.Helper()
	b, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func seedRun(t *testing.T, b *Badger, runID string) {
	t.Helper()
	require.NoError(t, b.CreateRun(context.Background(), WorkflowRun{
		RunID:  runID,
		Query:  "quantum cryptography",
		Status: StatusPending,
	}))
}

func TestBadgerRunLifecycle(t *testing.T) {
	b := openTestStore(t)
	ctx := context.Background()
	seedRun(t, b, "run1")

	run, err := b.GetRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, run.Status)
	assert.False(t, run.CreatedAt.IsZero())

	run.Status = StatusRunning
	run.CurrentStepID = "search"
	run.Checkpoint = json.RawMessage(`{"step":"search"}`)
	require.NoError(t, b.UpdateRun(ctx, run))

	got, err := b.GetRun(ctx, "run1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "search", got.CurrentStepID)
	assert.JSONEq(t, `{"step":"search"}`, string(got.Checkpoint))
	assert.Equal(t, run.CreatedAt.Unix(), got.CreatedAt.Unix())
}

func TestBadgerCreateRunDuplicate(t *testing.T) {
	b := openTestStore(t)
	seedRun(t, b, "run1")
	err := b.CreateRun(context.Background(), WorkflowRun{RunID: "run1", Status: StatusPending})
	assert.ErrorIs(t, err, ErrExists)
}

func TestBadgerGetRunNotFound(t *testing.T) {
	b := openTestStore(t)
	_, err := b.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = b.UpdateRun(context.Background(), WorkflowRun{RunID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerSuspendResumeRoundTrip(t *testing.T) {
	b := openTestStore(t)
	ctx := context.Background()
	seedRun(t, b, "run1")

	payload := json.RawMessage(`{"suggested":[0,1,2]}`)
	require.NoError(t, b.Suspend(ctx, "run1", "review", payload))

	s, err := b.GetSuspension(ctx, "run1")
	require.NoError(t, err)
	assert.True(t, s.Active)
	assert.Equal(t, "review", s.StepID)
	assert.JSONEq(t, string(payload), string(s.Payload))
	assert.Nil(t, s.ResumedAt)

	resume := json.RawMessage(`{"selected":[0,2]}`)
	require.NoError(t, b.Resume(ctx, "run1", "review", resume))

	s, err = b.GetSuspension(ctx, "run1")
	require.NoError(t, err)
	assert.False(t, s.Active)
	assert.JSONEq(t, string(resume), string(s.ResumePayload))
	require.NotNil(t, s.ResumedAt)
}

func TestBadgerResumeWrongStepConflicts(t *testing.T) {
	b := openTestStore(t)
	ctx := context.Background()
	seedRun(t, b, "run1")
	require.NoError(t, b.Suspend(ctx, "run1", "review", nil))

	err := b.Resume(ctx, "run1", "search", nil)
	assert.ErrorIs(t, err, ErrConflict)

	// A rejected resume leaves the suspension unchanged.
	s, err := b.GetSuspension(ctx, "run1")
	require.NoError(t, err)
	assert.True(t, s.Active)
	assert.Equal(t, "review", s.StepID)
}

func TestBadgerResumeTwiceConflicts(t *testing.T) {
	b := openTestStore(t)
	ctx := context.Background()
	seedRun(t, b, "run1")
	require.NoError(t, b.Suspend(ctx, "run1", "review", nil))
	require.NoError(t, b.Resume(ctx, "run1", "review", nil))

	err := b.Resume(ctx, "run1", "review", nil)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestBadgerConcurrentResumeSingleWinner(t *testing.T) {
	b := openTestStore(t)
	ctx := context.Background()
	seedRun(t, b, "run1")
	require.NoError(t, b.Suspend(ctx, "run1", "review", nil))

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = b.Resume(ctx, "run1", "review", nil)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrConflict)
		}
	}
	assert.Equal(t, 1, wins, "exactly one resume must win")
}

func TestBadgerSuspendWithoutRun(t *testing.T) {
	b := openTestStore(t)
	err := b.Suspend(context.Background(), "ghost", "review", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerListSuspendedBefore(t *testing.T) {
	b := openTestStore(t)
	ctx := context.Background()
	seedRun(t, b, "old")
	seedRun(t, b, "fresh")
	seedRun(t, b, "resumed")

	require.NoError(t, b.Suspend(ctx, "old", "review", nil))
	require.NoError(t, b.Suspend(ctx, "fresh", "review", nil))
	require.NoError(t, b.Suspend(ctx, "resumed", "review", nil))
	require.NoError(t, b.Resume(ctx, "resumed", "review", nil))

	// Only active suspensions older than the cutoff qualify.
	expired, err := b.ListSuspendedBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		ids = append(ids, s.RunID)
	}
	assert.ElementsMatch(t, []string{"old", "fresh"}, ids)

	none, err := b.ListSuspendedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}
