package events

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderSequencesPerStep(t *testing.T) {
	sink := NewMemorySink(64)
	rec := NewRecorder(sink)

	rec.Emit("run1", "search", TypeRunning, "start", nil)
	rec.Progress("run1", "search", 0.5, "halfway")
	rec.Emit("run1", "aggregate", TypeRunning, "start", nil)
	rec.Emit("run1", "search", TypeCompleted, "done", nil)

	evs := sink.ForRun("run1")
	require.Len(t, evs, 4)

	var searchSeqs []int
	for _, ev := range evs {
		if ev.StepID == "search" {
			searchSeqs = append(searchSeqs, ev.Seq)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, searchSeqs)

	for _, ev := range evs {
		if ev.StepID == "aggregate" {
			assert.Equal(t, 1, ev.Seq)
		}
		assert.NotEmpty(t, ev.ID)
		assert.False(t, ev.OccurredAt.IsZero())
	}
}

func TestRecorderConcurrentSteps(t *testing.T) {
	sink := NewMemorySink(1024)
	rec := NewRecorder(sink)

	var wg sync.WaitGroup
	for _, step := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(step string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				rec.Emit("run1", step, TypeProgress, "tick", nil)
			}
		}(step)
	}
	wg.Wait()

	counts := map[string]map[int]bool{}
	for _, ev := range sink.ForRun("run1") {
		if counts[ev.StepID] == nil {
			counts[ev.StepID] = map[int]bool{}
		}
		assert.False(t, counts[ev.StepID][ev.Seq], "duplicate seq %d for step %s", ev.Seq, ev.StepID)
		counts[ev.StepID][ev.Seq] = true
	}
	for step, seqs := range counts {
		assert.Len(t, seqs, 50, "step %s", step)
	}
}

func TestMemorySinkBoundsAndDrop(t *testing.T) {
	sink := NewMemorySink(3)
	rec := NewRecorder(sink)
	for i := 0; i < 5; i++ {
		rec.Emit("run1", "s", TypeProgress, "tick", nil)
	}
	evs := sink.ForRun("run1")
	require.Len(t, evs, 3)
	assert.Equal(t, 5, evs[2].Seq)

	sink.Drop("run1")
	assert.Empty(t, sink.ForRun("run1"))
}

func TestEnvelopeValidation(t *testing.T) {
	env := Envelope{EventID: "e1", EventType: "running", RunID: "r1", Data: json.RawMessage(`{}`)}
	assert.NoError(t, env.ValidateBasic())

	env.RunID = ""
	assert.Error(t, env.ValidateBasic())
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.Emit("run1", "s", TypeRunning, "noop", nil)
}
