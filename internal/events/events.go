package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the lifecycle event kinds every pipeline component emits.
type Type string

const (
	TypeRunning   Type = "running"
	TypeProgress  Type = "progress"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
	// Step-specific custom kinds.
	TypeProviderDegraded    Type = "provider_degraded"
	TypeEmbeddingsGenerated Type = "embeddings_generated"
	TypeEmbeddingSkipped    Type = "embedding_skipped"
	TypeWorkflowSuspended   Type = "workflow_suspended"
	TypeWorkflowResumed     Type = "workflow_resumed"
	TypeNoQualifyingResults Type = "no_qualifying_results"
)

// Event is one discrete observation from a pipeline step. Events are ordered
// per step via Seq; consumers must key on RunID+StepID, never on arrival
// order, because concurrently running steps interleave.
type Event struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	StepID     string         `json:"step_id"`
	Seq        int            `json:"seq"`
	Type       Type           `json:"type"`
	Percent    float64        `json:"percent,omitempty"`
	Message    string         `json:"message,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Sink consumes events. Implementations must be safe for concurrent use.
type Sink interface {
	Write(ev Event)
}

// Recorder stamps sequence numbers per (run, step) and forwards to a sink.
// Each workflow run owns its own Recorder; there is no package-level state.
type Recorder struct {
	sink Sink
	mu   sync.Mutex
	seqs map[string]int
}

func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink, seqs: make(map[string]int)}
}

// Emit assigns the next per-step sequence number and writes the event.
func (r *Recorder) Emit(runID, stepID string, typ Type, message string, detail map[string]any) {
	r.emit(Event{RunID: runID, StepID: stepID, Type: typ, Message: message, Detail: detail})
}

// Progress emits a progress event with a [0,1] completion fraction.
func (r *Recorder) Progress(runID, stepID string, percent float64, message string) {
	r.emit(Event{RunID: runID, StepID: stepID, Type: TypeProgress, Percent: percent, Message: message})
}

func (r *Recorder) emit(ev Event) {
	if r == nil || r.sink == nil {
		return
	}
	key := ev.RunID + "/" + ev.StepID
	r.mu.Lock()
	r.seqs[key]++
	ev.Seq = r.seqs[key]
	r.mu.Unlock()
	ev.ID = uuid.NewString()
	ev.OccurredAt = time.Now().UTC()
	r.sink.Write(ev)
}

// MemorySink retains the most recent events per run for the status API.
type MemorySink struct {
	mu    sync.RWMutex
	limit int
	byRun map[string][]Event
}

func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = 256
	}
	return &MemorySink{limit: limit, byRun: make(map[string][]Event)}
}

func (s *MemorySink) Write(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := append(s.byRun[ev.RunID], ev)
	if len(evs) > s.limit {
		evs = evs[len(evs)-s.limit:]
	}
	s.byRun[ev.RunID] = evs
}

// ForRun returns a copy of the retained events for a run.
func (s *MemorySink) ForRun(runID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.byRun[runID]
	out := make([]Event, len(evs))
	copy(out, evs)
	return out
}

// Drop releases the retained events for a finished run.
func (s *MemorySink) Drop(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byRun, runID)
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Write(ev Event) {
	for _, s := range m {
		s.Write(ev)
	}
}
