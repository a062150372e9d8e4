package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Envelope is the canonical message wrapper appended to the Redis stream so
// external listeners can consume pipeline events.
type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	RunID      string          `json:"run_id"`
	StepID     string          `json:"step_id"`
	Seq        int             `json:"seq"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// ValidateBasic ensures mandatory envelope fields are present.
func (e *Envelope) ValidateBasic() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	return nil
}

// StreamSink publishes events to a Redis stream via XADD. Publish failures are
// logged and dropped; observability must never stall the pipeline.
type StreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *log.Logger
}

func NewStreamSink(client *redis.Client, stream string, maxLen int64) *StreamSink {
	return &StreamSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: log.New(log.Writer(), "[EVENTS] ", log.LstdFlags),
	}
}

func (s *StreamSink) Write(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Printf("marshal event: %v", err)
		return
	}
	env := Envelope{
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		RunID:      ev.RunID,
		StepID:     ev.StepID,
		Seq:        ev.Seq,
		OccurredAt: ev.OccurredAt,
		Data:       data,
	}
	if err := env.ValidateBasic(); err != nil {
		s.logger.Printf("invalid envelope: %v", err)
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		s.logger.Printf("marshal envelope: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{"envelope": raw},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.logger.Printf("xadd %s: %v", s.stream, err)
	}
}

// Conn dials Redis and verifies the connection with a ping.
func Conn(ctx context.Context, host, port, pass string, db int, timeout time.Duration) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%s", host, port),
		DialTimeout: timeout,
		Password:    pass,
		DB:          db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
