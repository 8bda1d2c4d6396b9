package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by Dequeue after Close
var ErrClosed = errors.New("queue closed")

// Job is one queue entry. Payload is opaque JSON owned by the producer.
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	RunAt      time.Time       `json:"run_at"`
	Delay      time.Duration   `json:"delay"`

	raw string
}

// Decode unmarshals the payload into v. Numbers inside untyped maps stay json.Number.
func (j *Job) Decode(v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(j.Payload))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode job %s payload: %w", j.ID, err)
	}
	return nil
}

// Queue is a durable, at-least-once job channel with optional delivery delay
type Queue interface {
	// Enqueue schedules payload for delivery no earlier than delay from now and returns the job id
	Enqueue(ctx context.Context, queue string, payload interface{}, delay time.Duration) (string, error)
	// Dequeue blocks until a due job is available or ctx is done
	Dequeue(ctx context.Context, queue string) (*Job, error)
	// Ack removes a delivered job for good; un-acked jobs are redelivered after a restart
	Ack(ctx context.Context, job *Job) error
	Close() error
}

func newJob(queue string, payload interface{}, delay time.Duration, now time.Time) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	if delay < 0 {
		delay = 0
	}
	return &Job{
		ID:         uuid.NewString(),
		Queue:      queue,
		Payload:    body,
		EnqueuedAt: now,
		RunAt:      now.Add(delay),
		Delay:      delay,
	}, nil
}
