// Package dispatch hands job ids from the request path to the background
// executor without waiting for the job to run.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SecretHeader carries the shared pipeline secret.
const SecretHeader = "X-Pipeline-Secret"

// Trigger starts background execution of a job. Returning means the request
// was handed off, not that the job ran.
type Trigger interface {
	Trigger(ctx context.Context, jobID string) error
}

// Handler runs one job.
type Handler func(ctx context.Context, jobID string) error

// Queue delivers job ids to a handler, running at most concurrency at once,
// until ctx is cancelled.
type Queue interface {
	Consume(ctx context.Context, concurrency int, handle Handler) error
}

// Message is the wire form of a dispatched job.
type Message struct {
	JobID string `json:"jobId"`
}

func encodeMessage(jobID string) ([]byte, error) {
	return json.Marshal(Message{JobID: jobID})
}

func decodeMessage(body []byte) (string, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return "", fmt.Errorf("decoding job message: %w", err)
	}
	if strings.TrimSpace(m.JobID) == "" {
		return "", errors.New("job message without jobId")
	}
	return m.JobID, nil
}

// HTTPTrigger posts the job id to the executor endpoint, which acknowledges
// immediately and runs the job on its own.
type HTTPTrigger struct {
	url    string
	secret string
	client *http.Client
}

var _ Trigger = (*HTTPTrigger)(nil)

// NewHTTPTrigger creates a trigger for the executor at url.
func NewHTTPTrigger(url, secret string) *HTTPTrigger {
	return &HTTPTrigger{url: url, secret: secret, client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *HTTPTrigger) Trigger(ctx context.Context, jobID string) error {
	body, err := encodeMessage(jobID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, t.secret)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("triggering executor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("executor returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return nil
}

// MemoryQueue is an in-process queue for single-binary deployments.
type MemoryQueue struct {
	jobs chan string
}

var (
	_ Trigger = (*MemoryQueue)(nil)
	_ Queue   = (*MemoryQueue)(nil)
)

// NewMemoryQueue creates a queue holding up to size pending ids.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{jobs: make(chan string, size)}
}

// Trigger enqueues a job id. It fails instead of blocking when the queue is full.
func (q *MemoryQueue) Trigger(ctx context.Context, jobID string) error {
	select {
	case q.jobs <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("in-process queue full")
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, concurrency int, handle Handler) error {
	pool := newPool(ctx, concurrency)
	defer pool.wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-q.jobs:
			pool.run(func(ctx context.Context) { _ = handle(ctx, id) })
		}
	}
}
