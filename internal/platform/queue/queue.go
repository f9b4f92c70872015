// Package queue provides a Redis-backed work queue for async
// sub-workflow dispatch (spec §4.6's "async" sub-workflow mode).
// Grounded on internal/engine/queue.go's TaskQueue interface and its
// RedisQueue implementation, narrowed from the teacher's
// priority/dead-letter/visibility-timeout task queue to a simple
// list-backed FIFO (LPUSH/BRPOP) sized for "dispatch a sub-workflow
// run, someone will pick it up" rather than a general job-processing
// system. Library: github.com/redis/go-redis/v9.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job is one queued unit of work: running a sub-workflow on behalf of
// a parent Execution's suspended subworkflow node.
type Job struct {
	ID                 string                 `json:"id"`
	ParentExecutionID  string                 `json:"parent_execution_id"`
	ParentNodeKey      string                 `json:"parent_node_key"`
	WorkflowID         string                 `json:"workflow_id"`
	Input              map[string]interface{} `json:"input"`
	EnqueuedAt         time.Time              `json:"enqueued_at"`
}

// Queue enqueues and dequeues sub-workflow dispatch Jobs.
type Queue struct {
	client *redis.Client
	key    string
}

// New wraps a shared *redis.Client under the named list key.
func New(client *redis.Client, name string) *Queue {
	if name == "" {
		name = "prana:subworkflow-jobs"
	}
	return &Queue{client: client, key: name}
}

// Enqueue pushes a job onto the head of the list (Dequeue pops from the
// tail, so jobs come out in FIFO order), assigning an ID if the caller
// hasn't set one.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.EnqueuedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshaling job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("queue: enqueuing job: %w", err)
	}
	return nil
}

// Dequeue blocks (up to timeout) for the next job, returning nil, nil
// on timeout with no job available.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: dequeuing job: %w", err)
	}

	// BRPop returns [key, value]; the payload is the second element.
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("queue: unmarshaling job: %w", err)
	}
	return &job, nil
}

// Len returns the number of jobs waiting in the queue.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
