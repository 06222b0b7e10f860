package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fiskal-io/regstream/internal/config"
)

// Client enqueues typed jobs. Safe for concurrent use.
type Client struct {
	client *asynq.Client
	cfg    config.QueuesConfig
}

// NewClient builds a queue client on the shared Redis connection options.
func NewClient(redisOpt asynq.RedisClientOpt, cfg config.QueuesConfig) *Client {
	return &Client{client: asynq.NewClient(redisOpt), cfg: cfg}
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error { return c.client.Close() }

// EnqueueOption customizes a single enqueue.
type EnqueueOption func(*enqueueOpts)

type enqueueOpts struct {
	delay    time.Duration
	taskID   string
	unique   time.Duration
	maxRetry *int
}

// WithDelay schedules the job to start after d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOpts) { o.delay = d }
}

// WithTaskID pins the job id (idempotent enqueue: a duplicate id is
// rejected while the original is still pending or running).
func WithTaskID(id string) EnqueueOption {
	return func(o *enqueueOpts) { o.taskID = id }
}

// WithUnique suppresses duplicate enqueues of an identical payload for ttl.
func WithUnique(ttl time.Duration) EnqueueOption {
	return func(o *enqueueOpts) { o.unique = ttl }
}

// WithMaxRetry overrides the default attempt count for this job.
func WithMaxRetry(n int) EnqueueOption {
	return func(o *enqueueOpts) { o.maxRetry = &n }
}

// Enqueue submits one job of the given type. The queue is derived from the
// job type; default options are 3 attempts with exponential backoff,
// completed-job retention by age, failed jobs kept for inspection.
func (c *Client) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (string, error) {
	queueName, err := QueueFor(jobType)
	if err != nil {
		return "", err
	}

	data, err := encode(payload)
	if err != nil {
		return "", err
	}

	var o enqueueOpts
	for _, opt := range opts {
		opt(&o)
	}

	maxRetry := c.cfg.MaxRetry
	if o.maxRetry != nil {
		maxRetry = *o.maxRetry
	}
	// asynq counts retries after the first attempt.
	taskOpts := []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(maxRetry - 1),
		asynq.Retention(c.cfg.Retention),
	}
	if o.delay > 0 {
		taskOpts = append(taskOpts, asynq.ProcessIn(o.delay))
	}
	if o.taskID != "" {
		taskOpts = append(taskOpts, asynq.TaskID(o.taskID))
	}
	if o.unique > 0 {
		taskOpts = append(taskOpts, asynq.Unique(o.unique))
	}

	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(jobType, data), taskOpts...)
	if err != nil {
		return "", fmt.Errorf("queue: enqueue %s: %w", jobType, err)
	}
	return info.ID, nil
}
