package jobs

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// integrityUniqueWindow collapses repeated manual triggers into one task.
const integrityUniqueWindow = time.Minute

// Enqueuer submits on-demand sweeps.
type Enqueuer interface {
	EnqueueJournalIntegrity(ctx context.Context, concurrency int) (*asynq.TaskInfo, error)
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueJournalIntegrity schedules an integrity sweep outside the cron.
// A duplicate inside the unique window fails with asynq.ErrDuplicateTask.
func (c *Client) EnqueueJournalIntegrity(ctx context.Context, concurrency int) (*asynq.TaskInfo, error) {
	task, err := NewJournalIntegrityTask(concurrency)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.Unique(integrityUniqueWindow))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
