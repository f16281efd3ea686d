package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"salesops_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

const (
	dispatchUniqueTTL = 55 * time.Second
	syncUniqueTTL     = 30 * time.Minute
	syncMaxRetry      = 3
)

type Client struct {
	client *asynq.Client
	queue  string
}

// Enqueuer is what the periodic trigger needs.
type Enqueuer interface {
	EnqueueOutreachDispatch(ctx context.Context, at time.Time) error
	EnqueuePurchaseSync(ctx context.Context, start, end time.Time) error
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueOutreachDispatch queues one dispatch invocation. Overlapping
// triggers collapse into one task, and a failed run is not retried.
func (c *Client) EnqueueOutreachDispatch(ctx context.Context, at time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewOutreachDispatchTask(OutreachDispatchPayload{ScheduledAt: at})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.Unique(dispatchUniqueTTL),
		asynq.MaxRetry(0),
	)
	return ignoreDuplicate(err)
}

// EnqueuePurchaseSync queues a sync over [start, end].
func (c *Client) EnqueuePurchaseSync(ctx context.Context, start, end time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewPurchaseSyncTask(PurchaseSyncPayload{
		StartDate: start.Format(dateLayout),
		EndDate:   end.Format(dateLayout),
	})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.Unique(syncUniqueTTL),
		asynq.MaxRetry(syncMaxRetry),
	)
	return ignoreDuplicate(err)
}

func ignoreDuplicate(err error) error {
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
