package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/nkurunziza/docextract/pkg/logger"
)

// RedisConfig locates the Redis instance backing the queue and the status
// mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AsynqConfig tunes the production queue.
type AsynqConfig struct {
	Redis       RedisConfig
	Concurrency int
	Queue       string
}

func (c *AsynqConfig) withDefaults() AsynqConfig {
	out := *c
	if out.Concurrency <= 0 {
		out.Concurrency = 10
	}
	if out.Queue == "" {
		out.Queue = "default"
	}
	if out.Redis.Addr == "" {
		out.Redis.Addr = "localhost:6379"
	}
	return out
}

func (c RedisConfig) clientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

// AsynqProducer enqueues extraction tasks onto the Redis-backed queue.
// Retry policy lives in the dispatcher, so asynq-level retries only cover
// worker crashes mid-task.
type AsynqProducer struct {
	client *asynq.Client
	queue  string
	logger logger.Logger
}

var _ Producer = (*AsynqProducer)(nil)

func NewAsynqProducer(cfg AsynqConfig, log logger.Logger) *AsynqProducer {
	c := cfg.withDefaults()
	return &AsynqProducer{
		client: asynq.NewClient(c.Redis.clientOpt()),
		queue:  c.Queue,
		logger: log,
	}
}

func (p *AsynqProducer) Enqueue(ctx context.Context, msg Message, delay time.Duration) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(p.queue),
		// Every retry attempt gets its own task identity so asynq's dedup
		// never swallows a re-enqueue.
		asynq.TaskID(fmt.Sprintf("%s:%d", msg.JobID, msg.Attempt)),
		asynq.MaxRetry(2),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}

	info, err := p.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeExtraction, payload), opts...)
	if err != nil {
		return fmt.Errorf("enqueue extraction task: %w", err)
	}
	p.logger.Debug("extraction task enqueued",
		logger.String("jobId", msg.JobID),
		logger.String("taskId", info.ID),
		logger.Duration("delay", delay),
	)
	return nil
}

func (p *AsynqProducer) Close() error {
	return p.client.Close()
}

// AsynqConsumer runs an asynq server delivering extraction tasks to a
// Handler.
type AsynqConsumer struct {
	server *asynq.Server
	logger logger.Logger
}

var _ Consumer = (*AsynqConsumer)(nil)

func NewAsynqConsumer(cfg AsynqConfig, log logger.Logger) *AsynqConsumer {
	c := cfg.withDefaults()
	server := asynq.NewServer(
		c.Redis.clientOpt(),
		asynq.Config{
			Concurrency: c.Concurrency,
			Queues:      map[string]int{c.Queue: 1},
		},
	)
	return &AsynqConsumer{server: server, logger: log}
}

func (c *AsynqConsumer) Run(ctx context.Context, handler Handler) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeExtraction, func(taskCtx context.Context, t *asynq.Task) error {
		var msg Message
		if err := json.Unmarshal(t.Payload(), &msg); err != nil {
			c.logger.Error("dropping malformed queue payload", logger.Error(err))
			return nil
		}
		return handler(taskCtx, msg)
	})

	go func() {
		<-ctx.Done()
		c.server.Shutdown()
	}()

	if err := c.server.Run(mux); err != nil {
		return fmt.Errorf("run queue consumer: %w", err)
	}
	return ctx.Err()
}

// RedisMirror keeps terminal job statuses in Redis with a TTL so pollers
// skip the database for recently finished jobs.
type RedisMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ StatusMirror = (*RedisMirror)(nil)

const mirrorKeyPrefix = "docextract:jobstatus:"

func NewRedisMirror(cfg RedisConfig, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisMirror{
		rdb: redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		ttl: ttl,
	}
}

func (m *RedisMirror) SaveStatus(ctx context.Context, record JobStatusRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal status record: %w", err)
	}
	if err := m.rdb.Set(ctx, mirrorKeyPrefix+record.JobID, payload, m.ttl).Err(); err != nil {
		return fmt.Errorf("save status record: %w", err)
	}
	return nil
}

func (m *RedisMirror) GetStatus(ctx context.Context, jobID string) (*JobStatusRecord, bool, error) {
	raw, err := m.rdb.Get(ctx, mirrorKeyPrefix+jobID).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load status record: %w", err)
	}
	var record JobStatusRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, false, fmt.Errorf("decode status record: %w", err)
	}
	return &record, true, nil
}

func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
