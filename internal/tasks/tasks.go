// Package tasks defines the background publication task and its asynq
// client, handler and worker server.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/hibiken/asynq"

	"digipub/internal/config"
	"digipub/internal/logging"
	"digipub/internal/publisher"
	"digipub/internal/services"
)

// TypePublish publishes one job.
const TypePublish = "job:publish"

const defaultQueue = "default"

// PublishPayload identifies the job to publish.
type PublishPayload struct {
	JobID int64 `json:"job_id"`
}

// NewPublishTask builds a publish task for jobID. Publication retries are
// driven inside the run, so asynq does not retry the task itself.
func NewPublishTask(jobID int64) (*asynq.Task, error) {
	data, err := json.Marshal(PublishPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TypePublish, data, asynq.MaxRetry(0), asynq.TaskID(taskID(jobID))), nil
}

func taskID(jobID int64) string {
	return "publish-" + strconv.FormatInt(jobID, 10)
}

func redisOpt(cfg config.Queue) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

// Client enqueues publish tasks and inspects the queue.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewClient connects to the configured redis.
func NewClient(cfg config.Queue) *Client {
	opt := redisOpt(cfg)
	return &Client{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt)}
}

// EnqueuePublish queues a publication run for jobID. A run already queued
// for the job is left in place.
func (c *Client) EnqueuePublish(ctx context.Context, jobID int64) error {
	task, err := NewPublishTask(jobID)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue publish task: %w", err)
	}
	return nil
}

// QueueStats counts publish tasks held in redis.
type QueueStats struct {
	Pending   int
	Active    int
	Scheduled int
	Archived  int
}

// Stats reports the default queue. A queue that has never held a task
// reports zeros.
func (c *Client) Stats() (QueueStats, error) {
	queues, err := c.inspector.Queues()
	if err != nil {
		return QueueStats{}, fmt.Errorf("list queues: %w", err)
	}
	if !slices.Contains(queues, defaultQueue) {
		return QueueStats{}, nil
	}
	info, err := c.inspector.GetQueueInfo(defaultQueue)
	if err != nil {
		return QueueStats{}, fmt.Errorf("queue info: %w", err)
	}
	return QueueStats{Pending: info.Pending, Active: info.Active, Scheduled: info.Scheduled, Archived: info.Archived}, nil
}

// Ping verifies redis answers.
func (c *Client) Ping() error {
	_, err := c.inspector.Queues()
	return err
}

// Close releases the redis connections.
func (c *Client) Close() error {
	return errors.Join(c.client.Close(), c.inspector.Close())
}

// Publisher runs a publication.
type Publisher interface {
	Publish(ctx context.Context, jobID int64) (*publisher.Result, error)
}

// Handler processes publish tasks.
type Handler struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewHandler returns a handler backed by pub.
func NewHandler(pub Publisher, logger *slog.Logger) *Handler {
	return &Handler{publisher: pub, logger: logging.NewComponentLogger(logger, "tasks")}
}

// ProcessTask implements asynq.Handler.
func (h *Handler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	ctx = services.WithJobID(ctx, payload.JobID)
	logger := logging.WithContext(ctx, h.logger)

	result, err := h.publisher.Publish(ctx, payload.JobID)
	switch {
	case errors.Is(err, services.ErrConflict):
		logger.Info("publication already running; task dropped")
		return nil
	case err != nil:
		logging.ErrorWithContext(logger, "publication task failed", "publish_task_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "set the job to retry once the cause is fixed"),
		)
		return fmt.Errorf("publish job %d: %v: %w", payload.JobID, err, asynq.SkipRetry)
	}
	logger.Info("publication task finished",
		logging.String("job", result.Job),
		logging.String("status", string(result.Status)),
		logging.Int("attempts", result.Attempts),
	)
	return nil
}

// NewMux routes task types to h.
func NewMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypePublish, h)
	return mux
}

// NewServer builds the worker server for the configured redis.
func NewServer(cfg config.Queue, logger *slog.Logger) *asynq.Server {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Logger:      slogAdapter{logger: logging.NewComponentLogger(logger, "asynq")},
	})
}

// slogAdapter satisfies asynq.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...)) }
func (a slogAdapter) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...)) }
func (a slogAdapter) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...)) }
func (a slogAdapter) Error(args ...any) { a.logger.Error(fmt.Sprint(args...)) }
func (a slogAdapter) Fatal(args ...any) { a.logger.Error(fmt.Sprint(args...)) }
