package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"podbrief/internal/coordinator"

	"github.com/hibiken/asynq"
)

const (
	TypeGenerateSummary = "summary:generate"
	DefaultQueue        = "summaries"
)

// TaskEnqueuer is the slice of *asynq.Client the queue dispatcher needs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func NewSummaryTask(job coordinator.Job) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeGenerateSummary, payload), nil
}

// TaskID is unique per summary attempt so a double enqueue collapses.
func TaskID(job coordinator.Job) string {
	return "summary:" + job.SummaryID + ":" + strconv.Itoa(job.Attempt)
}

// Queue hands jobs to a Redis-backed asynq queue for a worker process.
// Coordinator-level retries replace asynq retries, so tasks never retry.
type Queue struct {
	client  TaskEnqueuer
	queue   string
	timeout time.Duration
}

func NewQueue(client TaskEnqueuer, queue string, jobTimeout time.Duration) *Queue {
	if queue == "" {
		queue = DefaultQueue
	}
	if jobTimeout <= 0 {
		jobTimeout = coordinator.DefaultJobTimeout
	}
	return &Queue{client: client, queue: queue, timeout: jobTimeout}
}

func (q *Queue) Dispatch(ctx context.Context, job coordinator.Job) error {
	task, err := NewSummaryTask(job)
	if err != nil {
		return fmt.Errorf("encode summary task: %w", err)
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(q.queue),
		asynq.TaskID(TaskID(job)),
		asynq.MaxRetry(0),
		asynq.Timeout(q.timeout),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue summary task: %w", err)
	}
	return nil
}

// Handler is the worker side of Queue.
type Handler struct {
	proc   Processor
	logger *slog.Logger
}

func NewHandler(proc Processor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{proc: proc, logger: logger}
}

func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var job coordinator.Job
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	if job.SummaryID == "" || job.Attempt <= 0 {
		return fmt.Errorf("%s payload missing summary id or attempt: %w", t.Type(), asynq.SkipRetry)
	}
	h.logger.Info("summary task received", "summary_id", job.SummaryID, "attempt", job.Attempt, "level", job.Level)
	return h.proc.Process(ctx, job)
}

func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.Handle(TypeGenerateSummary, h)
}
