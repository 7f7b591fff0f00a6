package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"podbrief/internal/coordinator"
)

var ErrClosed = errors.New("dispatch: dispatcher closed")

type Processor interface {
	Process(ctx context.Context, job coordinator.Job) error
}

// Inline runs each job on its own goroutine in this process. Jobs outlive
// the request that scheduled them; the coordinator bounds them with its job
// timeout.
type Inline struct {
	proc   Processor
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewInline(proc Processor, logger *slog.Logger) *Inline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inline{proc: proc, logger: logger}
}

func (d *Inline) Dispatch(ctx context.Context, job coordinator.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.proc.Process(context.WithoutCancel(ctx), job); err != nil {
			d.logger.Error("summary job failed", "summary_id", job.SummaryID, "attempt", job.Attempt, "error", err)
		}
	}()
	return nil
}

// Close stops accepting jobs and waits for running ones, or for ctx.
func (d *Inline) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
