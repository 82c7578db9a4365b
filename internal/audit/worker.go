package audit

import (
	"context"
	"log/slog"
	"time"
)

// FailureCounter is notified for every event a sink rejects.
type FailureCounter interface {
	IncrementAuditFailures()
}

// Worker consumes audit events from a channel and appends them to a sink.
// Sink failures are logged and counted; they never stop the worker.
type Worker struct {
	sink     Sink
	inbox    <-chan Event
	logger   *slog.Logger
	failures FailureCounter
	timeout  time.Duration
}

type WorkerOption func(*Worker)

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithFailureCounter(c FailureCounter) WorkerOption {
	return func(w *Worker) {
		w.failures = c
	}
}

func NewWorker(sink Sink, inbox <-chan Event, opts ...WorkerOption) *Worker {
	w := &Worker{sink: sink, inbox: inbox, logger: slog.Default(), timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run delivers events until the inbox is closed or ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			w.deliver(ctx, event)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.sink.Append(ctx, event); err != nil {
		w.logger.ErrorContext(ctx, "failed to deliver audit event",
			"action", event.Action,
			"client_id", event.ClientID,
			"request_id", event.RequestID,
			"error", err,
		)
		if w.failures != nil {
			w.failures.IncrementAuditFailures()
		}
	}
}
