package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/timmy/paperpilot/internal/domain"
	"github.com/timmy/paperpilot/internal/logger"
	"github.com/timmy/paperpilot/internal/metrics"
)

// RunStore persists job executions.
type RunStore interface {
	Create(ctx context.Context, run *domain.JobRun) error
	Update(ctx context.Context, run *domain.JobRun) error
}

// Runner dispatches jobs to the handler registered for their kind.
type Runner struct {
	runs RunStore

	mu       sync.RWMutex
	handlers map[Kind]HandlerFunc
}

// NewRunner creates a runner that records executions in runs.
func NewRunner(runs RunStore) *Runner {
	return &Runner{runs: runs, handlers: make(map[Kind]HandlerFunc)}
}

// Register binds h to kind, replacing any previous handler.
func (r *Runner) Register(kind Kind, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *Runner) handler(kind Kind) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Run executes job synchronously.
// Parameters:
//   - ctx: context for the handler and the run bookkeeping.
//   - job: job to execute; an empty ID gets a fresh one.
//
// Returns:
//   - *domain.JobRun: the recorded run, also on handler failure.
//   - error: the handler error, or a validation or persistence error.
func (r *Runner) Run(ctx context.Context, job Job) (*domain.JobRun, error) {
	h, ok := r.handler(job.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: no handler for job kind %q", domain.ErrInvalidInput, job.Kind)
	}
	if job.ID == "" {
		fresh, _ := NewJob(job.Kind, nil)
		job.ID = fresh.ID
	}

	ctx = logger.SetComponent(ctx, "jobs")
	ctx = logger.SetJobID(ctx, job.ID)
	ctx = logger.WithField(ctx, logger.FieldJobKind, string(job.Kind))

	run := &domain.JobRun{
		ID:      job.ID,
		Kind:    string(job.Kind),
		Payload: string(job.Payload),
		Status:  domain.JobStatusPending,
	}
	if err := r.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record job run: %w", err)
	}

	start := time.Now()
	run.Status = domain.JobStatusRunning
	run.StartedAt = &start
	if err := r.runs.Update(ctx, run); err != nil {
		logger.CtxWarn(ctx, "Failed to mark job running: %v", err)
	}
	logger.CtxInfo(ctx, "Job started")

	result, runErr := r.invoke(ctx, h, job.Payload)

	done := time.Now()
	run.CompletedAt = &done
	if runErr != nil {
		run.Status = domain.JobStatusFailed
		run.ErrorLog = runErr.Error()
	} else {
		run.Status = domain.JobStatusCompleted
		if result != nil {
			if b, err := json.Marshal(result); err == nil {
				run.Result = string(b)
			}
		}
	}
	if err := r.runs.Update(ctx, run); err != nil {
		logger.CtxWarn(ctx, "Failed to record job outcome: %v", err)
	}
	metrics.RecordJob(run.Kind, string(run.Status))

	entry := logger.With(logger.Fields{logger.FieldStatus: string(run.Status)}).WithDuration(start)
	if runErr != nil {
		entry.With(logger.Fields{"error": runErr.Error()}).Error(ctx, "Job failed")
	} else {
		entry.Info(ctx, "Job completed")
	}
	return run, runErr
}

func (r *Runner) invoke(ctx context.Context, h HandlerFunc, payload json.RawMessage) (result interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return h(ctx, payload)
}

// Handle is the watermill consumer for the job topic. Every message is
// acked: malformed and failed jobs are logged and recorded, not redelivered.
func (r *Runner) Handle(msg *message.Message) error {
	ctx := msg.Context()
	var job Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		logger.CtxError(ctx, "Dropping malformed job message %s: %v", msg.UUID, err)
		return nil
	}
	if job.ID == "" {
		job.ID = msg.UUID
	}
	if _, err := r.Run(ctx, job); err != nil {
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldJobID:   job.ID,
			logger.FieldJobKind: string(job.Kind),
		}).WithError(err).Warn("Job did not complete")
	}
	return nil
}
