package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/timmy/paperpilot/internal/logger"
)

// Submitter enqueues jobs.
type Submitter interface {
	Submit(ctx context.Context, job Job) (Job, error)
}

// ScheduleEntry submits Kind with Payload every Every.
type ScheduleEntry struct {
	Kind    Kind
	Every   time.Duration
	Payload interface{}
}

// RunSchedule starts one ticker per entry and blocks until ctx is done.
// Entries with a non-positive interval are skipped.
func RunSchedule(ctx context.Context, q Submitter, entries []ScheduleEntry) {
	var wg sync.WaitGroup
	for _, e := range entries {
		if e.Every <= 0 {
			continue
		}
		wg.Add(1)
		go func(e ScheduleEntry) {
			defer wg.Done()
			ticker := time.NewTicker(e.Every)
			defer ticker.Stop()
			logger.FromContext(ctx).WithFields(logger.Fields{
				logger.FieldJobKind: string(e.Kind),
				"every":             e.Every.String(),
			}).Info("Job scheduled")
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					submitScheduled(ctx, q, e)
				}
			}
		}(e)
	}
	wg.Wait()
}

func submitScheduled(ctx context.Context, q Submitter, e ScheduleEntry) {
	job, err := NewJob(e.Kind, e.Payload)
	if err == nil {
		_, err = q.Submit(ctx, job)
	}
	if err != nil {
		logger.CtxWarn(ctx, "Failed to submit scheduled %s job: %v", e.Kind, err)
	}
}
