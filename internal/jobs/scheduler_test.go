package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []Job
}

func (r *recordingSubmitter) Submit(_ context.Context, job Job) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return job, nil
}

func (r *recordingSubmitter) count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		if j.Kind == kind {
			n++
		}
	}
	return n
}

func TestRunSchedule(t *testing.T) {
	sub := &recordingSubmitter{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunSchedule(ctx, sub, []ScheduleEntry{
			{Kind: KindDailyCrawl, Every: 10 * time.Millisecond, Payload: CrawlPayload{Days: 1}},
			{Kind: KindWeeklyTrends, Every: time.Hour},
			{Kind: KindRebuildEmbeddings, Every: 0},
		})
		close(done)
	}()

	assert.Eventually(t, func() bool { return sub.count(KindDailyCrawl) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("schedule did not stop")
	}

	assert.Zero(t, sub.count(KindWeeklyTrends))
	assert.Zero(t, sub.count(KindRebuildEmbeddings))
	sub.mu.Lock()
	assert.JSONEq(t, `{"days":1}`, string(sub.jobs[0].Payload))
	sub.mu.Unlock()
}
