package jobs

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/timmy/paperpilot/internal/logger"
)

// DefaultTopic carries job messages.
const DefaultTopic = "paperpilot.jobs"

const handlerName = "paperpilot_job_runner"

// Queue is an in-process job queue backed by a watermill gochannel Pub/Sub.
type Queue struct {
	pubsub *gochannel.GoChannel
	topic  string
	log    watermill.LoggerAdapter
}

// NewQueue creates a queue publishing on topic (DefaultTopic when empty).
func NewQueue(topic string) *Queue {
	if topic == "" {
		topic = DefaultTopic
	}
	log := NewLoggerAdapter(logger.GetDefault())
	return &Queue{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, log),
		topic:  topic,
		log:    log,
	}
}

// Topic returns the topic jobs are published on.
func (q *Queue) Topic() string {
	return q.topic
}

// Submit publishes job, assigning an id and submission time when missing.
// Parameters:
//   - ctx: request context; its request id travels with the message.
//   - job: job to enqueue.
//
// Returns:
//   - Job: the job as published.
//   - error: encoding or publish failure.
func (q *Queue) Submit(ctx context.Context, job Job) (Job, error) {
	if _, err := ParseKind(string(job.Kind)); err != nil {
		return Job{}, err
	}
	if job.ID == "" || job.SubmittedAt.IsZero() {
		fresh, _ := NewJob(job.Kind, nil)
		if job.ID == "" {
			job.ID = fresh.ID
		}
		if job.SubmittedAt.IsZero() {
			job.SubmittedAt = fresh.SubmittedAt
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return Job{}, fmt.Errorf("failed to encode job: %w", err)
	}
	msg := message.NewMessage(job.ID, data)
	msg.Metadata.Set("kind", string(job.Kind))
	if rid := logger.GetRequestID(ctx); rid != "" {
		msg.Metadata.Set(logger.FieldRequestID, rid)
	}

	if err := q.pubsub.Publish(q.topic, msg); err != nil {
		return Job{}, fmt.Errorf("failed to publish job: %w", err)
	}
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldJobID:   job.ID,
		logger.FieldJobKind: string(job.Kind),
	}).Info("Job submitted")
	return job, nil
}

// Consume runs a watermill router feeding the queue into runner until ctx
// is cancelled. It closes running once the router accepts messages.
func (q *Queue) Consume(ctx context.Context, runner *Runner, running chan<- struct{}) error {
	router, err := message.NewRouter(message.RouterConfig{}, q.log)
	if err != nil {
		return fmt.Errorf("create job router: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	router.AddConsumerHandler(handlerName, q.topic, q.pubsub, withRequestID(runner.Handle))

	if running != nil {
		go func() {
			select {
			case <-router.Running():
				close(running)
			case <-ctx.Done():
			}
		}()
	}
	return router.Run(ctx)
}

// Close shuts the Pub/Sub down.
func (q *Queue) Close() error {
	return q.pubsub.Close()
}

// withRequestID restores the submitter's request id onto the message context.
func withRequestID(h message.NoPublishHandlerFunc) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		if rid := msg.Metadata.Get(logger.FieldRequestID); rid != "" {
			msg.SetContext(logger.SetRequestID(msg.Context(), rid))
		}
		return h(msg)
	}
}
