package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"stratbook/internal/observability"
)

// outboundMsg is one queued outbound publication.
type outboundMsg struct {
	Subject string
	Payload interface{}
}

// Publisher carries portfolio deltas, pause alerts, and entity-update
// notifications back onto the bus. Enqueue is non-blocking: the cascade
// never stalls on a slow bus, a full queue drops the notification and
// counts it.
type Publisher struct {
	js      jetstream.JetStream
	queue   chan outboundMsg
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, bufferSize int, metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{
		js:      js,
		queue:   make(chan outboundMsg, bufferSize),
		metrics: metrics,
		log:     log,
	}
}

// Enqueue queues a payload for publication without blocking. Returns false
// when the queue is full and the message was dropped.
func (p *Publisher) Enqueue(subject string, payload interface{}) bool {
	select {
	case p.queue <- outboundMsg{Subject: subject, Payload: payload}:
		return true
	default:
		p.metrics.NotificationsDropped.WithLabelValues(subjectClass(subject)).Inc()
		return false
	}
}

// Run drains the queue until ctx is cancelled. Publish failures are logged
// and dropped; downstream consumers reconcile from the store when they miss
// a notification.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.queue:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, msg); err != nil {
				p.log.Warn().Err(err).Str("subject", msg.Subject).Msg("outbound publish failed")
				continue
			}
			p.metrics.NotificationsSent.WithLabelValues(subjectClass(msg.Subject)).Inc()
		}
	}
}

func (p *Publisher) publish(ctx context.Context, msg outboundMsg) error {
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("marshal outbound payload: %w", err)
	}
	_, err = p.js.Publish(ctx, msg.Subject, data, jetstream.WithMsgID(uuid.NewString()))
	return err
}

// EnsureOutboundStream creates the outbound stream if it doesn't exist.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "STRAT_OUT",
		Subjects:  []string{"strat.out.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", "STRAT_OUT").Msg("ensured outbound stream")
	return nil
}
