// Package ingestion is the event-bus edge: NATS JetStream consumers feed
// raw journal payloads into the consumer loop, the parser turns them into
// typed events, and the outbound publisher carries deltas, alerts, and
// entity notifications back onto the bus.
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// RawEvent is a bus message awaiting parse and dispatch. Ack/Nak close the
// redelivery loop: NAK means "retry later" (service not ready), ACK means
// the message is consumed whether or not the cascade liked it.
type RawEvent struct {
	Subject  string
	Data     []byte
	Received time.Time
	AckFunc  func()
	NakFunc  func()
}

// SubjectConfig maps one JetStream subject to a durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the per-strategy journal subjects. Each strategy
// process consumes its own id suffix so several strats share the streams.
func DefaultSubjects(stratID string) []SubjectConfig {
	return []SubjectConfig{
		{
			Subject:      fmt.Sprintf("strat.orders.%s", stratID),
			ConsumerName: fmt.Sprintf("stratbook-orders-%s", stratID),
			StreamName:   "STRAT_ORDERS",
		},
		{
			Subject:      fmt.Sprintf("strat.fills.%s", stratID),
			ConsumerName: fmt.Sprintf("stratbook-fills-%s", stratID),
			StreamName:   "STRAT_FILLS",
		},
	}
}

// Subscriber owns the JetStream durable consumers.
type Subscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	log       zerolog.Logger
}

func NewSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, log zerolog.Logger) *Subscriber {
	return &Subscriber{js: js, eventChan: eventChan, log: log}
}

// Subscribe creates the durable consumers. Explicit ACK with unlimited
// redelivery: a NAKed journal must eventually land, losing one would leave
// the derived state permanently short.
func (s *Subscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    -1,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:  msg.Subject(),
				Data:     msg.Data(),
				Received: time.Now(),
				AckFunc:  func() { msg.Ack() },
				NakFunc:  func() { msg.Nak() },
			}

			select {
			case s.eventChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		s.consumers = append(s.consumers, cc)
		s.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.log.Info().Msg("journal subscribers stopped")
}

// EnsureStreams creates the journal streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "STRAT_ORDERS",
			Subjects:  []string{"strat.orders.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "STRAT_FILLS",
			Subjects:  []string{"strat.fills.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Connect establishes a NATS connection and returns the JetStream context.
func Connect(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
