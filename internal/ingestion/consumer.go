package ingestion

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stratbook/internal/event"
	"stratbook/internal/observability"
	"stratbook/internal/reconcile"
)

// JournalHandler is the engine surface the consumer loop drives.
type JournalHandler interface {
	HandleOrderJournal(ctx context.Context, oj *event.OrderJournal) error
	HandleFillsJournal(ctx context.Context, fj *event.FillsJournal) error
}

// Consumer drains the raw-event channel, parses, and drives the engine. One
// goroutine: combined with the blocking journal persist inside the engine
// this is the single-writer event loop.
type Consumer struct {
	events  <-chan RawEvent
	engine  JournalHandler
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewConsumer(events <-chan RawEvent, engine JournalHandler, metrics *observability.Metrics, log zerolog.Logger) *Consumer {
	return &Consumer{events: events, engine: engine, metrics: metrics, log: log}
}

// Run processes raw events until ctx is cancelled.
//
// Error policy: ErrNotReady NAKs the message so the bus redelivers once the
// startup ladder completes. Every other failure ACKs: parse errors and
// cascade rejections are not healed by redelivery, and the journal tables
// plus the error log are the recovery record.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-c.events:
			if !ok {
				return nil
			}
			c.dispatch(ctx, raw)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, raw RawEvent) {
	subject := subjectClass(raw.Subject)
	c.metrics.JournalsReceived.WithLabelValues(subject).Inc()

	var err error
	switch subject {
	case "orders":
		err = c.handleOrder(ctx, raw)
	case "fills":
		err = c.handleFill(ctx, raw)
	default:
		c.log.Warn().Str("subject", raw.Subject).Msg("message on unexpected subject")
		raw.AckFunc()
		return
	}

	if errors.Is(err, reconcile.ErrNotReady) {
		c.metrics.JournalsNaked.WithLabelValues(subject).Inc()
		raw.NakFunc()
		return
	}
	if err != nil {
		c.log.Error().Err(err).Str("subject", raw.Subject).Msg("journal rejected")
	} else {
		c.metrics.IngestToApply.WithLabelValues(subject).Observe(time.Since(raw.Received).Seconds())
	}
	raw.AckFunc()
}

func (c *Consumer) handleOrder(ctx context.Context, raw RawEvent) error {
	oj, err := ParseOrderJournal(raw.Data)
	if err != nil {
		c.metrics.ParseErrors.WithLabelValues("orders").Inc()
		return err
	}
	return c.engine.HandleOrderJournal(ctx, oj)
}

func (c *Consumer) handleFill(ctx context.Context, raw RawEvent) error {
	fj, err := ParseFillsJournal(raw.Data)
	if err != nil {
		c.metrics.ParseErrors.WithLabelValues("fills").Inc()
		return err
	}
	return c.engine.HandleFillsJournal(ctx, fj)
}

// subjectClass maps "strat.orders.<id>" to "orders" and
// "strat.out.alerts.pause" to "alerts".
func subjectClass(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) >= 3 && parts[1] == "out" {
		return parts[2]
	}
	if len(parts) >= 2 {
		return parts[1]
	}
	return subject
}
