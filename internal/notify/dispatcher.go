package notify

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"stratbook/internal/observability"
	"stratbook/internal/snapshot"
)

// Bus is the outbound publication surface (the NATS publisher).
type Bus interface {
	Enqueue(subject string, payload interface{}) bool
}

// Dispatcher implements the engine's notifier: entity updates pass the
// filter predicates and go out as non-blocking publications; pause alerts
// additionally pass a rate limiter so a breach storm cannot flood the alert
// bus.
type Dispatcher struct {
	stratID string
	bus     Bus
	filters Filters
	// alertLimiter throttles pause alerts (burst then steady trickle).
	alertLimiter *rate.Limiter
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewDispatcher(stratID string, bus Bus, filters Filters, metrics *observability.Metrics, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		stratID:      stratID,
		bus:          bus,
		filters:      filters,
		alertLimiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
		metrics:      metrics,
		log:          log,
	}
}

// pauseAlert is the outbound wire shape of a pause alert.
type pauseAlert struct {
	StratID string    `json:"strat_id"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// PublishPauseAlert raises the operator alert for a strategy pause.
func (d *Dispatcher) PublishPauseAlert(stratID, reason string) {
	if !d.alertLimiter.Allow() {
		d.metrics.AlertsThrottled.Inc()
		d.log.Warn().Str("strat_id", stratID).Str("reason", reason).
			Msg("pause alert throttled")
		return
	}
	d.bus.Enqueue("strat.out.alerts.pause", pauseAlert{
		StratID: stratID,
		Reason:  reason,
		At:      time.Now(),
	})
}

// PublishPortfolioDelta forwards the cascade's portfolio contribution to the
// portfolio-level aggregator.
func (d *Dispatcher) PublishPortfolioDelta(delta snapshot.PortfolioStatusDelta) {
	d.bus.Enqueue(fmt.Sprintf("strat.out.portfolio.%s", d.stratID), delta)
}

func (d *Dispatcher) NotifyOrderSnapshot(o *snapshot.OrderSnapshot) {
	if !d.filters.passOrder(o) {
		return
	}
	d.bus.Enqueue(fmt.Sprintf("strat.out.entities.order.%s", o.Order.Security), o)
}

func (d *Dispatcher) NotifySymbolSideSnapshot(s *snapshot.SymbolSideSnapshot) {
	if !d.filters.passSymbolSide(s) {
		return
	}
	d.bus.Enqueue(fmt.Sprintf("strat.out.entities.symbol_side.%s", s.Security), s)
}

func (d *Dispatcher) NotifyStratBrief(b *snapshot.StratBrief) {
	d.bus.Enqueue(fmt.Sprintf("strat.out.entities.brief.%s", d.stratID), b)
}

func (d *Dispatcher) NotifyStratStatus(s *snapshot.StratStatus) {
	d.bus.Enqueue(fmt.Sprintf("strat.out.entities.status.%s", d.stratID), s)
}
