// Package portfolio holds the cross-strategy notional aggregate. The engine
// pushes a signed delta after each completed cascade; the checker applies it
// and flags breaches of the portfolio-wide cap. It never blocks the cascade
// and never pauses a strategy itself, that stays with the orchestration
// layer reading the alerts.
package portfolio

import (
	"sync"

	"github.com/rs/zerolog"

	"stratbook/internal/event"
	"stratbook/internal/snapshot"
)

// Status is the running cross-strategy aggregate.
type Status struct {
	OverallBuyNotional      float64
	OverallSellNotional     float64
	OverallBuyFillNotional  float64
	OverallSellFillNotional float64
}

// Checker accumulates portfolio deltas and logs limit breaches.
type Checker struct {
	mu sync.Mutex

	status Status
	// maxOverallNotional caps buy+sell open notional across strategies.
	// Zero disables the check.
	maxOverallNotional float64

	log zerolog.Logger
}

func NewChecker(maxOverallNotional float64, log zerolog.Logger) *Checker {
	return &Checker{
		maxOverallNotional: maxOverallNotional,
		log:                log,
	}
}

// CheckPortfolioLimits applies one cascade's delta to the aggregate and logs
// at error level when the portfolio cap is exceeded. Called on its own
// goroutine by the engine, so it must not assume cascade ordering beyond
// what the delta itself carries.
func (c *Checker) CheckPortfolioLimits(
	stratID string,
	oj *event.OrderJournal,
	os *snapshot.OrderSnapshot,
	brief *snapshot.StratBrief,
	delta snapshot.PortfolioStatusDelta,
) {
	c.mu.Lock()
	c.status.OverallBuyNotional += delta.OverallBuyNotionalDelta
	c.status.OverallSellNotional += delta.OverallSellNotionalDelta
	c.status.OverallBuyFillNotional += delta.OverallBuyFillNotionalDelta
	c.status.OverallSellFillNotional += delta.OverallSellFillNotionalDelta
	total := c.status.OverallBuyNotional + c.status.OverallSellNotional
	c.mu.Unlock()

	if c.maxOverallNotional > 0 && total > c.maxOverallNotional {
		ev := c.log.Error().
			Str("strat_id", stratID).
			Float64("overall_notional", total).
			Float64("max_overall_notional", c.maxOverallNotional)
		if os != nil {
			ev = ev.Str("order_id", os.ID)
		}
		ev.Msg("portfolio notional limit exceeded")
	}
}

// Snapshot returns a copy of the current aggregate.
func (c *Checker) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
