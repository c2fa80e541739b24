package fx

import (
	"sync"
	"time"
)

// Converter converts between local currency and the USD reference using the
// live FX rate. Stateless beyond the single rate: usd_px = local_px / usd_fx,
// local_amount = usd_amount * usd_fx.
//
// Single-currency-pair assumption for both legs, a known restriction pending
// multi-currency support. Until the first successful refresh, Ready() is
// false and the engine must not be marked SERVICE_READY.
type Converter struct {
	mu          sync.RWMutex
	usdFx       float64
	refreshedAt time.Time
}

func NewConverter() *Converter {
	return &Converter{}
}

// SetRate installs a freshly observed FX rate. Zero and negative rates are
// ignored; they would make every notional undefined.
func (c *Converter) SetRate(usdFx float64, at time.Time) {
	if usdFx <= 0 {
		return
	}
	c.mu.Lock()
	c.usdFx = usdFx
	c.refreshedAt = at
	c.mu.Unlock()
}

// Ready reports whether at least one refresh succeeded.
func (c *Converter) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usdFx > 0
}

// Rate returns the current usd_fx rate (0 when never refreshed).
func (c *Converter) Rate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usdFx
}

// RefreshedAt returns the time of the last successful refresh.
func (c *Converter) RefreshedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

// USDPx converts a local price to USD. Returns the local price unchanged if
// the rate was never refreshed; callers gate on Ready() before notional math.
func (c *Converter) USDPx(localPx float64) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.usdFx <= 0 {
		return localPx
	}
	return localPx / c.usdFx
}

// LocalAmount converts a USD amount back to local currency.
func (c *Converter) LocalAmount(usdAmount float64) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.usdFx <= 0 {
		return usdAmount
	}
	return usdAmount * c.usdFx
}

// USDNotional computes usd_px(px) * qty, the notional figure used across
// every cascade step.
func (c *Converter) USDNotional(localPx float64, qty int64) float64 {
	return c.USDPx(localPx) * float64(qty)
}
