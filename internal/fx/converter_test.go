package fx

import (
	"testing"
	"time"
)

func TestConverterNotReadyUntilFirstRefresh(t *testing.T) {
	c := NewConverter()
	if c.Ready() {
		t.Fatal("converter ready before any refresh")
	}
	c.SetRate(1.35, time.Now())
	if !c.Ready() {
		t.Fatal("converter not ready after refresh")
	}
}

func TestConverterIgnoresBadRates(t *testing.T) {
	c := NewConverter()
	c.SetRate(1.5, time.Now())

	c.SetRate(0, time.Now())
	c.SetRate(-2, time.Now())

	if got := c.Rate(); got != 1.5 {
		t.Errorf("rate = %v, bad rates must be ignored", got)
	}
}

func TestConverterRoundTrip(t *testing.T) {
	c := NewConverter()
	c.SetRate(1.25, time.Now())

	usd := c.USDPx(100)
	if usd != 80 {
		t.Errorf("USDPx(100) = %v, want 80", usd)
	}
	if back := c.LocalAmount(usd); back != 100 {
		t.Errorf("round trip = %v, want 100", back)
	}
}

func TestUSDNotional(t *testing.T) {
	c := NewConverter()
	c.SetRate(2, time.Now())

	if got := c.USDNotional(150, 100); got != 7500 {
		t.Errorf("USDNotional = %v, want 7500", got)
	}
}

func TestUnrefreshedConverterPassesThrough(t *testing.T) {
	c := NewConverter()
	if got := c.USDPx(123); got != 123 {
		t.Errorf("USDPx without rate = %v, want pass-through 123", got)
	}
}

func TestRefreshedAt(t *testing.T) {
	c := NewConverter()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetRate(1.1, at)
	if !c.RefreshedAt().Equal(at) {
		t.Errorf("RefreshedAt = %v, want %v", c.RefreshedAt(), at)
	}
}
