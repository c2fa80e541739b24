package recovery

import (
	"context"
	"fmt"
	"time"

	"stratbook/internal/event"
	"stratbook/internal/snapshot"
)

// recoverState is the last ladder rung. Fresh launch: create the derived
// entities that do not exist yet. Crash recovery: hydrate the cache from the
// latest persisted snapshots. Derived state is rebuilt from snapshots only,
// never by replaying journals.
func (s *Sequencer) recoverState(ctx context.Context) error {
	if s.cfg.Fresh {
		if err := s.createIfAbsent(ctx); err != nil {
			return err
		}
	}
	return s.hydrate(ctx)
}

// createIfAbsent seeds StratStatus, StratBrief, and the four symbol-side
// aggregates on first launch. Re-running after a partial seed is safe: each
// entity is only created when the load comes back empty.
func (s *Sequencer) createIfAbsent(ctx context.Context) error {
	status, err := s.loader.LoadStratStatus(ctx, s.cfg.StratID)
	if err != nil {
		return fmt.Errorf("load strat status: %w", err)
	}
	if status == nil {
		initial := s.cfg.InitialState.StratState
		if initial == event.StratStateUnspecified {
			initial = event.StratStateReady
		}
		status = &snapshot.StratStatus{
			ID:             s.cfg.StratID,
			State:          initial,
			LastUpdateTime: time.Now(),
		}
		if err := s.loader.CreateStratStatus(ctx, status); err != nil {
			return fmt.Errorf("create strat status: %w", err)
		}
	}

	brief, err := s.loader.LoadStratBrief(ctx, s.cfg.StratID)
	if err != nil {
		return fmt.Errorf("load strat brief: %w", err)
	}
	if brief == nil {
		brief = &snapshot.StratBrief{
			ID: s.cfg.StratID,
			Buy: snapshot.PairSideBrief{
				Security: s.cfg.BuySecurity,
				Side:     event.SideBuy,
			},
			Sell: snapshot.PairSideBrief{
				Security: s.cfg.SellSecurity,
				Side:     event.SideSell,
			},
		}
		if err := s.loader.CreateStratBrief(ctx, brief); err != nil {
			return fmt.Errorf("create strat brief: %w", err)
		}
	}

	sides, err := s.loader.LoadSymbolSideSnapshots(ctx, s.cfg.StratID)
	if err != nil {
		return fmt.Errorf("load symbol sides: %w", err)
	}
	have := make(map[string]bool, len(sides))
	for _, ss := range sides {
		have[ss.ID] = true
	}
	for _, want := range []struct {
		security string
		side     event.Side
	}{
		{s.cfg.BuySecurity, event.SideBuy},
		{s.cfg.BuySecurity, event.SideSell},
		{s.cfg.SellSecurity, event.SideBuy},
		{s.cfg.SellSecurity, event.SideSell},
	} {
		id := fmt.Sprintf("%s:%s:%s", s.cfg.StratID, want.security, want.side)
		if have[id] {
			continue
		}
		ss := &snapshot.SymbolSideSnapshot{
			ID:             id,
			Security:       want.security,
			Side:           want.side,
			LastUpdateTime: time.Now(),
		}
		if err := s.loader.CreateSymbolSideSnapshot(ctx, ss); err != nil {
			return fmt.Errorf("create symbol side %s: %w", id, err)
		}
	}
	return nil
}

// hydrate loads the latest persisted snapshots into the cache. Open orders
// only: terminal orders never take part in another cascade, so they stay on
// disk until queried.
func (s *Sequencer) hydrate(ctx context.Context) error {
	status, err := s.loader.LoadStratStatus(ctx, s.cfg.StratID)
	if err != nil {
		return fmt.Errorf("load strat status: %w", err)
	}
	if status == nil {
		return fmt.Errorf("strat status missing for %s", s.cfg.StratID)
	}
	s.cache.PutStratStatus(status)

	brief, err := s.loader.LoadStratBrief(ctx, s.cfg.StratID)
	if err != nil {
		return fmt.Errorf("load strat brief: %w", err)
	}
	if brief == nil {
		return fmt.Errorf("strat brief missing for %s", s.cfg.StratID)
	}
	s.cache.PutStratBrief(brief)

	sides, err := s.loader.LoadSymbolSideSnapshots(ctx, s.cfg.StratID)
	if err != nil {
		return fmt.Errorf("load symbol sides: %w", err)
	}
	for i := range sides {
		s.cache.PutSymbolSideSnapshot(&sides[i])
	}

	orders, err := s.loader.LoadOpenOrderSnapshots(ctx, s.cfg.StratID)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	for i := range orders {
		s.cache.PutOrderSnapshot(&orders[i])
	}

	s.log.Info().
		Int("symbol_sides", len(sides)).
		Int("open_orders", len(orders)).
		Str("strat_state", status.State.String()).
		Msg("cache hydrated from persisted snapshots")
	return nil
}
