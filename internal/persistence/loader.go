package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"stratbook/internal/event"
	"stratbook/internal/snapshot"
)

// Latest-snapshot reads for startup recovery. All return (nil, nil) when no
// row exists so the sequencer can distinguish "not created yet" from an
// actual query failure.

func (s *Store) LoadStratLimits(ctx context.Context, stratID string) (*snapshot.StratLimits, error) {
	var (
		l             snapshot.StratLimits
		windowSeconds int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT strat_id, max_single_leg_notional, max_open_single_leg_notional,
		       max_net_filled_notional, max_concentration,
		       max_cancel_rate, waived_min_orders,
		       max_participation_rate, applicable_window_seconds,
		       max_residual, version
		FROM strat.strat_limits WHERE strat_id = $1
	`, stratID).Scan(&l.ID, &l.MaxSingleLegNotional, &l.MaxOpenSingleLegNotional,
		&l.MaxNetFilledNotional, &l.MaxConcentration,
		&l.CancelRate.MaxCancelRate, &l.CancelRate.WaivedMinOrders,
		&l.MarketParticipation.MaxParticipationRate, &windowSeconds,
		&l.Residual.MaxResidual, &l.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.MarketParticipation.ApplicableWindow = time.Duration(windowSeconds) * time.Second
	return &l, nil
}

func (s *Store) LoadStratStatus(ctx context.Context, stratID string) (*snapshot.StratStatus, error) {
	var (
		st    snapshot.StratStatus
		state string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT strat_id,
		       buy_total_qty, buy_avg_px, buy_total_notional,
		       buy_total_open_qty, buy_avg_open_px, buy_total_open_notional,
		       buy_total_fill_qty, buy_avg_fill_px, buy_total_fill_notional,
		       buy_total_cxl_qty, buy_avg_cxl_px, buy_total_cxl_notional,
		       sell_total_qty, sell_avg_px, sell_total_notional,
		       sell_total_open_qty, sell_avg_open_px, sell_total_open_notional,
		       sell_total_fill_qty, sell_avg_fill_px, sell_total_fill_notional,
		       sell_total_cxl_qty, sell_avg_cxl_px, sell_total_cxl_notional,
		       total_order_qty, total_open_exposure, total_fill_exposure,
		       total_cxl_exposure, total_exposure, balance_notional,
		       residual_security, residual_notional,
		       state, last_update_time, version
		FROM strat.strat_statuses WHERE strat_id = $1
	`, stratID).Scan(&st.ID,
		&st.Buy.TotalQty, &st.Buy.AvgPx, &st.Buy.TotalNotional,
		&st.Buy.TotalOpenQty, &st.Buy.AvgOpenPx, &st.Buy.TotalOpenNotional,
		&st.Buy.TotalFillQty, &st.Buy.AvgFillPx, &st.Buy.TotalFillNotional,
		&st.Buy.TotalCxlQty, &st.Buy.AvgCxlPx, &st.Buy.TotalCxlNotional,
		&st.Sell.TotalQty, &st.Sell.AvgPx, &st.Sell.TotalNotional,
		&st.Sell.TotalOpenQty, &st.Sell.AvgOpenPx, &st.Sell.TotalOpenNotional,
		&st.Sell.TotalFillQty, &st.Sell.AvgFillPx, &st.Sell.TotalFillNotional,
		&st.Sell.TotalCxlQty, &st.Sell.AvgCxlPx, &st.Sell.TotalCxlNotional,
		&st.TotalOrderQty, &st.TotalOpenExposure, &st.TotalFillExposure,
		&st.TotalCxlExposure, &st.TotalExposure, &st.BalanceNotional,
		&st.Residual.Security, &st.Residual.ResidualNotional,
		&state, &st.LastUpdateTime, &st.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.State = event.ParseStratState(state)
	return &st, nil
}

func (s *Store) LoadStratBrief(ctx context.Context, stratID string) (*snapshot.StratBrief, error) {
	var b snapshot.StratBrief
	err := s.db.QueryRowContext(ctx, `
		SELECT strat_id,
		       buy_security, buy_residual_qty, buy_indicative_consumable_residual,
		       buy_all_broker_cxled_qty, buy_open_qty, buy_open_notional,
		       buy_consumable_open_notional, buy_consumable_notional,
		       buy_consumable_concentration, buy_consumable_cxl_qty,
		       buy_indicative_consumable_participation_qty, buy_last_update_time,
		       sell_security, sell_residual_qty, sell_indicative_consumable_residual,
		       sell_all_broker_cxled_qty, sell_open_qty, sell_open_notional,
		       sell_consumable_open_notional, sell_consumable_notional,
		       sell_consumable_concentration, sell_consumable_cxl_qty,
		       sell_indicative_consumable_participation_qty, sell_last_update_time,
		       consumable_nett_filled_notional, version
		FROM strat.strat_briefs WHERE strat_id = $1
	`, stratID).Scan(&b.ID,
		&b.Buy.Security, &b.Buy.ResidualQty, &b.Buy.IndicativeConsumableResidual,
		&b.Buy.AllBrokerCxledQty, &b.Buy.OpenQty, &b.Buy.OpenNotional,
		&b.Buy.ConsumableOpenNotional, &b.Buy.ConsumableNotional,
		&b.Buy.ConsumableConcentration, &b.Buy.ConsumableCxlQty,
		&b.Buy.IndicativeConsumableParticipationQty, &b.Buy.LastUpdateTime,
		&b.Sell.Security, &b.Sell.ResidualQty, &b.Sell.IndicativeConsumableResidual,
		&b.Sell.AllBrokerCxledQty, &b.Sell.OpenQty, &b.Sell.OpenNotional,
		&b.Sell.ConsumableOpenNotional, &b.Sell.ConsumableNotional,
		&b.Sell.ConsumableConcentration, &b.Sell.ConsumableCxlQty,
		&b.Sell.IndicativeConsumableParticipationQty, &b.Sell.LastUpdateTime,
		&b.ConsumableNettFilledNotional, &b.Version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Buy.Side = event.SideBuy
	b.Sell.Side = event.SideSell
	return &b, nil
}

func (s *Store) LoadSymbolSideSnapshots(ctx context.Context, stratID string) ([]snapshot.SymbolSideSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, security, side, total_qty, avg_px,
		       total_filled_qty, avg_fill_px, total_fill_notional,
		       total_cxled_qty, avg_cxled_px, total_cxled_notional,
		       order_count, last_update_fill_qty, last_update_fill_px,
		       last_update_time, version
		FROM strat.symbol_side_snapshots WHERE strat_id = $1
	`, stratID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []snapshot.SymbolSideSnapshot
	for rows.Next() {
		var (
			ss   snapshot.SymbolSideSnapshot
			side string
		)
		if err := rows.Scan(&ss.ID, &ss.Security, &side, &ss.TotalQty, &ss.AvgPx,
			&ss.TotalFilledQty, &ss.AvgFillPx, &ss.TotalFillNotional,
			&ss.TotalCxledQty, &ss.AvgCxledPx, &ss.TotalCxledNotional,
			&ss.OrderCount, &ss.LastUpdateFillQty, &ss.LastUpdateFillPx,
			&ss.LastUpdateTime, &ss.Version); err != nil {
			return nil, err
		}
		ss.Side = event.ParseSide(side)
		out = append(out, ss)
	}
	return out, rows.Err()
}

// LoadOpenOrderSnapshots returns the orders that can still take part in a
// cascade. Terminal orders stay on disk; they are only read by query
// handlers.
func (s *Store) LoadOpenOrderSnapshots(ctx context.Context, stratID string) ([]snapshot.OrderSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT order_id, security, side, px, qty, text,
		       filled_qty, avg_fill_px, fill_notional,
		       cxled_qty, avg_cxled_px, cxled_notional,
		       last_update_fill_qty, last_update_fill_px,
		       status, create_time, last_update_time, version
		FROM strat.order_snapshots
		WHERE strat_id = $1 AND status IN ('OE_UNACK', 'OE_ACKED', 'OE_CXL_UNACK')
	`, stratID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []snapshot.OrderSnapshot
	for rows.Next() {
		var (
			o            snapshot.OrderSnapshot
			side, status string
			text         pq.StringArray
		)
		if err := rows.Scan(&o.Order.OrderID, &o.Order.Security, &side,
			&o.Order.Px, &o.Order.Qty, &text,
			&o.FilledQty, &o.AvgFillPx, &o.FillNotional,
			&o.CxledQty, &o.AvgCxledPx, &o.CxledNotional,
			&o.LastUpdateFillQty, &o.LastUpdateFillPx,
			&status, &o.CreateTime, &o.LastUpdateTime, &o.Version); err != nil {
			return nil, err
		}
		o.ID = o.Order.OrderID
		o.Order.Side = event.ParseSide(side)
		o.Order.Text = text
		o.Status = event.ParseOrderStatus(status)
		out = append(out, o)
	}
	return out, rows.Err()
}
