// Package persistence is the Postgres client behind the reconciliation
// engine: append-only journal tables, one row per derived entity updated by
// typed partial updates, and the aggregation queries (journal lookback,
// participation window).
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"stratbook/internal/event"
	"stratbook/internal/observability"
	"stratbook/internal/snapshot"
)

// Store implements the engine's store contract and the recovery loader on
// *sql.DB (lib/pq). Rows are scoped by strat_id so several strategy
// processes can share one database.
type Store struct {
	db      *sql.DB
	stratID string
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewStore(db *sql.DB, stratID string, metrics *observability.Metrics, log zerolog.Logger) *Store {
	return &Store{db: db, stratID: stratID, metrics: metrics, log: log}
}

// DB exposes the handle for the migrator and the trade recorder.
func (s *Store) DB() *sql.DB { return s.db }

// Ping probes connectivity (readiness sub-check).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- journals (append-only, idempotent on journal id) ---

func (s *Store) CreateOrderJournal(ctx context.Context, j *event.OrderJournal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strat.order_journals
			(journal_id, order_id, security, side, px, qty, text, event, event_time, source_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (journal_id) DO NOTHING
	`, j.IdempotencyKey(), j.Order.OrderID, j.Order.Security, j.Order.Side.String(),
		j.Order.Px, j.Order.Qty, pq.Array(j.Order.Text), j.Event.String(),
		j.EventTime, j.SourceSequence)
	if err != nil {
		s.metrics.PersistErrors.WithLabelValues("order_journal").Inc()
		return err
	}
	s.metrics.PersistWrites.WithLabelValues("order_journal").Inc()
	return nil
}

func (s *Store) CreateFillsJournal(ctx context.Context, j *event.FillsJournal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strat.fills_journals
			(journal_id, order_id, fill_id, security, side, fill_px, fill_qty, fill_notional, fill_date, source_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (journal_id) DO NOTHING
	`, j.IdempotencyKey(), j.OrderID, j.FillID, j.Security, j.Side.String(),
		j.FillPx, j.FillQty, j.FillNotional, j.FillDate, j.SourceSequence)
	if err != nil {
		s.metrics.PersistErrors.WithLabelValues("fills_journal").Inc()
		return err
	}
	s.metrics.PersistWrites.WithLabelValues("fills_journal").Inc()
	return nil
}

// RecentOrderJournals returns up to n most recent journals for the order,
// newest first (cancel-reject lookback fallback when the in-memory ring has
// been evicted).
func (s *Store) RecentOrderJournals(ctx context.Context, orderID string, n int) ([]event.OrderJournal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT journal_id, order_id, security, side, px, qty, text, event, event_time, source_sequence
		FROM strat.order_journals
		WHERE order_id = $1
		ORDER BY source_sequence DESC, event_time DESC
		LIMIT $2
	`, orderID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.OrderJournal
	for rows.Next() {
		var (
			j           event.OrderJournal
			side, evStr string
			text        pq.StringArray
		)
		if err := rows.Scan(&j.JournalID, &j.Order.OrderID, &j.Order.Security, &side,
			&j.Order.Px, &j.Order.Qty, &text, &evStr, &j.EventTime, &j.SourceSequence); err != nil {
			return nil, err
		}
		j.Order.Side = event.ParseSide(side)
		j.Order.Text = text
		j.Event = event.ParseOrderEvent(evStr)
		out = append(out, j)
	}
	return out, rows.Err()
}

// --- market trades / participation ---

// WindowTradedQty sums market volume for the security over the trailing
// window from the recorded trade ticks.
func (s *Store) WindowTradedQty(ctx context.Context, security string, window time.Duration) (int64, error) {
	var qty sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(qty) FROM strat.market_trades
		WHERE security = $1 AND traded_at >= NOW() - $2::interval
	`, security, fmt.Sprintf("%d seconds", int64(window.Seconds()))).Scan(&qty)
	if err != nil {
		return 0, err
	}
	if !qty.Valid {
		return 0, nil
	}
	return qty.Int64, nil
}

// --- OrderSnapshot ---

func (s *Store) CreateOrderSnapshot(ctx context.Context, o *snapshot.OrderSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strat.order_snapshots
			(order_id, strat_id, security, side, px, qty, text,
			 filled_qty, avg_fill_px, fill_notional,
			 cxled_qty, avg_cxled_px, cxled_notional,
			 last_update_fill_qty, last_update_fill_px,
			 status, create_time, last_update_time, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (order_id) DO NOTHING
	`, o.Order.OrderID, s.stratID, o.Order.Security, o.Order.Side.String(), o.Order.Px, o.Order.Qty,
		pq.Array(o.Order.Text), o.FilledQty, o.AvgFillPx, o.FillNotional,
		o.CxledQty, o.AvgCxledPx, o.CxledNotional,
		o.LastUpdateFillQty, o.LastUpdateFillPx,
		o.Status.String(), o.CreateTime, o.LastUpdateTime, o.Version)
	if err != nil {
		s.metrics.PersistErrors.WithLabelValues("order_snapshot").Inc()
		return err
	}
	s.metrics.PersistWrites.WithLabelValues("order_snapshot").Inc()
	return nil
}

func (s *Store) UpdateOrderSnapshot(ctx context.Context, orderID string, d snapshot.OrderSnapshotDelta) error {
	b := newSetBuilder()
	b.addInt64("filled_qty", d.FilledQty)
	b.addFloat64("avg_fill_px", d.AvgFillPx)
	b.addFloat64("fill_notional", d.FillNotional)
	b.addInt64("cxled_qty", d.CxledQty)
	b.addFloat64("avg_cxled_px", d.AvgCxledPx)
	b.addFloat64("cxled_notional", d.CxledNotional)
	b.addInt64("last_update_fill_qty", d.LastUpdateFillQty)
	b.addFloat64("last_update_fill_px", d.LastUpdateFillPx)
	if d.Status != nil {
		b.add("status", d.Status.String())
	}
	b.addTime("last_update_time", d.LastUpdateTime)
	return s.execUpdate(ctx, "order_snapshot", "strat.order_snapshots", "order_id", orderID, b)
}

// --- SymbolSideSnapshot ---

func (s *Store) CreateSymbolSideSnapshot(ctx context.Context, ss *snapshot.SymbolSideSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strat.symbol_side_snapshots
			(id, strat_id, security, side, total_qty, avg_px,
			 total_filled_qty, avg_fill_px, total_fill_notional,
			 total_cxled_qty, avg_cxled_px, total_cxled_notional,
			 order_count, last_update_fill_qty, last_update_fill_px,
			 last_update_time, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING
	`, ss.ID, s.stratID, ss.Security, ss.Side.String(), ss.TotalQty, ss.AvgPx,
		ss.TotalFilledQty, ss.AvgFillPx, ss.TotalFillNotional,
		ss.TotalCxledQty, ss.AvgCxledPx, ss.TotalCxledNotional,
		ss.OrderCount, ss.LastUpdateFillQty, ss.LastUpdateFillPx,
		ss.LastUpdateTime, ss.Version)
	if err != nil {
		s.metrics.PersistErrors.WithLabelValues("symbol_side_snapshot").Inc()
		return err
	}
	s.metrics.PersistWrites.WithLabelValues("symbol_side_snapshot").Inc()
	return nil
}

func (s *Store) UpdateSymbolSideSnapshot(ctx context.Context, id string, d snapshot.SymbolSideSnapshotDelta) error {
	b := newSetBuilder()
	b.addInt64("total_qty", d.TotalQty)
	b.addFloat64("avg_px", d.AvgPx)
	b.addInt64("total_filled_qty", d.TotalFilledQty)
	b.addFloat64("avg_fill_px", d.AvgFillPx)
	b.addFloat64("total_fill_notional", d.TotalFillNotional)
	b.addInt64("total_cxled_qty", d.TotalCxledQty)
	b.addFloat64("avg_cxled_px", d.AvgCxledPx)
	b.addFloat64("total_cxled_notional", d.TotalCxledNotional)
	b.addInt64("order_count", d.OrderCount)
	b.addInt64("last_update_fill_qty", d.LastUpdateFillQty)
	b.addFloat64("last_update_fill_px", d.LastUpdateFillPx)
	b.addTime("last_update_time", d.LastUpdateTime)
	return s.execUpdate(ctx, "symbol_side_snapshot", "strat.symbol_side_snapshots", "id", id, b)
}

// --- StratBrief ---

func (s *Store) CreateStratBrief(ctx context.Context, b *snapshot.StratBrief) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strat.strat_briefs
			(strat_id, buy_security, sell_security, consumable_nett_filled_notional, version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (strat_id) DO NOTHING
	`, b.ID, b.Buy.Security, b.Sell.Security, b.ConsumableNettFilledNotional, b.Version)
	if err != nil {
		s.metrics.PersistErrors.WithLabelValues("strat_brief").Inc()
		return err
	}
	s.metrics.PersistWrites.WithLabelValues("strat_brief").Inc()
	return nil
}

func (s *Store) UpdateStratBrief(ctx context.Context, id string, d snapshot.StratBriefDelta) error {
	b := newSetBuilder()
	b.addFloat64("consumable_nett_filled_notional", d.ConsumableNettFilledNotional)
	addLeg(b, "buy_", d.Buy)
	addLeg(b, "sell_", d.Sell)
	return s.execUpdate(ctx, "strat_brief", "strat.strat_briefs", "strat_id", id, b)
}

func addLeg(b *setBuilder, prefix string, d *snapshot.PairSideBriefDelta) {
	if d == nil {
		return
	}
	b.addInt64(prefix+"residual_qty", d.ResidualQty)
	b.addFloat64(prefix+"indicative_consumable_residual", d.IndicativeConsumableResidual)
	b.addInt64(prefix+"all_broker_cxled_qty", d.AllBrokerCxledQty)
	b.addInt64(prefix+"open_qty", d.OpenQty)
	b.addFloat64(prefix+"open_notional", d.OpenNotional)
	b.addFloat64(prefix+"consumable_open_notional", d.ConsumableOpenNotional)
	b.addFloat64(prefix+"consumable_notional", d.ConsumableNotional)
	b.addFloat64(prefix+"consumable_concentration", d.ConsumableConcentration)
	b.addFloat64(prefix+"consumable_cxl_qty", d.ConsumableCxlQty)
	b.addFloat64(prefix+"indicative_consumable_participation_qty", d.IndicativeConsumableParticipationQty)
	b.addTime(prefix+"last_update_time", d.LastUpdateTime)
}

// --- StratStatus ---

func (s *Store) CreateStratStatus(ctx context.Context, st *snapshot.StratStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strat.strat_statuses (strat_id, state, last_update_time, version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (strat_id) DO NOTHING
	`, st.ID, st.State.String(), st.LastUpdateTime, st.Version)
	if err != nil {
		s.metrics.PersistErrors.WithLabelValues("strat_status").Inc()
		return err
	}
	s.metrics.PersistWrites.WithLabelValues("strat_status").Inc()
	return nil
}

func (s *Store) UpdateStratStatus(ctx context.Context, id string, d snapshot.StratStatusDelta) error {
	b := newSetBuilder()
	addStatusSide(b, "buy_", d.Buy)
	addStatusSide(b, "sell_", d.Sell)
	b.addInt64("total_order_qty", d.TotalOrderQty)
	b.addFloat64("total_open_exposure", d.TotalOpenExposure)
	b.addFloat64("total_fill_exposure", d.TotalFillExposure)
	b.addFloat64("total_cxl_exposure", d.TotalCxlExposure)
	b.addFloat64("total_exposure", d.TotalExposure)
	b.addFloat64("balance_notional", d.BalanceNotional)
	if d.Residual != nil {
		b.add("residual_security", d.Residual.Security)
		b.add("residual_notional", d.Residual.ResidualNotional)
	}
	if d.State != nil {
		b.add("state", d.State.String())
	}
	b.addTime("last_update_time", d.LastUpdateTime)
	return s.execUpdate(ctx, "strat_status", "strat.strat_statuses", "strat_id", id, b)
}

func addStatusSide(b *setBuilder, prefix string, d *snapshot.StratStatusSideDelta) {
	if d == nil {
		return
	}
	b.addInt64(prefix+"total_qty", d.TotalQty)
	b.addFloat64(prefix+"avg_px", d.AvgPx)
	b.addFloat64(prefix+"total_notional", d.TotalNotional)
	b.addInt64(prefix+"total_open_qty", d.TotalOpenQty)
	b.addFloat64(prefix+"avg_open_px", d.AvgOpenPx)
	b.addFloat64(prefix+"total_open_notional", d.TotalOpenNotional)
	b.addInt64(prefix+"total_fill_qty", d.TotalFillQty)
	b.addFloat64(prefix+"avg_fill_px", d.AvgFillPx)
	b.addFloat64(prefix+"total_fill_notional", d.TotalFillNotional)
	b.addInt64(prefix+"total_cxl_qty", d.TotalCxlQty)
	b.addFloat64(prefix+"avg_cxl_px", d.AvgCxlPx)
	b.addFloat64(prefix+"total_cxl_notional", d.TotalCxlNotional)
}

// --- StratLimits ---

func (s *Store) CreateStratLimits(ctx context.Context, l *snapshot.StratLimits) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO strat.strat_limits
			(strat_id, max_single_leg_notional, max_open_single_leg_notional,
			 max_net_filled_notional, max_concentration,
			 max_cancel_rate, waived_min_orders,
			 max_participation_rate, applicable_window_seconds,
			 max_residual, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (strat_id) DO NOTHING
	`, l.ID, l.MaxSingleLegNotional, l.MaxOpenSingleLegNotional,
		l.MaxNetFilledNotional, l.MaxConcentration,
		l.CancelRate.MaxCancelRate, l.CancelRate.WaivedMinOrders,
		l.MarketParticipation.MaxParticipationRate,
		int64(l.MarketParticipation.ApplicableWindow.Seconds()),
		l.Residual.MaxResidual, l.Version)
	if err != nil {
		s.metrics.PersistErrors.WithLabelValues("strat_limits").Inc()
		return err
	}
	s.metrics.PersistWrites.WithLabelValues("strat_limits").Inc()
	return nil
}

// --- shared update plumbing ---

// setBuilder accumulates SET clauses for the columns a typed delta provides.
// Deltas carry full new values, so updates are plain column assignments.
type setBuilder struct {
	cols []string
	args []interface{}
}

func newSetBuilder() *setBuilder {
	return &setBuilder{}
}

func (b *setBuilder) add(col string, v interface{}) {
	b.args = append(b.args, v)
	b.cols = append(b.cols, fmt.Sprintf("%s = $%d", col, len(b.args)))
}

func (b *setBuilder) addInt64(col string, v *int64) {
	if v != nil {
		b.add(col, *v)
	}
}

func (b *setBuilder) addFloat64(col string, v *float64) {
	if v != nil {
		b.add(col, *v)
	}
}

func (b *setBuilder) addTime(col string, v *time.Time) {
	if v != nil {
		b.add(col, *v)
	}
}

func (s *Store) execUpdate(ctx context.Context, entity, table, keyCol, key string, b *setBuilder) error {
	if len(b.cols) == 0 {
		return nil
	}
	b.args = append(b.args, key)
	query := fmt.Sprintf("UPDATE %s SET %s, version = version + 1 WHERE %s = $%d",
		table, strings.Join(b.cols, ", "), keyCol, len(b.args))

	res, err := s.db.ExecContext(ctx, query, b.args...)
	if err != nil {
		s.metrics.PersistErrors.WithLabelValues(entity).Inc()
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.metrics.PersistErrors.WithLabelValues(entity).Inc()
		return fmt.Errorf("update %s: no row for %s", entity, key)
	}
	s.metrics.PersistWrites.WithLabelValues(entity).Inc()
	return nil
}
