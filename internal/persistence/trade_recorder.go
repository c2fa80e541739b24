package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stratbook/internal/observability"
)

// TradeRow is one market trade tick recorded for the participation window
// aggregation.
type TradeRow struct {
	Security string
	Px       float64
	Qty      int64
	Sequence int64
	TradedAt time.Time
}

// TradeRecorder drains the trade channel and batch-writes market trades to
// Postgres with multi-row INSERT. Trade ticks arrive at feed rate, far above
// journal rate, so they are the one write path that batches instead of
// writing synchronously. Sends from the feed are non-blocking: a full
// channel drops the tick and the participation figure degrades, it never
// stalls the feed reader.
type TradeRecorder struct {
	db           *sql.DB
	input        chan TradeRow
	batchSize    int
	flushTimeout time.Duration
	retention    time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewTradeRecorder(
	db *sql.DB,
	bufferSize, batchSize int,
	flushTimeout, retention time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *TradeRecorder {
	return &TradeRecorder{
		db:           db,
		input:        make(chan TradeRow, bufferSize),
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		retention:    retention,
		metrics:      metrics,
		log:          log,
	}
}

// Record queues a trade tick without blocking.
func (tr *TradeRecorder) Record(row TradeRow) {
	select {
	case tr.input <- row:
	default:
		tr.metrics.NotificationsDropped.WithLabelValues("market_trade").Inc()
	}
}

// Run batches incoming ticks and flushes on batch-full or flush timeout.
// A periodic prune keeps the table bounded to the retention horizon.
// Blocks until ctx is cancelled.
func (tr *TradeRecorder) Run(ctx context.Context) error {
	batch := make([]TradeRow, 0, tr.batchSize)

	timer := time.NewTimer(tr.flushTimeout)
	defer timer.Stop()
	prune := time.NewTicker(tr.retention)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := tr.flush(context.Background(), batch); err != nil {
					tr.log.Error().Err(err).Msg("final trade flush failed")
				}
			}
			return ctx.Err()

		case row := <-tr.input:
			batch = append(batch, row)
			if len(batch) >= tr.batchSize {
				tr.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(tr.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				tr.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(tr.flushTimeout)

		case <-prune.C:
			if err := tr.pruneOld(ctx); err != nil {
				tr.log.Warn().Err(err).Msg("trade prune failed")
			}
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context is cancelled. Trade ticks feed a soft limit, so unlike a
// journal write a batch may ultimately be abandoned on shutdown.
func (tr *TradeRecorder) flushWithRetry(ctx context.Context, batch []TradeRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			tr.metrics.PersistRetry.Inc()
			select {
			case <-ctx.Done():
				tr.log.Warn().Int("dropped", len(batch)).Msg("trade batch abandoned on shutdown")
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := tr.flush(ctx, batch); err == nil {
			if attempt > 0 {
				tr.log.Info().Int("attempts", attempt+1).Msg("trade flush succeeded after retries")
			}
			return
		} else {
			tr.log.Warn().Err(err).Int("attempt", attempt+1).Int("rows", len(batch)).
				Msg("trade batch flush failed")
			tr.metrics.PersistErrors.WithLabelValues("market_trades").Inc()
		}
	}
}

func (tr *TradeRecorder) flush(ctx context.Context, batch []TradeRow) error {
	start := time.Now()

	query := `INSERT INTO strat.market_trades (security, px, qty, sequence, traded_at) VALUES `
	values := make([]string, 0, len(batch))
	args := make([]interface{}, 0, len(batch)*5)

	for i, row := range batch {
		base := i * 5
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5))
		args = append(args, row.Security, row.Px, row.Qty, row.Sequence, row.TradedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (security, sequence) DO NOTHING"

	if _, err := tr.db.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	tr.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
	tr.metrics.PersistBatchSize.Observe(float64(len(batch)))
	tr.metrics.PersistWrites.WithLabelValues("market_trades").Add(float64(len(batch)))
	return nil
}

func (tr *TradeRecorder) pruneOld(ctx context.Context) error {
	_, err := tr.db.ExecContext(ctx, `
		DELETE FROM strat.market_trades WHERE traded_at < NOW() - $1::interval
	`, fmt.Sprintf("%d seconds", int64(tr.retention.Seconds())))
	return err
}
