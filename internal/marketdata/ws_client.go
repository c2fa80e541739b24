package marketdata

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"stratbook/internal/event"
	"stratbook/internal/fx"
	"stratbook/internal/observability"
	"stratbook/internal/persistence"
)

// feedFrame is the market-data feed wire envelope. One frame type per
// message, discriminated by "type".
type feedFrame struct {
	Type          string  `json:"type"` // "top_of_book" | "fx_rate" | "symbol_overview"
	Security      string  `json:"security"`
	LastTradePx   float64 `json:"last_trade_px"`
	LastTradeQty  int64   `json:"last_trade_qty"`
	BidPx         float64 `json:"bid_px"`
	AskPx         float64 `json:"ask_px"`
	CurrencyPair  string  `json:"currency_pair"`
	ClosingPx     float64 `json:"closing_px"`
	SecurityFloat float64 `json:"security_float"`
	Sequence      int64   `json:"sequence"`
	TimestampUs   int64   `json:"timestamp_us"`
}

type subscribeMsg struct {
	Op         string   `json:"op"`
	Securities []string `json:"securities"`
	Channels   []string `json:"channels"`
}

// WSClient consumes the market-data feed over a websocket: top-of-book
// ticks, the FX rate push, and symbol overview updates. Reconnects with
// exponential backoff; the cache keeps serving the last received values
// while disconnected (staleness is the readiness ladder's concern, not
// the reader's).
type WSClient struct {
	url        string
	securities []string
	cache      *Cache
	fxConv     *fx.Converter
	trades     *persistence.TradeRecorder
	metrics    *observability.Metrics
	log        zerolog.Logger
}

func NewWSClient(
	url string,
	securities []string,
	cache *Cache,
	fxConv *fx.Converter,
	trades *persistence.TradeRecorder,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *WSClient {
	return &WSClient{
		url:        url,
		securities: securities,
		cache:      cache,
		fxConv:     fxConv,
		trades:     trades,
		metrics:    metrics,
		log:        log,
	}
}

// Run connects and consumes frames until ctx is cancelled, reconnecting on
// any read or dial failure.
func (c *WSClient) Run(ctx context.Context) error {
	bo := newDialBackOff()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, err := c.connect(ctx)
		if err != nil {
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				wait = 30 * time.Second
			}
			c.log.Warn().Err(err).Dur("retry_in", wait).Msg("feed dial failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		bo = newDialBackOff()

		if err := c.consume(ctx, conn); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("feed connection lost, reconnecting")
			c.metrics.FeedReconnects.Inc()
		}
		conn.Close()
	}
}

func newDialBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	return bo
}

func (c *WSClient) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, err
	}

	sub := subscribeMsg{
		Op:         "subscribe",
		Securities: c.securities,
		Channels:   []string{"top_of_book", "fx_rate", "symbol_overview"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, err
	}

	c.log.Info().Str("url", c.url).Strs("securities", c.securities).Msg("feed connected")
	return conn, nil
}

func (c *WSClient) consume(ctx context.Context, conn *websocket.Conn) error {
	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame feedFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.metrics.ParseErrors.WithLabelValues("feed").Inc()
			c.log.Warn().Err(err).Msg("bad feed frame")
			continue
		}
		c.apply(&frame)
	}
}

func (c *WSClient) apply(frame *feedFrame) {
	at := time.UnixMicro(frame.TimestampUs)

	switch frame.Type {
	case "top_of_book":
		c.cache.ApplyTopOfBook(&event.TopOfBookUpdate{
			Security:     frame.Security,
			LastTradePx:  frame.LastTradePx,
			LastTradeQty: frame.LastTradeQty,
			BidPx:        frame.BidPx,
			AskPx:        frame.AskPx,
			Sequence:     frame.Sequence,
			Time:         at,
		})
		c.metrics.TopOfBookUpdates.WithLabelValues(frame.Security).Inc()
		if c.trades != nil && frame.LastTradeQty > 0 {
			c.trades.Record(persistence.TradeRow{
				Security: frame.Security,
				Px:       frame.LastTradePx,
				Qty:      frame.LastTradeQty,
				Sequence: frame.Sequence,
				TradedAt: at,
			})
		}

	case "fx_rate":
		c.fxConv.SetRate(frame.ClosingPx, at)
		c.metrics.FxRefreshes.Inc()
		c.metrics.FxRate.Set(frame.ClosingPx)

	case "symbol_overview":
		c.cache.ApplySymbolOverview(&event.SymbolOverviewUpdate{
			Security:      frame.Security,
			SecurityFloat: frame.SecurityFloat,
			Sequence:      frame.Sequence,
			Time:          at,
		})

	default:
		c.log.Debug().Str("type", frame.Type).Msg("ignoring unknown feed frame type")
	}
}
