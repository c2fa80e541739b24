// Package recovery runs the startup readiness ladder: the service refuses
// journal traffic until every dependency check passes, then either creates
// the strategy's derived entities (fresh launch) or hydrates the cache from
// the latest persisted snapshots (crash recovery). There is no event replay.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stratbook/internal/event"
	"stratbook/internal/fx"
	"stratbook/internal/marketdata"
	"stratbook/internal/observability"
	"stratbook/internal/snapshot"
)

// State is the sequencer's readiness ladder position.
type State int

const (
	StateNotReady State = iota
	StateServicesUp
	StateStaticDataReady
	StateFxReady
	StateSymbolOverviewReady
	StateServiceReady
)

func (s State) String() string {
	switch s {
	case StateNotReady:
		return "NOT_READY"
	case StateServicesUp:
		return "SERVICES_UP"
	case StateStaticDataReady:
		return "STATIC_DATA_READY"
	case StateFxReady:
		return "FX_READY"
	case StateSymbolOverviewReady:
		return "SYMBOL_OVERVIEW_READY"
	case StateServiceReady:
		return "SERVICE_READY"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// StateLoader is the persistence surface the sequencer needs: a connectivity
// probe, latest-snapshot hydration reads, and first-launch entity creation.
type StateLoader interface {
	Ping(ctx context.Context) error

	LoadStratLimits(ctx context.Context, stratID string) (*snapshot.StratLimits, error)
	LoadStratBrief(ctx context.Context, stratID string) (*snapshot.StratBrief, error)
	LoadStratStatus(ctx context.Context, stratID string) (*snapshot.StratStatus, error)
	LoadSymbolSideSnapshots(ctx context.Context, stratID string) ([]snapshot.SymbolSideSnapshot, error)
	LoadOpenOrderSnapshots(ctx context.Context, stratID string) ([]snapshot.OrderSnapshot, error)

	CreateStratLimits(ctx context.Context, l *snapshot.StratLimits) error
	CreateStratBrief(ctx context.Context, b *snapshot.StratBrief) error
	CreateStratStatus(ctx context.Context, s *snapshot.StratStatus) error
	CreateSymbolSideSnapshot(ctx context.Context, s *snapshot.SymbolSideSnapshot) error
}

// ReadyTarget is flipped once the ladder completes (the engine).
type ReadyTarget interface {
	SetReady(ready bool)
}

// Config carries the launch parameters of one sequencer run.
type Config struct {
	StratID string
	// Fresh marks a first launch: derived entities are created if absent.
	// False means crash recovery: entities must already exist.
	Fresh bool
	// BuySecurity/SellSecurity are the pair legs.
	BuySecurity  string
	SellSecurity string
	// InitialState the strategy starts in on a fresh launch.
	InitialState StateSeed
	// ProbeInterval is the retry cadence for failed sub-checks.
	ProbeInterval time.Duration
	// ProbeTimeout bounds each individual probe.
	ProbeTimeout time.Duration
}

// StateSeed is the fresh-launch seed for StratLimits and StratStatus.
type StateSeed struct {
	Limits     snapshot.StratLimits
	StratState event.StratState
}

// Sequencer drives the readiness ladder on its own goroutine so a saturated
// engine loop can never starve the probes.
type Sequencer struct {
	cfg     Config
	loader  StateLoader
	cache   *snapshot.StratCache
	market  *marketdata.Cache
	fxConv  *fx.Converter
	engine  ReadyTarget
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger

	// busProbe reports event-bus connectivity (NATS connection status).
	busProbe func() error

	state State
}

// NewSequencer wires a sequencer. busProbe may be nil when the bus is
// injected elsewhere (tests).
func NewSequencer(
	cfg Config,
	loader StateLoader,
	cache *snapshot.StratCache,
	market *marketdata.Cache,
	fxConv *fx.Converter,
	engine ReadyTarget,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	busProbe func() error,
	log zerolog.Logger,
) *Sequencer {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	return &Sequencer{
		cfg:      cfg,
		loader:   loader,
		cache:    cache,
		market:   market,
		fxConv:   fxConv,
		engine:   engine,
		health:   health,
		metrics:  metrics,
		busProbe: busProbe,
		log:      log,
		state:    StateNotReady,
	}
}

// State returns the current ladder position.
func (s *Sequencer) State() State {
	return s.state
}

// Run advances the ladder until SERVICE_READY or context cancellation. Each
// failed sub-check is retried on the probe interval; checks are independent,
// so a flapping dependency only re-runs its own rung.
func (s *Sequencer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		if err := s.advance(ctx); err != nil {
			s.log.Warn().Err(err).
				Str("state", s.state.String()).
				Msg("readiness probe failed, retrying")
		}
		if s.state == StateServiceReady {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// advance runs every rung the ladder has not yet passed, in order, stopping
// at the first failure.
func (s *Sequencer) advance(ctx context.Context) error {
	type rung struct {
		target State
		name   string
		check  func(context.Context) error
	}
	rungs := []rung{
		{StateServicesUp, "services", s.checkServices},
		{StateStaticDataReady, "static_data", s.checkStaticData},
		{StateFxReady, "fx", s.checkFx},
		{StateSymbolOverviewReady, "symbol_overview", s.checkSymbolOverview},
		{StateServiceReady, "state_recovery", s.recoverState},
	}

	for _, r := range rungs {
		if s.state >= r.target {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
		err := r.check(probeCtx)
		cancel()
		if err != nil {
			s.metrics.ReadinessProbes.WithLabelValues(r.name, "fail").Inc()
			return fmt.Errorf("%s: %w", r.name, err)
		}
		s.metrics.ReadinessProbes.WithLabelValues(r.name, "ok").Inc()
		s.setState(r.target)
	}

	s.engine.SetReady(true)
	s.health.SetReady(true)
	s.log.Info().Str("strat_id", s.cfg.StratID).Bool("fresh", s.cfg.Fresh).
		Msg("service ready, accepting journal traffic")
	return nil
}

func (s *Sequencer) setState(st State) {
	s.state = st
	s.health.SetState(st.String())
	s.metrics.ReadinessState.Set(float64(st))
	s.log.Info().Str("state", st.String()).Msg("readiness state advanced")
}

func (s *Sequencer) checkServices(ctx context.Context) error {
	if err := s.loader.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	if s.busProbe != nil {
		if err := s.busProbe(); err != nil {
			return fmt.Errorf("event bus: %w", err)
		}
	}
	return nil
}

// checkStaticData ensures StratLimits exist: created from the launch seed on
// a fresh start, required pre-existing on recovery. Either way the cache is
// primed here so the engine's limit lookups never hit the store.
func (s *Sequencer) checkStaticData(ctx context.Context) error {
	lim, err := s.loader.LoadStratLimits(ctx, s.cfg.StratID)
	if err != nil {
		return fmt.Errorf("load strat limits: %w", err)
	}
	if lim == nil {
		if !s.cfg.Fresh {
			return fmt.Errorf("strat limits missing for %s in recovery mode", s.cfg.StratID)
		}
		seed := s.cfg.InitialState.Limits
		seed.ID = s.cfg.StratID
		if err := s.loader.CreateStratLimits(ctx, &seed); err != nil {
			return fmt.Errorf("create strat limits: %w", err)
		}
		lim = &seed
	}
	s.cache.PutStratLimits(lim)
	return nil
}

func (s *Sequencer) checkFx(ctx context.Context) error {
	if !s.fxConv.Ready() {
		return fmt.Errorf("no fx rate received yet")
	}
	return nil
}

func (s *Sequencer) checkSymbolOverview(ctx context.Context) error {
	for _, sec := range []string{s.cfg.BuySecurity, s.cfg.SellSecurity} {
		if _, ok := s.market.SecurityFloat(sec); !ok {
			return fmt.Errorf("no symbol overview for %s", sec)
		}
	}
	return nil
}
