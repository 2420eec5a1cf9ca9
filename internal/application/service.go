package application

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/spxsignals/internal/analytics/crossmarket"
	"github.com/sawpanic/spxsignals/internal/analytics/fib"
	"github.com/sawpanic/spxsignals/internal/analytics/memory"
	"github.com/sawpanic/spxsignals/internal/config"
	"github.com/sawpanic/spxsignals/internal/infrastructure/cache"
	"github.com/sawpanic/spxsignals/internal/infrastructure/db"
	"github.com/sawpanic/spxsignals/internal/infrastructure/providers"
	"github.com/sawpanic/spxsignals/internal/metrics"
	"github.com/sawpanic/spxsignals/internal/persistence"
	"github.com/sawpanic/spxsignals/internal/snapshot"
)

// Deps are the external collaborators of a Service.
type Deps struct {
	Store      cache.Store
	Landscapes crossmarket.LandscapeProvider
	Bars       fib.BarProvider
	Setups     persistence.SetupInstanceRepo
	Metrics    *metrics.Registry
}

// StatusReporter is implemented by upstream clients that expose breaker and
// budget state.
type StatusReporter interface {
	Status() providers.ProviderStatus
}

// Service owns one instance of every analytics component, so rolling histories
// live exactly as long as the service.
type Service struct {
	Store     cache.Store
	Metrics   *metrics.Registry
	Basis     *crossmarket.BasisEstimator
	Impact    *crossmarket.ImpactProjector
	Fib       *fib.Engine
	Memory    *memory.Scorer
	Snapshots *snapshot.Coordinator

	closers []func() error
	db      *db.Manager
	status  []StatusReporter
	now     func() time.Time
}

// NewService wires the components over deps.
func NewService(deps Deps) *Service {
	basis := crossmarket.NewBasisEstimator(deps.Landscapes, deps.Store, deps.Metrics)
	svc := &Service{
		Store:     deps.Store,
		Metrics:   deps.Metrics,
		Basis:     basis,
		Impact:    crossmarket.NewImpactProjector(basis, deps.Landscapes, deps.Store, deps.Metrics),
		Fib:       fib.NewEngine(deps.Bars, basis, deps.Store, deps.Metrics),
		Memory:    memory.NewScorer(deps.Setups, deps.Store, deps.Metrics),
		Snapshots: snapshot.NewCoordinator(deps.Store, deps.Metrics),
		now:       time.Now,
	}
	if r, ok := deps.Bars.(StatusReporter); ok {
		svc.status = append(svc.status, r)
	}
	return svc
}

// Option adjusts the dependencies New derives from configuration.
type Option func(*Deps)

// WithLandscapes replaces the shared-cache landscape reader.
func WithLandscapes(p crossmarket.LandscapeProvider) Option {
	return func(d *Deps) { d.Landscapes = p }
}

// New builds a Service from configuration. An unreachable shared cache runs in
// disabled mode; a configured but unreachable database is an error.
func New(cfg *config.Config, reg prometheus.Registerer, opts ...Option) (*Service, error) {
	store := cache.NewRedisStore(cfg.Cache.Redis)

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize setup history: %w", err)
	}

	bars, err := providers.NewAggregatesClient(cfg.Providers.Massive)
	if err != nil {
		_ = store.Close()
		_ = manager.Close()
		return nil, err
	}

	if !store.Enabled() {
		log.Warn().Msg("Shared cache disabled, cross-process coordination is off")
	}

	deps := Deps{
		Store:      store,
		Landscapes: providers.NewCachedLandscapeProvider(store),
		Bars:       bars,
		Setups:     manager.SetupInstances(),
		Metrics:    metrics.NewRegistry(reg),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	svc := NewService(deps)
	svc.db = manager
	svc.closers = append(svc.closers, manager.Close, store.Close)
	return svc, nil
}

// Health summarises the shared cache, setup history and upstream provider status.
func (s *Service) Health(ctx context.Context) map[string]interface{} {
	out := map[string]interface{}{
		"status":        "ok",
		"cache_enabled": s.Store != nil && s.Store.Enabled(),
		"timestamp":     time.Now().UTC(),
	}
	if len(s.status) > 0 {
		statuses := make(map[string]providers.ProviderStatus, len(s.status))
		for _, r := range s.status {
			st := r.Status()
			statuses[st.Name] = st
			if !st.Healthy() {
				out["status"] = "degraded"
			}
		}
		out["providers"] = statuses
	}
	if s.db != nil {
		check := s.db.Health().Health(ctx)
		out["setup_history"] = check
		if !check.Healthy {
			out["status"] = "degraded"
		}
	}
	return out
}

func (s *Service) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
