// Package guard wires the store, cache, rate limiter, quota ledger,
// enforcement interceptor and analysis invoker into one Service.
//
// Analyze is the request path for analysis actions: a cached result is
// served without touching rate limits or quota; a miss is enforced,
// analyzed, cached and charged.
package guard

import (
	"context"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/analysis"
	"github.com/Sternrassler/scan-quota/pkg/cache"
	"github.com/Sternrassler/scan-quota/pkg/config"
	"github.com/Sternrassler/scan-quota/pkg/enforcement"
	"github.com/Sternrassler/scan-quota/pkg/kvstore"
	"github.com/Sternrassler/scan-quota/pkg/logging"
	"github.com/Sternrassler/scan-quota/pkg/quota"
	"github.com/Sternrassler/scan-quota/pkg/ratelimit"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrNoAnalyzer is returned by Analyze on a Service built without an
// analyzer.
var ErrNoAnalyzer = errors.New("guard: no analyzer configured")

var guardRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scanquota_guard_requests_total",
	Help: "Analysis requests by action and path (cache_hit, analyzed, denied, error)",
}, []string{"action", "path"})

// Service is the assembled request-path core.
type Service struct {
	store       kvstore.Store
	ownsStore   bool
	cache       *cache.Manager
	ledger      *quota.Ledger
	limiter     *ratelimit.Limiter
	interceptor *enforcement.Interceptor
	invoker     *analysis.Invoker
	logger      zerolog.Logger
	newID       func() string
}

type options struct {
	now   func() time.Time
	newID func() string
}

// Option customizes a Service.
type Option func(*options)

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRequestIDs replaces the request id generator.
func WithRequestIDs(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

// New validates cfg and builds a Service on store. The caller keeps
// ownership of store. A nil analyzer yields an administrative Service
// whose Analyze returns ErrNoAnalyzer.
func New(cfg *config.Config, store kvstore.Store, analyzer analysis.Analyzer, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("guard: config and store are required")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	o := options{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}

	sweeper := kvstore.NewSweeper(store, kvstore.DefaultSweepConfig(), logging.Component(logger, logging.ComponentStore))
	manager := cache.NewManager(store, cfg.CacheManagerConfig(),
		logging.Component(logger, logging.ComponentCache),
		cache.WithClock(o.now), cache.WithSweeper(sweeper))

	ledgerCfg, err := cfg.LedgerConfig()
	if err != nil {
		return nil, config.ValidationError{Errors: []config.FieldError{{Field: "quota", Cause: err}}}
	}
	ledger, err := quota.NewLedger(store, ledgerCfg,
		logging.Component(logger, logging.ComponentQuota), quota.WithClock(o.now))
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.NewLimiter(store, cfg.RateRules(),
		logging.Component(logger, logging.ComponentRateLimit), ratelimit.WithClock(o.now))
	if err != nil {
		return nil, err
	}

	interceptor := enforcement.NewInterceptor(limiter, ledger,
		logging.Component(logger, logging.ComponentEnforcement),
		enforcement.WithClock(o.now), enforcement.WithRequestIDs(o.newID))

	var invoker *analysis.Invoker
	if analyzer != nil {
		invoker = analysis.NewInvoker(manager, analyzer, cfg.InvokerConfig(),
			logging.Component(logger, logging.ComponentAnalysis))
	}

	return &Service{
		store:       store,
		cache:       manager,
		ledger:      ledger,
		limiter:     limiter,
		interceptor: interceptor,
		invoker:     invoker,
		logger:      logging.Component(logger, logging.ComponentGuard),
		newID:       o.newID,
	}, nil
}

// Open connects to the store described by cfg, waiting for it with the
// configured retry policy, and builds a Service that owns the connection.
func Open(ctx context.Context, cfg *config.Config, analyzer analysis.Analyzer, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("guard: config is required")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	store := kvstore.NewRedisStore(kvstore.NewClient(cfg.ClientConfig()), cfg.StoreOptions())
	if err := kvstore.Connect(ctx, store, cfg.RetryConfig(), logging.Component(logger, logging.ComponentStore)); err != nil {
		_ = store.Close()
		return nil, err
	}

	s, err := New(cfg, store, analyzer, logger, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	s.ownsStore = true
	return s, nil
}

// Analyze serves the analysis of subject for req.
//
// The cache is consulted first: a hit is returned with an allowed decision
// of LimitType "" and Remaining/Limit -1, and consumes neither rate limit
// nor quota. On a miss the analyzer runs behind Interceptor.Protect and
// quota is charged only when it succeeds. A denial is returned as
// (Result{Key}, Decision{Allowed: false}, nil).
func (s *Service) Analyze(ctx context.Context, req enforcement.Request, subject analysis.Subject) (analysis.Result, enforcement.Decision, error) {
	if req.RequestID == "" {
		req.RequestID = s.newID()
	}
	if s.invoker == nil {
		return analysis.Result{}, enforcement.Decision{RequestID: req.RequestID, Action: req.Action}, ErrNoAnalyzer
	}

	// Step 1: Cache lookup
	cached, err := s.invoker.Lookup(ctx, subject)
	if err != nil {
		guardRequests.WithLabelValues(req.Action, "error").Inc()
		return analysis.Result{}, enforcement.Decision{RequestID: req.RequestID, Action: req.Action}, err
	}
	if cached.Hit {
		guardRequests.WithLabelValues(req.Action, "cache_hit").Inc()
		s.logger.Debug().
			Str("request_id", req.RequestID).
			Str("action", req.Action).
			Str("key", cached.Key).
			Msg("Served from cache, nothing charged")
		return cached, enforcement.Decision{
			Allowed:   true,
			Remaining: quota.Unlimited,
			Limit:     quota.Unlimited,
			LimitType: enforcement.LimitNone,
			RequestID: req.RequestID,
			Action:    req.Action,
		}, nil
	}

	// Step 2: Enforce, analyze, charge
	var result analysis.Result
	decision, err := s.interceptor.Protect(ctx, req, func(ctx context.Context) error {
		var ferr error
		result, ferr = s.invoker.Fill(ctx, subject)
		return ferr
	})

	switch {
	case err != nil:
		guardRequests.WithLabelValues(req.Action, "error").Inc()
		return analysis.Result{Key: cached.Key}, decision, err
	case !decision.Allowed:
		guardRequests.WithLabelValues(req.Action, "denied").Inc()
		return analysis.Result{Key: cached.Key}, decision, nil
	}

	guardRequests.WithLabelValues(req.Action, "analyzed").Inc()
	return result, decision, nil
}

// Protect enforces req around an arbitrary handler, for actions that are
// not cached analyses (exports, API calls).
func (s *Service) Protect(ctx context.Context, req enforcement.Request, handler enforcement.Handler) (enforcement.Decision, error) {
	return s.interceptor.Protect(ctx, req, handler)
}

// Check reports whether req would currently be allowed without consuming
// anything.
func (s *Service) Check(ctx context.Context, req enforcement.Request) (enforcement.Decision, error) {
	return s.interceptor.Check(ctx, req)
}

// Ready pings the store.
func (s *Service) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close waits for pending cache bookkeeping and closes the store when the
// Service opened it.
func (s *Service) Close() error {
	s.cache.Wait()
	if s.ownsStore {
		return s.store.Close()
	}
	return nil
}

// Store returns the underlying store.
func (s *Service) Store() kvstore.Store { return s.store }

// Cache returns the cache manager.
func (s *Service) Cache() *cache.Manager { return s.cache }

// Ledger returns the quota ledger.
func (s *Service) Ledger() *quota.Ledger { return s.ledger }

// Limiter returns the rate limiter.
func (s *Service) Limiter() *ratelimit.Limiter { return s.limiter }

// Invoker returns the analysis invoker, nil without an analyzer.
func (s *Service) Invoker() *analysis.Invoker { return s.invoker }
