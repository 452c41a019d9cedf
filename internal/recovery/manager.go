// Package recovery wraps external calls (source queries, model updates) in a
// per-operation circuit breaker with fixed-delay retries and best-effort
// fallbacks. No failure escapes to the caller: every call resolves to an
// Outcome, possibly degraded.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/config"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/monitoring"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/timeutil"
)

// Config configures retry and breaker behaviour.
type Config struct {
	// MaxRetries is the number of consecutive failures that opens the breaker.
	MaxRetries int
	// RetryDelay is the fixed wait between attempts. The open-state
	// cooldown is twice this value.
	RetryDelay time.Duration
}

// DefaultConfig returns the built-in retry settings.
func DefaultConfig() Config {
	return ConfigFromEngine(config.EmptyEngineConfig())
}

// ConfigFromEngine builds a Config from a loaded EngineConfig.
func ConfigFromEngine(cfg *config.EngineConfig) Config {
	return Config{
		MaxRetries: cfg.GetMaxRetries(),
		RetryDelay: cfg.GetRetryDelay(),
	}
}

// Cooldown is how long a breaker stays open before admitting a probe.
func (c Config) Cooldown() time.Duration {
	return 2 * c.RetryDelay
}

// Operation is a wrapped external call.
type Operation func(ctx context.Context) (any, error)

// Fallback produces a degraded substitute result for an operation key.
type Fallback func(ctx context.Context) (any, error)

// Outcome describes how a wrapped call resolved.
type Outcome struct {
	// OK is true when the operation itself succeeded.
	OK bool `json:"ok"`
	// Attempts is the number of times the operation ran during this call.
	Attempts int `json:"attempts"`
	// State is the breaker state after the call.
	State CircuitState `json:"state"`
	// UsedFallback is true when the fallback path ran (registered or not).
	UsedFallback bool `json:"used_fallback"`
	// FallbackOK is true when a registered fallback produced a value.
	FallbackOK bool `json:"fallback_ok"`
	// Err is the last operation error, or ErrCircuitOpen when not attempted.
	Err error `json:"-"`
}

// Manager owns one breaker per operation key. Breakers are created lazily;
// unrelated keys never contend on the same lock.
type Manager struct {
	cfg     Config
	clock   timeutil.Clock
	log     *logrus.Entry
	metrics *Metrics

	mu        sync.Mutex
	breakers  map[string]*breaker
	fallbacks map[string]Fallback
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock (tests use timeutil.MockClock).
func WithClock(c timeutil.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithMetrics attaches Prometheus instruments.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a manager. A MaxRetries below 1 is treated as 1.
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	m := &Manager{
		cfg:       cfg,
		clock:     timeutil.RealClock{},
		log:       monitoring.Component("recovery"),
		breakers:  make(map[string]*breaker),
		fallbacks: make(map[string]Fallback),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) breaker(key string) *breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.breakers[key]
	if !ok {
		b = newBreaker(key)
		m.breakers[key] = b
	}
	return b
}

// RegisterFallback installs (or replaces, or with nil removes) the fallback
// for an operation key.
func (m *Manager) RegisterFallback(key string, fb Fallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fb == nil {
		delete(m.fallbacks, key)
		return
	}
	m.fallbacks[key] = fb
}

// ExecuteFallback runs the registered fallback for key. It is best-effort:
// with no fallback, or when the fallback fails, it returns (nil, false).
func (m *Manager) ExecuteFallback(ctx context.Context, key string) (any, bool) {
	m.mu.Lock()
	fb := m.fallbacks[key]
	m.mu.Unlock()

	m.metrics.fallback(key)
	if fb == nil {
		return nil, false
	}
	v, err := safeCall(ctx, Operation(fb))
	if err != nil {
		m.log.WithField("key", key).WithError(err).Warn("fallback failed")
		return nil, false
	}
	return v, true
}

// Execute runs op under the breaker for key.
//
// closed: op runs; failures retry after RetryDelay until MaxRetries
// consecutive failures open the breaker. Critical failures open it at once.
// open: op is skipped and the fallback runs, until Cooldown has elapsed
// since the last failure.
// half-open: op runs exactly once; success closes, failure reopens.
//
// Whenever op does not succeed the fallback's result is returned.
func (m *Manager) Execute(ctx context.Context, key string, op Operation) (any, Outcome) {
	b := m.breaker(key)
	var out Outcome

	switch b.admit(m.clock.Now(), m.cfg.Cooldown()) {
	case reject:
		out.Err = ErrCircuitOpen
		return m.degrade(ctx, key, b, out)

	case admitProbe:
		out.Attempts = 1
		v, err := safeCall(ctx, op)
		if err == nil {
			b.success()
			m.log.WithField("key", key).Info("breaker closed after successful probe")
			return m.finish(key, b, v, out)
		}
		out.Err = err
		m.recordFailure(key, err)
		b.failure(m.clock.Now(), m.cfg.MaxRetries, true)
		m.log.WithField("key", key).WithError(err).Warn("half-open probe failed, breaker reopened")
		return m.degrade(ctx, key, b, out)
	}

	for {
		out.Attempts++
		v, err := safeCall(ctx, op)
		if err == nil {
			b.success()
			return m.finish(key, b, v, out)
		}
		out.Err = err
		m.recordFailure(key, err)

		critical := IsCritical(err)
		if b.failure(m.clock.Now(), m.cfg.MaxRetries, critical) {
			m.log.WithFields(logrus.Fields{
				"key":      key,
				"attempts": out.Attempts,
				"kind":     KindOf(err).String(),
			}).WithError(err).Warn("breaker opened")
			return m.degrade(ctx, key, b, out)
		}

		if err := m.clock.Sleep(ctx, m.cfg.RetryDelay); err != nil {
			return m.degrade(ctx, key, b, out)
		}
		if isContextErr(ctx.Err()) || !b.isClosed() {
			return m.degrade(ctx, key, b, out)
		}
	}
}

func (m *Manager) finish(key string, b *breaker, v any, out Outcome) (any, Outcome) {
	out.OK = true
	out.Err = nil
	out.State = b.snapshot().State
	m.metrics.observeState(key, out.State)
	return v, out
}

func (m *Manager) degrade(ctx context.Context, key string, b *breaker, out Outcome) (any, Outcome) {
	out.State = b.snapshot().State
	m.metrics.observeState(key, out.State)
	out.UsedFallback = true
	v, ok := m.ExecuteFallback(ctx, key)
	out.FallbackOK = ok
	return v, out
}

func (m *Manager) recordFailure(key string, err error) {
	m.metrics.failure(key, KindOf(err))
	m.log.WithFields(logrus.Fields{"key": key, "kind": KindOf(err).String()}).WithError(err).Debug("operation failed")
}

// State returns a snapshot of the breaker for key. Unknown keys report a
// fresh closed breaker.
func (m *Manager) State(key string) BreakerState {
	m.mu.Lock()
	b, ok := m.breakers[key]
	m.mu.Unlock()
	if !ok {
		return BreakerState{Key: key, State: CircuitClosed}
	}
	return b.snapshot()
}

// Snapshot returns every known breaker, sorted by key.
func (m *Manager) Snapshot() []BreakerState {
	m.mu.Lock()
	list := make([]*breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		list = append(list, b)
	}
	m.mu.Unlock()

	out := make([]BreakerState, 0, len(list))
	for _, b := range list {
		out = append(out, b.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Reset returns the breaker for key to closed with a zero counter.
func (m *Manager) Reset(key string) {
	m.breaker(key).reset()
	m.metrics.observeState(key, CircuitClosed)
}

// safeCall runs op, converting a panic into a recoverable error.
func safeCall(ctx context.Context, op Operation) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = Recoverable("panic", fmt.Errorf("%v", r))
		}
	}()
	return op(ctx)
}

// Run is the typed form of Execute. With a nil manager the operation runs
// once, unprotected but panic-safe.
func Run[T any](ctx context.Context, m *Manager, key string, op func(context.Context) (T, error)) (T, Outcome) {
	wrapped := func(ctx context.Context) (any, error) { return op(ctx) }

	var (
		v   any
		out Outcome
	)
	if m == nil {
		var err error
		v, err = safeCall(ctx, wrapped)
		out = Outcome{OK: err == nil, Attempts: 1, State: CircuitClosed, Err: err}
		if err != nil {
			v = nil
		}
	} else {
		v, out = m.Execute(ctx, key, wrapped)
	}

	t, _ := v.(T)
	return t, out
}
