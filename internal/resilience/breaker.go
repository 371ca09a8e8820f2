package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// State representa o estado de um circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText permite serializar o estado como texto em JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BreakerConfig configura um circuit breaker
type BreakerConfig struct {
	// Name identifica a operação protegida (ex.: "inventory.reserve")
	Name string

	// Timeout limita cada tentativa individual. Default: 5s
	Timeout time.Duration

	// ErrorThresholdPercentage é a taxa de falhas na janela que abre o circuito. Default: 50
	ErrorThresholdPercentage int

	// ResetTimeout é o tempo em OPEN antes de permitir uma chamada de teste. Default: 30s
	ResetTimeout time.Duration

	// RollingWindow é a janela de contagem, dividida em RollingBuckets. Default: 10s / 10
	RollingWindow  time.Duration
	RollingBuckets int

	// MinimumRequests é o volume mínimo na janela antes de avaliar a taxa. Default: 5
	MinimumRequests int
}

// DefaultBreakerConfig retorna a configuração padrão para uma operação
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:                     name,
		Timeout:                  5 * time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             30 * time.Second,
		RollingWindow:            10 * time.Second,
		RollingBuckets:           10,
		MinimumRequests:          5,
	}
}

func (c BreakerConfig) normalize() BreakerConfig {
	def := DefaultBreakerConfig(c.Name)
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.ErrorThresholdPercentage <= 0 || c.ErrorThresholdPercentage > 100 {
		c.ErrorThresholdPercentage = def.ErrorThresholdPercentage
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = def.ResetTimeout
	}
	if c.RollingBuckets <= 0 {
		c.RollingBuckets = def.RollingBuckets
	}
	if c.RollingWindow < time.Duration(c.RollingBuckets) {
		c.RollingWindow = def.RollingWindow
	}
	if c.MinimumRequests < 1 {
		c.MinimumRequests = 1
	}
	return c
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeTimeout
	outcomeCanceled
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeFailure:
		return "failure"
	case outcomeTimeout:
		return "timeout"
	default:
		return "canceled"
	}
}

type bucket struct {
	epoch     int64
	fires     int64
	successes int64
	failures  int64
	timeouts  int64
	rejects   int64
}

// CircuitBreaker protege uma operação remota.
//
// CLOSED deixa as chamadas passarem; ao atingir a taxa de falhas na janela
// vai para OPEN e rejeita sem executar; depois de ResetTimeout admite uma
// única chamada de teste (HALF_OPEN) que fecha ou reabre o circuito.
//
// Seguro para uso concorrente: as decisões de estado passam por um único
// mutex, a chamada em si executa fora do lock.
type CircuitBreaker struct {
	config BreakerConfig
	logger zerolog.Logger

	calls       metric.Int64Counter
	transitions metric.Int64Counter

	mu            sync.Mutex
	state         State
	openedAt      time.Time
	trialInFlight bool
	bucketWidth   time.Duration
	buckets       []bucket
	latencies     *latencyWindow

	now func() time.Time
}

// NewCircuitBreaker cria um breaker no estado CLOSED
func NewCircuitBreaker(config BreakerConfig, logger zerolog.Logger) *CircuitBreaker {
	config = config.normalize()

	meter := otel.Meter("github.com/matheusmosca/order-saga-orchestrator/resilience")
	calls, err := meter.Int64Counter("resilience.breaker.calls",
		metric.WithDescription("Calls through the circuit breaker by outcome"))
	if err != nil {
		calls = nil
	}
	transitions, err := meter.Int64Counter("resilience.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"))
	if err != nil {
		transitions = nil
	}

	return &CircuitBreaker{
		config:      config,
		logger:      logger.With().Str("component", "circuit_breaker").Str("breaker", config.Name).Logger(),
		calls:       calls,
		transitions: transitions,
		state:       StateClosed,
		bucketWidth: config.RollingWindow / time.Duration(config.RollingBuckets),
		buckets:     make([]bucket, config.RollingBuckets),
		latencies:   newLatencyWindow(defaultLatencySamples),
		now:         time.Now,
	}
}

// Name retorna o nome da operação protegida
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// State retorna o estado atual
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute executa fn sob a proteção do breaker.
// fn recebe um contexto com o timeout da tentativa e deve respeitá-lo.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := cb.acquire()
	if err != nil {
		cb.count(ctx, "rejected")
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.config.Timeout)
	defer cancel()

	start := cb.now()
	err = fn(callCtx)
	latency := cb.now().Sub(start)

	result := outcomeSuccess
	switch {
	case err == nil:
	case ctx.Err() != nil:
		// caller gave up; says nothing about the downstream health
		result = outcomeCanceled
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		result = outcomeTimeout
		err = fmt.Errorf("%s: %w after %s: %v", cb.config.Name, ErrTimeout, cb.config.Timeout, err)
	case IsRetryable(err):
		result = outcomeFailure
	}

	cb.record(result, latency, trial)
	cb.count(ctx, result.String())
	return err
}

// acquire decide se a chamada pode seguir; trial indica a chamada de teste do HALF_OPEN
func (cb *CircuitBreaker) acquire() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	b := cb.currentBucket(now)
	b.fires++

	if cb.state == StateOpen {
		if now.Sub(cb.openedAt) < cb.config.ResetTimeout {
			b.rejects++
			return false, fmt.Errorf("%s: %w", cb.config.Name, ErrCircuitOpen)
		}
		cb.transitionLocked(StateHalfOpen, now)
	}

	if cb.state == StateHalfOpen {
		if cb.trialInFlight {
			b.rejects++
			return false, fmt.Errorf("%s: %w", cb.config.Name, ErrCircuitOpen)
		}
		cb.trialInFlight = true
		return true, nil
	}

	return false, nil
}

func (cb *CircuitBreaker) record(result outcome, latency time.Duration, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	b := cb.currentBucket(now)

	switch result {
	case outcomeSuccess:
		b.successes++
	case outcomeFailure:
		b.failures++
	case outcomeTimeout:
		b.timeouts++
		b.failures++
	case outcomeCanceled:
		if trial {
			cb.trialInFlight = false
		}
		return
	}
	cb.latencies.add(latency)

	if trial {
		cb.trialInFlight = false
		if result == outcomeSuccess {
			cb.transitionLocked(StateClosed, now)
		} else {
			cb.transitionLocked(StateOpen, now)
		}
		return
	}

	if cb.state != StateClosed || result == outcomeSuccess {
		return
	}

	counts := cb.windowLocked(now)
	executed := counts.successes + counts.failures
	if executed < int64(cb.config.MinimumRequests) {
		return
	}
	if counts.failures*100 >= int64(cb.config.ErrorThresholdPercentage)*executed {
		cb.transitionLocked(StateOpen, now)
	}
}

// transitionLocked muda o estado. Deve ser chamado com o lock adquirido.
func (cb *CircuitBreaker) transitionLocked(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	switch to {
	case StateOpen:
		cb.openedAt = now
		cb.logger.Error().Str("from", from.String()).Msg("🔴 circuit breaker opened - too many failures")
	case StateHalfOpen:
		cb.logger.Warn().Str("from", from.String()).Msg("🟡 circuit breaker half-open - testing service")
	case StateClosed:
		cb.openedAt = time.Time{}
		for i := range cb.buckets {
			cb.buckets[i] = bucket{}
		}
		cb.logger.Info().Str("from", from.String()).Msg("🟢 circuit breaker closed - service recovered")
	}

	if cb.transitions != nil {
		cb.transitions.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("breaker", cb.config.Name),
			attribute.String("from", from.String()),
			attribute.String("to", to.String()),
		))
	}
}

func (cb *CircuitBreaker) currentBucket(now time.Time) *bucket {
	epoch := now.UnixNano() / int64(cb.bucketWidth)
	b := &cb.buckets[epoch%int64(len(cb.buckets))]
	if b.epoch != epoch {
		*b = bucket{epoch: epoch}
	}
	return b
}

func (cb *CircuitBreaker) windowLocked(now time.Time) bucket {
	epoch := now.UnixNano() / int64(cb.bucketWidth)
	oldest := epoch - int64(len(cb.buckets))

	var sum bucket
	for _, b := range cb.buckets {
		if b.epoch <= oldest || b.epoch > epoch {
			continue
		}
		sum.fires += b.fires
		sum.successes += b.successes
		sum.failures += b.failures
		sum.timeouts += b.timeouts
		sum.rejects += b.rejects
	}
	return sum
}

func (cb *CircuitBreaker) count(ctx context.Context, result string) {
	if cb.calls == nil {
		return
	}
	cb.calls.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("breaker", cb.config.Name),
		attribute.String("outcome", result),
	))
}

// Stats retorna um snapshot das estatísticas da janela atual
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	counts := cb.windowLocked(now)
	mean, percentiles := cb.latencies.summary()

	stats := Stats{
		Name:        cb.config.Name,
		State:       cb.state,
		Fires:       counts.fires,
		Successes:   counts.successes,
		Failures:    counts.failures,
		Rejects:     counts.rejects,
		Timeouts:    counts.timeouts,
		LatencyMean: mean,
		Percentiles: percentiles,
	}
	if !cb.openedAt.IsZero() {
		openedAt := cb.openedAt
		stats.OpenedAt = &openedAt
	}
	return stats
}
