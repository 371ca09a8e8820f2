package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Wrapper combina retry (externo) e circuit breaker (interno) para uma operação
type Wrapper struct {
	breaker *CircuitBreaker
	policy  RetryPolicy
	logger  zerolog.Logger
}

// NewWrapper cria um Wrapper para o breaker informado
func NewWrapper(breaker *CircuitBreaker, policy RetryPolicy, logger zerolog.Logger) *Wrapper {
	return &Wrapper{
		breaker: breaker,
		policy:  policy,
		logger:  logger.With().Str("component", "resilience").Str("operation", breaker.Name()).Logger(),
	}
}

// Breaker retorna o circuit breaker da operação
func (w *Wrapper) Breaker() *CircuitBreaker {
	return w.breaker
}

// Do executa fn com retry e circuit breaker. Resultados devem ser capturados pela closure.
func (w *Wrapper) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return Retry(ctx, w.policy, func(ctx context.Context) error {
		return w.breaker.Execute(ctx, fn)
	}, func(attempt int, err error, wait time.Duration) {
		w.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("🔄 retrying request")
	})
}
