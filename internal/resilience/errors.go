package resilience

import (
	"context"
	"errors"
)

var (
	// ErrCircuitOpen é retornado quando o breaker rejeita a chamada sem executá-la
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTimeout indica que uma tentativa excedeu o timeout do breaker
	ErrTimeout = errors.New("operation timed out")
)

// retryable é implementado por erros que sabem se podem ser repetidos
type retryable interface {
	Retryable() bool
}

// IsRetryable decide se um erro deve disparar nova tentativa.
// Erros de rede e timeouts são transitórios; rejeições de negócio, breaker
// aberto e cancelamento do contexto não são.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}

	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}

	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}

	return true
}

// PermanentError marca um erro como não repetível (ex.: validação)
type PermanentError struct {
	Err error
}

// Permanent embrulha err para que nunca seja repetido
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }
