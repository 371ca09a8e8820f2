package saga

import "errors"

var (
	// ErrInvalidOrder indica um pedido sem os campos obrigatórios
	ErrInvalidOrder = errors.New("invalid order")

	ErrOrderNotFound = errors.New("order not found")
	ErrSagaNotFound  = errors.New("saga not found")

	// ErrSagaTerminal é retornado ao executar ou alterar uma saga já finalizada
	ErrSagaTerminal = errors.New("saga is in a terminal state")

	// ErrUnknownStep é retornado para passos fora da enumeração
	ErrUnknownStep = errors.New("unknown saga step")

	// ErrCompensationFailed indica que ao menos uma compensação falhou
	ErrCompensationFailed = errors.New("saga compensation failed")
)
