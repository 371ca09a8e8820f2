package saga

import "context"

// OrderRepository define as operações de persistência de pedidos
type OrderRepository interface {
	// CreateOrder cria um novo pedido
	CreateOrder(ctx context.Context, order *Order) error

	// GetOrder busca um pedido pelo ID. Retorna ErrOrderNotFound.
	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// UpdateOrderStatus atualiza o status de um pedido
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error
}

// StateRepository define as operações de persistência do estado das sagas
type StateRepository interface {
	// CreateSaga grava uma nova saga
	CreateSaga(ctx context.Context, state *SagaState) error

	// GetSaga busca uma saga pelo ID. Retorna ErrSagaNotFound.
	GetSaga(ctx context.Context, sagaID string) (*SagaState, error)

	// SaveSaga sobrescreve a saga. Retorna ErrSagaTerminal se a versão gravada já é terminal.
	SaveSaga(ctx context.Context, state *SagaState) error
}
