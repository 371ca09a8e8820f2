package saga

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRepository implementa OrderRepository e StateRepository em memória.
// Entradas e saídas são copiadas.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]Order
	sagas  map[string]*SagaState
	now    func() time.Time
}

// NewMemoryRepository cria um repositório vazio
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[string]Order),
		sagas:  make(map[string]*SagaState),
		now:    time.Now,
	}
}

func (r *MemoryRepository) CreateOrder(ctx context.Context, order *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.OrderID]; ok {
		return fmt.Errorf("order %s already exists", order.OrderID)
	}
	r.orders[order.OrderID] = *order
	return nil
}

func (r *MemoryRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return &order, nil
}

func (r *MemoryRepository) UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if order.Status == status {
		return nil
	}
	order.Status = status
	order.UpdatedAt = r.now()
	r.orders[orderID] = order
	return nil
}

func (r *MemoryRepository) CreateSaga(ctx context.Context, state *SagaState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sagas[state.SagaID]; ok {
		return fmt.Errorf("saga %s already exists", state.SagaID)
	}
	r.sagas[state.SagaID] = state.Clone()
	return nil
}

func (r *MemoryRepository) GetSaga(ctx context.Context, sagaID string) (*SagaState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.sagas[sagaID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSagaNotFound, sagaID)
	}
	return state.Clone(), nil
}

func (r *MemoryRepository) SaveSaga(ctx context.Context, state *SagaState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sagas[state.SagaID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSagaNotFound, state.SagaID)
	}
	if stored.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrSagaTerminal, state.SagaID, stored.Status)
	}
	r.sagas[state.SagaID] = state.Clone()
	return nil
}
