package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema cria as tabelas usadas por PostgresRepository
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id       TEXT PRIMARY KEY,
	user_id        TEXT             NOT NULL,
	product_id     TEXT             NOT NULL,
	quantity       INTEGER          NOT NULL,
	total_amount   DOUBLE PRECISION NOT NULL,
	payment_method TEXT             NOT NULL,
	status         TEXT             NOT NULL,
	saga_id        TEXT             NOT NULL,
	created_at     TIMESTAMPTZ      NOT NULL,
	updated_at     TIMESTAMPTZ      NOT NULL
);
CREATE TABLE IF NOT EXISTS saga_states (
	saga_id      TEXT PRIMARY KEY,
	order_id     TEXT        NOT NULL,
	current_step TEXT        NOT NULL,
	status       TEXT        NOT NULL,
	steps        JSONB       NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
`

// pgxPool é o subconjunto de *pgxpool.Pool usado pelo repositório
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository implementa OrderRepository e StateRepository usando PostgreSQL
type PostgresRepository struct {
	db pgxPool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(db pgxPool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate cria as tabelas se não existirem
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create saga schema: %w", err)
	}
	return nil
}

// CreateOrder cria um novo pedido no banco de dados
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *Order) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO orders (order_id, user_id, product_id, quantity, total_amount, payment_method, status, saga_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, order.OrderID, order.UserID, order.ProductID, order.Quantity, order.TotalAmount,
		order.PaymentMethod, string(order.Status), order.SagaID, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetOrder busca um pedido pelo ID
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var (
		order  Order
		status string
	)
	err := r.db.QueryRow(ctx, `
		SELECT order_id, user_id, product_id, quantity, total_amount, payment_method, status, saga_id, created_at, updated_at
		FROM orders WHERE order_id = $1
	`, orderID).Scan(&order.OrderID, &order.UserID, &order.ProductID, &order.Quantity, &order.TotalAmount,
		&order.PaymentMethod, &status, &order.SagaID, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	order.Status = OrderStatus(status)
	return &order, nil
}

// UpdateOrderStatus atualiza o status de um pedido
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE order_id = $2
	`, string(status), orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return nil
}

// CreateSaga grava uma nova saga
func (r *PostgresRepository) CreateSaga(ctx context.Context, state *SagaState) error {
	steps, err := json.Marshal(state.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal saga steps: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO saga_states (saga_id, order_id, current_step, status, steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, state.SagaID, state.OrderID, string(state.CurrentStep), string(state.Status), steps, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create saga: %w", err)
	}
	return nil
}

// GetSaga busca uma saga pelo ID
func (r *PostgresRepository) GetSaga(ctx context.Context, sagaID string) (*SagaState, error) {
	var (
		state       SagaState
		currentStep string
		status      string
		steps       []byte
	)
	err := r.db.QueryRow(ctx, `
		SELECT saga_id, order_id, current_step, status, steps, created_at, updated_at
		FROM saga_states WHERE saga_id = $1
	`, sagaID).Scan(&state.SagaID, &state.OrderID, &currentStep, &status, &steps, &state.CreatedAt, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSagaNotFound, sagaID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saga: %w", err)
	}

	state.CurrentStep = CurrentStep(currentStep)
	state.Status = SagaStatus(status)
	if err := json.Unmarshal(steps, &state.Steps); err != nil {
		return nil, fmt.Errorf("failed to decode saga steps: %w", err)
	}
	return &state, nil
}

// SaveSaga sobrescreve uma saga que ainda não está em estado terminal
func (r *PostgresRepository) SaveSaga(ctx context.Context, state *SagaState) error {
	steps, err := json.Marshal(state.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal saga steps: %w", err)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE saga_states
		SET current_step = $2, status = $3, steps = $4, updated_at = $5
		WHERE saga_id = $1 AND status NOT IN ('COMPLETED', 'FAILED', 'COMPENSATED')
	`, state.SagaID, string(state.CurrentStep), string(state.Status), steps, state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save saga: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var stored string
	err = r.db.QueryRow(ctx, `SELECT status FROM saga_states WHERE saga_id = $1`, state.SagaID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSagaNotFound, state.SagaID)
	}
	if err != nil {
		return fmt.Errorf("failed to save saga: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", ErrSagaTerminal, state.SagaID, stored)
}
