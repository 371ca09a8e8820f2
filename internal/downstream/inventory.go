package downstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheusmosca/order-saga-orchestrator/internal/resilience"
)

type ReserveRequest struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Reservation struct {
	Success       bool   `json:"success"`
	ReservationID string `json:"reservationId"`
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
	OrderID       string `json:"orderId"`
}

type ReleaseRequest struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId"`
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
}

// InventoryClient chama o serviço de estoque
type InventoryClient struct {
	client
	reserve endpoint
	release endpoint
}

// NewInventoryClient cria o cliente do serviço de estoque
func NewInventoryClient(baseURL string, opts Options) *InventoryClient {
	return &InventoryClient{
		client:  newClient("inventory", baseURL, opts),
		reserve: opts.endpoint("inventory", "reserve", "/api/inventory/reserve"),
		release: opts.endpoint("inventory", "release", "/api/inventory/release"),
	}
}

// Reserve reserva o estoque do pedido
func (c *InventoryClient) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	var out Reservation
	if err := c.post(ctx, c.reserve, req, &out); err != nil {
		return nil, fmt.Errorf("failed to reserve inventory: %w", err)
	}
	if out.ReservationID == "" {
		return nil, resilience.Permanent(errors.New("inventory reserve returned no reservationId"))
	}
	return &out, nil
}

// Release libera uma reserva (compensação). Idempotente no serviço remoto.
func (c *InventoryClient) Release(ctx context.Context, req ReleaseRequest) error {
	if err := c.post(ctx, c.release, req, nil); err != nil {
		return fmt.Errorf("failed to release inventory: %w", err)
	}
	return nil
}
