package downstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheusmosca/order-saga-orchestrator/internal/resilience"
)

type PaymentRequest struct {
	OrderID       string  `json:"orderId"`
	TotalAmount   float64 `json:"totalAmount"`
	PaymentMethod string  `json:"paymentMethod"`
	UserID        string  `json:"userId"`
}

type Payment struct {
	Success       bool    `json:"success"`
	TransactionID string  `json:"transactionId"`
	OrderID       string  `json:"orderId"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
}

type RefundRequest struct {
	OrderID       string  `json:"orderId"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
}

// PaymentClient chama o serviço de pagamentos
type PaymentClient struct {
	client
	process endpoint
	refund  endpoint
}

// NewPaymentClient cria o cliente do serviço de pagamentos
func NewPaymentClient(baseURL string, opts Options) *PaymentClient {
	return &PaymentClient{
		client:  newClient("payment", baseURL, opts),
		process: opts.endpoint("payment", "process", "/api/payments/process"),
		refund:  opts.endpoint("payment", "refund", "/api/payments/refund"),
	}
}

// Process cobra o pedido
func (c *PaymentClient) Process(ctx context.Context, req PaymentRequest) (*Payment, error) {
	var out Payment
	if err := c.post(ctx, c.process, req, &out); err != nil {
		return nil, fmt.Errorf("failed to process payment: %w", err)
	}
	if out.TransactionID == "" {
		return nil, resilience.Permanent(errors.New("payment process returned no transactionId"))
	}
	return &out, nil
}

// Refund estorna um pagamento (compensação). Idempotente no serviço remoto.
func (c *PaymentClient) Refund(ctx context.Context, req RefundRequest) error {
	if err := c.post(ctx, c.refund, req, nil); err != nil {
		return fmt.Errorf("failed to refund payment: %w", err)
	}
	return nil
}
