package downstream

import (
	"context"
	"fmt"
)

type NotificationRequest struct {
	OrderID string `json:"orderId"`
}

// NotificationClient chama o serviço de notificações
type NotificationClient struct {
	client
	confirmation endpoint
	cancellation endpoint
}

// NewNotificationClient cria o cliente do serviço de notificações
func NewNotificationClient(baseURL string, opts Options) *NotificationClient {
	return &NotificationClient{
		client:       newClient("notification", baseURL, opts),
		confirmation: opts.endpoint("notification", "confirmation", "/api/notifications/order-confirmation"),
		cancellation: opts.endpoint("notification", "cancellation", "/api/notifications/order-cancellation"),
	}
}

func (c *NotificationClient) SendOrderConfirmation(ctx context.Context, orderID string) error {
	if err := c.post(ctx, c.confirmation, NotificationRequest{OrderID: orderID}, nil); err != nil {
		return fmt.Errorf("failed to send order confirmation: %w", err)
	}
	return nil
}

func (c *NotificationClient) SendOrderCancellation(ctx context.Context, orderID string) error {
	if err := c.post(ctx, c.cancellation, NotificationRequest{OrderID: orderID}, nil); err != nil {
		return fmt.Errorf("failed to send order cancellation: %w", err)
	}
	return nil
}
