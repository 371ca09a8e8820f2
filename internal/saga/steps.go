package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheusmosca/order-saga-orchestrator/internal/downstream"
	"github.com/matheusmosca/order-saga-orchestrator/internal/eventstore"
)

// Dados gravados em Step.Data pelos passos; a compensação lê daqui

type OrderData struct {
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
}

type ReservationData struct {
	ReservationID string `json:"reservationId"`
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
}

type PaymentData struct {
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
}

type NotificationData struct {
	Kind string `json:"kind"`
}

type stepOutcome struct {
	data  any
	event *eventstore.Append
}

type stepAction func(ctx context.Context, state *SagaState, order *Order) (stepOutcome, error)

// stepCompensation desfaz um passo e retorna o evento de domínio da compensação, se houver
type stepCompensation func(ctx context.Context, state *SagaState, order *Order, step *Step) (*eventstore.Append, error)

func (o *Orchestrator) action(name StepName) (stepAction, error) {
	switch name {
	case StepCreateOrder:
		return o.confirmOrder, nil
	case StepReserveInventory:
		return o.reserveInventory, nil
	case StepProcessPayment:
		return o.processPayment, nil
	case StepSendNotification:
		return o.sendConfirmation, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
}

func (o *Orchestrator) compensator(name StepName) (stepCompensation, error) {
	switch name {
	case StepCreateOrder:
		return o.discardOrder, nil
	case StepReserveInventory:
		return o.releaseInventory, nil
	case StepProcessPayment:
		return o.refundPayment, nil
	case StepSendNotification:
		return o.sendCancellation, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
}

// CREATE_ORDER é local: confirma que o pedido está gravado
func (o *Orchestrator) confirmOrder(ctx context.Context, state *SagaState, order *Order) (stepOutcome, error) {
	stored, err := o.orders.GetOrder(ctx, state.OrderID)
	if err != nil {
		return stepOutcome{}, err
	}
	return stepOutcome{data: OrderData{OrderID: stored.OrderID, Status: stored.Status}}, nil
}

// discardOrder não tem ação remota; o pedido é marcado FAILED ao fim da compensação
func (o *Orchestrator) discardOrder(ctx context.Context, state *SagaState, order *Order, step *Step) (*eventstore.Append, error) {
	return nil, nil
}

func (o *Orchestrator) reserveInventory(ctx context.Context, state *SagaState, order *Order) (stepOutcome, error) {
	reservation, err := o.inventory.Reserve(ctx, downstream.ReserveRequest{
		OrderID:   order.OrderID,
		ProductID: order.ProductID,
		Quantity:  order.Quantity,
	})
	if err != nil {
		return stepOutcome{}, err
	}

	event := domainEvent(state, order, eventstore.EventInventoryReserved, eventstore.AggregateInventory, eventstore.InventoryReserved{
		OrderID:       order.OrderID,
		ReservationID: reservation.ReservationID,
		ProductID:     order.ProductID,
		Quantity:      order.Quantity,
	})
	return stepOutcome{
		data: ReservationData{
			ReservationID: reservation.ReservationID,
			ProductID:     order.ProductID,
			Quantity:      order.Quantity,
		},
		event: &event,
	}, nil
}

func (o *Orchestrator) releaseInventory(ctx context.Context, state *SagaState, order *Order, step *Step) (*eventstore.Append, error) {
	var data ReservationData
	if err := decodeStepData(step, &data); err != nil {
		return nil, err
	}
	if data.ReservationID == "" {
		return nil, errors.New("reservation id missing from step data")
	}

	err := o.inventory.Release(ctx, downstream.ReleaseRequest{
		OrderID:       order.OrderID,
		ReservationID: data.ReservationID,
		ProductID:     data.ProductID,
		Quantity:      data.Quantity,
	})
	if err != nil {
		return nil, err
	}

	event := domainEvent(state, order, eventstore.EventInventoryReleased, eventstore.AggregateInventory, eventstore.InventoryReleased{
		OrderID:       order.OrderID,
		ReservationID: data.ReservationID,
		ProductID:     data.ProductID,
		Quantity:      data.Quantity,
	})
	return &event, nil
}

func (o *Orchestrator) processPayment(ctx context.Context, state *SagaState, order *Order) (stepOutcome, error) {
	payment, err := o.payments.Process(ctx, downstream.PaymentRequest{
		OrderID:       order.OrderID,
		TotalAmount:   order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
		UserID:        order.UserID,
	})
	if err != nil {
		return stepOutcome{}, err
	}

	event := domainEvent(state, order, eventstore.EventPaymentProcessed, eventstore.AggregatePayment, eventstore.PaymentProcessed{
		OrderID:       order.OrderID,
		TransactionID: payment.TransactionID,
		Amount:        order.TotalAmount,
		Status:        payment.Status,
	})
	return stepOutcome{
		data: PaymentData{
			TransactionID: payment.TransactionID,
			Amount:        order.TotalAmount,
			Status:        payment.Status,
		},
		event: &event,
	}, nil
}

func (o *Orchestrator) refundPayment(ctx context.Context, state *SagaState, order *Order, step *Step) (*eventstore.Append, error) {
	var data PaymentData
	if err := decodeStepData(step, &data); err != nil {
		return nil, err
	}
	if data.TransactionID == "" {
		return nil, errors.New("transaction id missing from step data")
	}

	err := o.payments.Refund(ctx, downstream.RefundRequest{
		OrderID:       order.OrderID,
		TransactionID: data.TransactionID,
		Amount:        data.Amount,
	})
	if err != nil {
		return nil, err
	}

	event := domainEvent(state, order, eventstore.EventPaymentRefunded, eventstore.AggregatePayment, eventstore.PaymentRefunded{
		OrderID:       order.OrderID,
		TransactionID: data.TransactionID,
		Amount:        data.Amount,
	})
	return &event, nil
}

func (o *Orchestrator) sendConfirmation(ctx context.Context, state *SagaState, order *Order) (stepOutcome, error) {
	if err := o.notifier.SendOrderConfirmation(ctx, order.OrderID); err != nil {
		return stepOutcome{}, err
	}

	event := notificationEvent(state, order, eventstore.NotificationOrderConfirmation)
	return stepOutcome{
		data:  NotificationData{Kind: eventstore.NotificationOrderConfirmation},
		event: &event,
	}, nil
}

func (o *Orchestrator) sendCancellation(ctx context.Context, state *SagaState, order *Order, step *Step) (*eventstore.Append, error) {
	if err := o.notifier.SendOrderCancellation(ctx, order.OrderID); err != nil {
		return nil, err
	}
	event := notificationEvent(state, order, eventstore.NotificationOrderCancellation)
	return &event, nil
}

func decodeStepData(step *Step, out any) error {
	if len(step.Data) == 0 {
		return fmt.Errorf("step %s has no data", step.Name)
	}
	if err := json.Unmarshal(step.Data, out); err != nil {
		return fmt.Errorf("invalid data for step %s: %w", step.Name, err)
	}
	return nil
}
