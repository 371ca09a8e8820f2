package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidEvent é retornado quando o tipo do evento ou do agregado não é conhecido
	ErrInvalidEvent = errors.New("invalid event")

	// ErrAggregateNotFound indica que não há eventos para o agregado
	ErrAggregateNotFound = errors.New("aggregate not found")
)

// EventType representa os tipos de eventos aceitos pelo store
type EventType string

const (
	EventOrderCreated   EventType = "ORDER_CREATED"
	EventOrderUpdated   EventType = "ORDER_UPDATED"
	EventOrderCompleted EventType = "ORDER_COMPLETED"
	EventOrderFailed    EventType = "ORDER_FAILED"

	EventSagaStarted         EventType = "SAGA_STARTED"
	EventSagaStepStarted     EventType = "SAGA_STEP_STARTED"
	EventSagaStepCompleted   EventType = "SAGA_STEP_COMPLETED"
	EventSagaStepFailed      EventType = "SAGA_STEP_FAILED"
	EventSagaStepCompensated EventType = "SAGA_STEP_COMPENSATED"
	EventSagaCompleted       EventType = "SAGA_COMPLETED"
	EventSagaCompensating    EventType = "SAGA_COMPENSATING"
	EventSagaCompensated     EventType = "SAGA_COMPENSATED"
	EventSagaFailed          EventType = "SAGA_FAILED"

	EventInventoryReserved EventType = "INVENTORY_RESERVED"
	EventInventoryReleased EventType = "INVENTORY_RELEASED"
	EventPaymentProcessed  EventType = "PAYMENT_PROCESSED"
	EventPaymentRefunded   EventType = "PAYMENT_REFUNDED"
	EventNotificationSent  EventType = "NOTIFICATION_SENT"
)

var eventTypes = map[EventType]struct{}{
	EventOrderCreated:        {},
	EventOrderUpdated:        {},
	EventOrderCompleted:      {},
	EventOrderFailed:         {},
	EventSagaStarted:         {},
	EventSagaStepStarted:     {},
	EventSagaStepCompleted:   {},
	EventSagaStepFailed:      {},
	EventSagaStepCompensated: {},
	EventSagaCompleted:       {},
	EventSagaCompensating:    {},
	EventSagaCompensated:     {},
	EventSagaFailed:          {},
	EventInventoryReserved:   {},
	EventInventoryReleased:   {},
	EventPaymentProcessed:    {},
	EventPaymentRefunded:     {},
	EventNotificationSent:    {},
}

// Valid retorna true para os tipos da enumeração
func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// AggregateType identifica a entidade à qual o evento pertence
type AggregateType string

const (
	AggregateOrder        AggregateType = "ORDER"
	AggregateSaga         AggregateType = "SAGA"
	AggregateInventory    AggregateType = "INVENTORY"
	AggregatePayment      AggregateType = "PAYMENT"
	AggregateNotification AggregateType = "NOTIFICATION"
)

// Valid retorna true para os tipos de agregado conhecidos
func (t AggregateType) Valid() bool {
	switch t {
	case AggregateOrder, AggregateSaga, AggregateInventory, AggregatePayment, AggregateNotification:
		return true
	}
	return false
}

// Metadata acompanha cada evento
type Metadata struct {
	UserID        string    `json:"userId,omitempty"`
	CorrelationID string    `json:"correlationId"`
	CausationID   string    `json:"causationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Version       int       `json:"version"`
}

// Event é um registro imutável do log
type Event struct {
	EventID       string          `json:"eventId"`
	EventType     EventType       `json:"eventType"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType AggregateType   `json:"aggregateType"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      Metadata        `json:"metadata"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Append descreve um evento a ser gravado. Payload é serializado em JSON.
type Append struct {
	EventType     EventType
	AggregateID   string
	AggregateType AggregateType
	Payload       any
	UserID        string
	CorrelationID string
	CausationID   string
	Version       int
}

func (a Append) validate() error {
	if !a.EventType.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, a.EventType)
	}
	if !a.AggregateType.Valid() {
		return fmt.Errorf("%w: unknown aggregate type %q", ErrInvalidEvent, a.AggregateType)
	}
	if a.AggregateID == "" {
		return fmt.Errorf("%w: aggregate id is required", ErrInvalidEvent)
	}
	return nil
}

// Payloads tipados de cada evento

type OrderCreated struct {
	OrderID       string  `json:"orderId"`
	SagaID        string  `json:"sagaId"`
	UserID        string  `json:"userId"`
	ProductID     string  `json:"productId"`
	Quantity      int     `json:"quantity"`
	TotalAmount   float64 `json:"totalAmount"`
	PaymentMethod string  `json:"paymentMethod"`
	Status        string  `json:"status"`
}

// OrderStatusChanged é o payload de ORDER_UPDATED, ORDER_COMPLETED e ORDER_FAILED
type OrderStatusChanged struct {
	OrderID string `json:"orderId"`
	SagaID  string `json:"sagaId,omitempty"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type SagaStarted struct {
	SagaID  string   `json:"sagaId"`
	OrderID string   `json:"orderId"`
	Steps   []string `json:"steps"`
}

// SagaStep é o payload dos eventos SAGA_STEP_*
type SagaStep struct {
	SagaID  string          `json:"sagaId"`
	OrderID string          `json:"orderId"`
	Step    string          `json:"step"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SagaStatusChanged é o payload de SAGA_COMPLETED, SAGA_COMPENSATING, SAGA_COMPENSATED e SAGA_FAILED
type SagaStatusChanged struct {
	SagaID  string `json:"sagaId"`
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type InventoryReserved struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId"`
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
}

type InventoryReleased struct {
	OrderID       string `json:"orderId"`
	ReservationID string `json:"reservationId"`
	ProductID     string `json:"productId"`
	Quantity      int    `json:"quantity"`
}

type PaymentProcessed struct {
	OrderID       string  `json:"orderId"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	Status        string  `json:"status"`
}

type PaymentRefunded struct {
	OrderID       string  `json:"orderId"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
}

const (
	NotificationOrderConfirmation = "order-confirmation"
	NotificationOrderCancellation = "order-cancellation"
)

type NotificationSent struct {
	OrderID string `json:"orderId"`
	Kind    string `json:"kind"`
}

// Decode decodifica o payload no tipo correspondente ao EventType.
// Tipos sem payload tipado retornam (nil, nil).
func (e Event) Decode() (any, error) {
	var target any
	switch e.EventType {
	case EventOrderCreated:
		target = &OrderCreated{}
	case EventOrderUpdated, EventOrderCompleted, EventOrderFailed:
		target = &OrderStatusChanged{}
	case EventSagaStarted:
		target = &SagaStarted{}
	case EventSagaStepStarted, EventSagaStepCompleted, EventSagaStepFailed, EventSagaStepCompensated:
		target = &SagaStep{}
	case EventSagaCompleted, EventSagaCompensating, EventSagaCompensated, EventSagaFailed:
		target = &SagaStatusChanged{}
	case EventInventoryReserved:
		target = &InventoryReserved{}
	case EventInventoryReleased:
		target = &InventoryReleased{}
	case EventPaymentProcessed:
		target = &PaymentProcessed{}
	case EventPaymentRefunded:
		target = &PaymentRefunded{}
	case EventNotificationSent:
		target = &NotificationSent{}
	default:
		return nil, nil
	}

	if len(e.Payload) == 0 {
		return target, nil
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return target, nil
}
