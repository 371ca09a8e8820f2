package eventstore

import (
	"slices"
	"time"
)

// AggregateState é a visão reconstruída de um agregado a partir dos seus eventos
type AggregateState struct {
	AggregateID string `json:"aggregateId"`
	Version     int    `json:"version"`

	OrderID       string  `json:"orderId,omitempty"`
	UserID        string  `json:"userId,omitempty"`
	ProductID     string  `json:"productId,omitempty"`
	Quantity      int     `json:"quantity,omitempty"`
	TotalAmount   float64 `json:"totalAmount,omitempty"`
	PaymentMethod string  `json:"paymentMethod,omitempty"`
	Status        string  `json:"status,omitempty"`
	FailureReason string  `json:"failureReason,omitempty"`

	SagaID           string   `json:"sagaId,omitempty"`
	SagaStatus       string   `json:"sagaStatus,omitempty"`
	CurrentStep      string   `json:"currentStep,omitempty"`
	CompletedSteps   []string `json:"completedSteps,omitempty"`
	CompensatedSteps []string `json:"compensatedSteps,omitempty"`
	FailedStep       string   `json:"failedStep,omitempty"`
	StepError        string   `json:"stepError,omitempty"`

	ReservationID     string `json:"reservationId,omitempty"`
	InventoryReleased bool   `json:"inventoryReleased,omitempty"`
	TransactionID     string `json:"transactionId,omitempty"`
	PaymentRefunded   bool   `json:"paymentRefunded,omitempty"`
	ConfirmationSent  bool   `json:"confirmationSent,omitempty"`
	CancellationSent  bool   `json:"cancellationSent,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Rebuild aplica os eventos em ordem a partir do estado vazio
func Rebuild(aggregateID string, events []Event) AggregateState {
	state := AggregateState{AggregateID: aggregateID}
	for _, event := range events {
		state = Apply(state, event)
	}
	return state
}

// Apply retorna o estado resultante de aplicar event sobre state.
// É uma função pura: state não é alterado e os slices são copiados.
// Eventos de tipo desconhecido ou com payload inválido não alteram o estado.
func Apply(state AggregateState, event Event) AggregateState {
	payload, err := event.Decode()
	if err != nil || payload == nil {
		return state
	}

	switch p := payload.(type) {
	case *OrderCreated:
		state.OrderID = p.OrderID
		state.SagaID = p.SagaID
		state.UserID = p.UserID
		state.ProductID = p.ProductID
		state.Quantity = p.Quantity
		state.TotalAmount = p.TotalAmount
		state.PaymentMethod = p.PaymentMethod
		state.Status = p.Status
		if state.Status == "" {
			state.Status = "PENDING"
		}
		state.CreatedAt = event.CreatedAt

	case *OrderStatusChanged:
		if p.Status != "" {
			state.Status = p.Status
		}
		switch event.EventType {
		case EventOrderCompleted:
			state.Status = "COMPLETED"
			completedAt := event.CreatedAt
			state.CompletedAt = &completedAt
		case EventOrderFailed:
			state.Status = "FAILED"
			state.FailureReason = p.Reason
		}

	case *SagaStarted:
		state.SagaID = p.SagaID
		state.OrderID = p.OrderID
		state.SagaStatus = "IN_PROGRESS"
		state.CurrentStep = "STARTED"
		state.CreatedAt = event.CreatedAt

	case *SagaStep:
		switch event.EventType {
		case EventSagaStepStarted:
			state.CurrentStep = p.Step
		case EventSagaStepCompleted:
			state.CurrentStep = p.Step
			state.CompletedSteps = appendCopy(state.CompletedSteps, p.Step)
		case EventSagaStepFailed:
			state.FailedStep = p.Step
			state.StepError = p.Error
		case EventSagaStepCompensated:
			state.CompensatedSteps = appendCopy(state.CompensatedSteps, p.Step)
		}

	case *SagaStatusChanged:
		state.SagaStatus = p.Status
		switch event.EventType {
		case EventSagaCompleted:
			state.SagaStatus = "COMPLETED"
			state.CurrentStep = "COMPLETED"
			completedAt := event.CreatedAt
			state.CompletedAt = &completedAt
		case EventSagaCompensating:
			state.SagaStatus = "COMPENSATING"
			state.CurrentStep = "COMPENSATING"
		case EventSagaCompensated:
			state.SagaStatus = "COMPENSATED"
		case EventSagaFailed:
			state.SagaStatus = "FAILED"
			state.CurrentStep = "FAILED"
			state.FailureReason = p.Reason
		}

	case *InventoryReserved:
		state.OrderID = p.OrderID
		state.ReservationID = p.ReservationID

	case *InventoryReleased:
		state.InventoryReleased = true

	case *PaymentProcessed:
		state.OrderID = p.OrderID
		state.TransactionID = p.TransactionID

	case *PaymentRefunded:
		state.PaymentRefunded = true

	case *NotificationSent:
		switch p.Kind {
		case NotificationOrderConfirmation:
			state.ConfirmationSent = true
		case NotificationOrderCancellation:
			state.CancellationSent = true
		}

	default:
		return state
	}

	state.Version++
	state.UpdatedAt = event.CreatedAt
	return state
}

func appendCopy(s []string, v string) []string {
	out := slices.Clone(s)
	return append(out, v)
}
