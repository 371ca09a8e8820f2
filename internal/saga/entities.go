package saga

import (
	"encoding/json"
	"slices"
	"time"
)

// OrderStatus representa os possíveis status de um pedido
type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "PENDING"
	OrderStatusProcessing   OrderStatus = "PROCESSING"
	OrderStatusCompleted    OrderStatus = "COMPLETED"
	OrderStatusFailed       OrderStatus = "FAILED"
	OrderStatusCompensating OrderStatus = "COMPENSATING"
)

// DefaultPaymentMethod é usado quando o pedido não informa o meio de pagamento
const DefaultPaymentMethod = "credit_card"

// Order representa um pedido no sistema
type Order struct {
	OrderID       string      `json:"orderId"`
	UserID        string      `json:"userId"`
	ProductID     string      `json:"productId"`
	Quantity      int         `json:"quantity"`
	TotalAmount   float64     `json:"totalAmount"`
	PaymentMethod string      `json:"paymentMethod"`
	Status        OrderStatus `json:"status"`
	SagaID        string      `json:"sagaId"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// CreateOrderRequest é a entrada de CreateOrderSaga
type CreateOrderRequest struct {
	UserID        string  `json:"userId" validate:"required"`
	ProductID     string  `json:"productId" validate:"required"`
	Quantity      int     `json:"quantity" validate:"gt=0"`
	TotalAmount   float64 `json:"totalAmount" validate:"gte=0"`
	PaymentMethod string  `json:"paymentMethod"`
}

// CreateOrderResult é o retorno de CreateOrderSaga
type CreateOrderResult struct {
	SagaID  string      `json:"sagaId"`
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
}

// NewOrder cria um pedido em PROCESSING para a saga informada
func NewOrder(orderID, sagaID string, req CreateOrderRequest, now time.Time) *Order {
	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = DefaultPaymentMethod
	}
	return &Order{
		OrderID:       orderID,
		UserID:        req.UserID,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		TotalAmount:   req.TotalAmount,
		PaymentMethod: paymentMethod,
		Status:        OrderStatusProcessing,
		SagaID:        sagaID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// StepName identifica um passo da saga
type StepName string

const (
	StepCreateOrder      StepName = "CREATE_ORDER"
	StepReserveInventory StepName = "RESERVE_INVENTORY"
	StepProcessPayment   StepName = "PROCESS_PAYMENT"
	StepSendNotification StepName = "SEND_NOTIFICATION"
)

// StepOrder é a ordem fixa de execução; a compensação percorre o inverso
var StepOrder = []StepName{
	StepCreateOrder,
	StepReserveInventory,
	StepProcessPayment,
	StepSendNotification,
}

// StepStatus representa o status de um passo
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepSuccess     StepStatus = "SUCCESS"
	StepFailed      StepStatus = "FAILED"
	StepCompensated StepStatus = "COMPENSATED"
)

// Step é o registro de um passo da saga
type Step struct {
	Name          StepName        `json:"name"`
	Status        StepStatus      `json:"status"`
	ExecutedAt    *time.Time      `json:"executedAt,omitempty"`
	CompensatedAt *time.Time      `json:"compensatedAt,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// CurrentStep indica em que ponto a saga está
type CurrentStep string

const (
	CurrentStepStarted          CurrentStep = "STARTED"
	CurrentStepReserveInventory CurrentStep = "RESERVE_INVENTORY"
	CurrentStepProcessPayment   CurrentStep = "PROCESS_PAYMENT"
	CurrentStepSendNotification CurrentStep = "SEND_NOTIFICATION"
	CurrentStepCompleted        CurrentStep = "COMPLETED"
	CurrentStepCompensating     CurrentStep = "COMPENSATING"
	CurrentStepFailed           CurrentStep = "FAILED"
)

// SagaStatus representa o status geral da saga
type SagaStatus string

const (
	SagaInProgress   SagaStatus = "IN_PROGRESS"
	SagaCompleted    SagaStatus = "COMPLETED"
	SagaFailed       SagaStatus = "FAILED"
	SagaCompensating SagaStatus = "COMPENSATING"
	SagaCompensated  SagaStatus = "COMPENSATED"
)

// IsTerminal retorna true para status que não aceitam mais alterações
func (s SagaStatus) IsTerminal() bool {
	return s == SagaCompleted || s == SagaFailed || s == SagaCompensated
}

// SagaState é o estado persistido de uma saga
type SagaState struct {
	SagaID      string      `json:"sagaId"`
	OrderID     string      `json:"orderId"`
	CurrentStep CurrentStep `json:"currentStep"`
	Status      SagaStatus  `json:"status"`
	Steps       []Step      `json:"steps"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// NewSagaState cria uma saga com todos os passos PENDING
func NewSagaState(sagaID, orderID string, now time.Time) *SagaState {
	steps := make([]Step, 0, len(StepOrder))
	for _, name := range StepOrder {
		steps = append(steps, Step{Name: name, Status: StepPending})
	}
	return &SagaState{
		SagaID:      sagaID,
		OrderID:     orderID,
		CurrentStep: CurrentStepStarted,
		Status:      SagaInProgress,
		Steps:       steps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Step retorna o registro do passo, ou nil se a saga não o contém
func (s *SagaState) Step(name StepName) *Step {
	for i := range s.Steps {
		if s.Steps[i].Name == name {
			return &s.Steps[i]
		}
	}
	return nil
}

// Clone retorna uma cópia profunda do estado
func (s *SagaState) Clone() *SagaState {
	out := *s
	out.Steps = make([]Step, len(s.Steps))
	for i, step := range s.Steps {
		if step.ExecutedAt != nil {
			t := *step.ExecutedAt
			step.ExecutedAt = &t
		}
		if step.CompensatedAt != nil {
			t := *step.CompensatedAt
			step.CompensatedAt = &t
		}
		step.Data = slices.Clone(step.Data)
		out.Steps[i] = step
	}
	return &out
}

// nextCurrentStep retorna o currentStep depois que name conclui com sucesso
func nextCurrentStep(name StepName) CurrentStep {
	idx := slices.Index(StepOrder, name)
	if idx >= 0 && idx+1 < len(StepOrder) {
		return CurrentStep(StepOrder[idx+1])
	}
	return CurrentStep(name)
}
