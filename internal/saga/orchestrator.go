package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/matheusmosca/order-saga-orchestrator/internal/downstream"
	"github.com/matheusmosca/order-saga-orchestrator/internal/eventstore"
	"github.com/matheusmosca/order-saga-orchestrator/internal/metrics"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Inventory é o serviço de estoque visto pela saga
type Inventory interface {
	Reserve(ctx context.Context, req downstream.ReserveRequest) (*downstream.Reservation, error)
	Release(ctx context.Context, req downstream.ReleaseRequest) error
}

// Payments é o serviço de pagamentos visto pela saga
type Payments interface {
	Process(ctx context.Context, req downstream.PaymentRequest) (*downstream.Payment, error)
	Refund(ctx context.Context, req downstream.RefundRequest) error
}

// Notifier é o serviço de notificações visto pela saga
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, orderID string) error
	SendOrderCancellation(ctx context.Context, orderID string) error
}

// EventRecorder grava os eventos da saga
type EventRecorder interface {
	StoreEvent(ctx context.Context, in eventstore.Append) (*eventstore.Event, error)
}

// DeadLetterQueue recebe as sagas cuja compensação falhou
type DeadLetterQueue interface {
	Push(ctx context.Context, payload any, cause error) error
}

// DeadLetter é o registro enviado à DLQ para remediação manual
type DeadLetter struct {
	SagaID            string `json:"sagaId"`
	OrderID           string `json:"orderId"`
	Cause             string `json:"cause"`
	CompensationError string `json:"compensationError"`
	Steps             []Step `json:"steps"`
}

// Dependencies agrupa os colaboradores do Orchestrator.
// DeadLetters, Metrics e Tracer são opcionais.
type Dependencies struct {
	Orders      OrderRepository
	States      StateRepository
	Events      EventRecorder
	Inventory   Inventory
	Payments    Payments
	Notifier    Notifier
	DeadLetters DeadLetterQueue
	Metrics     *metrics.SagaMetrics
	Tracer      trace.Tracer
	Logger      zerolog.Logger
}

// Orchestrator executa a saga de criação de pedidos: passos em sequência e,
// em caso de falha, compensação dos passos concluídos em ordem inversa.
// Todo o estado é lido dos repositórios; nada é mantido em memória entre chamadas.
type Orchestrator struct {
	orders      OrderRepository
	states      StateRepository
	events      EventRecorder
	inventory   Inventory
	payments    Payments
	notifier    Notifier
	deadLetters DeadLetterQueue
	metrics     *metrics.SagaMetrics
	tracer      trace.Tracer
	logger      zerolog.Logger
	validate    *validator.Validate

	now   func() time.Time
	newID func() string
}

// NewOrchestrator cria uma nova instância do orquestrador
func NewOrchestrator(deps Dependencies) *Orchestrator {
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("saga-orchestrator")
	}
	return &Orchestrator{
		orders:      deps.Orders,
		states:      deps.States,
		events:      deps.Events,
		inventory:   deps.Inventory,
		payments:    deps.Payments,
		notifier:    deps.Notifier,
		deadLetters: deps.DeadLetters,
		metrics:     deps.Metrics,
		tracer:      tracer,
		logger:      deps.Logger.With().Str("component", "saga_orchestrator").Logger(),
		validate:    validator.New(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// CreateOrderSaga grava o pedido e a saga e executa a saga de forma síncrona.
// Falhas de execução são registradas e não retornadas: o chamador sempre recebe
// os ids com status PROCESSING e consulta o resultado via GetSagaStatus.
func (o *Orchestrator) CreateOrderSaga(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if err := o.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	ctx = context.WithoutCancel(ctx)

	sagaID := o.newID()
	orderID := "ORD-" + o.newID()
	now := o.now()

	ctx, span := o.startSagaSpan(ctx, "create_order_saga", sagaID, orderID)
	defer span.End()

	logger := o.logger.With().Str("saga_id", sagaID).Str("order_id", orderID).Logger()
	logger.Info().
		Str("user_id", req.UserID).
		Str("product_id", req.ProductID).
		Int("quantity", req.Quantity).
		Msg("🚀 Starting SAGA")

	order := NewOrder(orderID, sagaID, req, now)
	if err := o.orders.CreateOrder(ctx, order); err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	state := NewSagaState(sagaID, orderID, now)
	if err := o.states.CreateSaga(ctx, state); err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to create saga state: %w", err)
	}

	err := o.emit(ctx,
		orderEvent(state, order, eventstore.EventOrderCreated, eventstore.OrderCreated{
			OrderID:       order.OrderID,
			SagaID:        sagaID,
			UserID:        order.UserID,
			ProductID:     order.ProductID,
			Quantity:      order.Quantity,
			TotalAmount:   order.TotalAmount,
			PaymentMethod: order.PaymentMethod,
			Status:        string(order.Status),
		}),
		sagaEvent(state, order, eventstore.EventSagaStarted, eventstore.SagaStarted{
			SagaID:  sagaID,
			OrderID: orderID,
			Steps:   stepNames(),
		}),
	)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	o.metrics.SagaStarted()

	if err := o.ExecuteSaga(ctx, sagaID); err != nil {
		recordSpanError(span, err)
		logger.Error().Err(err).Msg("❌ SAGA execution failed")
	}

	return &CreateOrderResult{
		SagaID:  sagaID,
		OrderID: orderID,
		Status:  OrderStatusProcessing,
	}, nil
}

// ExecuteSaga executa os passos pendentes da saga em ordem.
// Passos já em SUCCESS são pulados, o que permite retomar uma saga interrompida.
func (o *Orchestrator) ExecuteSaga(ctx context.Context, sagaID string) error {
	ctx = context.WithoutCancel(ctx)

	state, err := o.states.GetSaga(ctx, sagaID)
	if err != nil {
		return err
	}
	if state.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrSagaTerminal, sagaID, state.Status)
	}

	ctx, span := o.startSagaSpan(ctx, "execute_saga", sagaID, state.OrderID)
	defer span.End()

	order, err := o.orders.GetOrder(ctx, state.OrderID)
	if err != nil {
		recordSpanError(span, err)
		return err
	}

	if state.Status == SagaCompensating {
		return o.compensate(ctx, state, order, errors.New("resuming interrupted compensation"))
	}

	logger := o.logger.With().Str("saga_id", sagaID).Str("order_id", order.OrderID).Logger()

	for _, name := range StepOrder {
		step := state.Step(name)
		if step == nil {
			return fmt.Errorf("%w: %s missing from saga %s", ErrUnknownStep, name, sagaID)
		}

		var stepErr error
		switch step.Status {
		case StepSuccess:
			continue
		case StepFailed:
			stepErr = fmt.Errorf("step %s previously failed: %s", name, step.Error)
		default:
			stepErr = o.executeStep(ctx, state, order, name)
		}
		if stepErr == nil {
			continue
		}

		recordSpanError(span, stepErr)
		logger.Error().Err(stepErr).Str("step", string(name)).Msg("❌ SAGA step failed, starting compensation")
		if err := o.compensate(ctx, state, order, stepErr); err != nil {
			return fmt.Errorf("step %s failed: %w (compensation: %v)", name, stepErr, err)
		}
		return fmt.Errorf("step %s failed: %w", name, stepErr)
	}

	now := o.now()
	state.Status = SagaCompleted
	state.CurrentStep = CurrentStepCompleted
	state.UpdatedAt = now
	if err := o.states.SaveSaga(ctx, state); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to complete saga: %w", err)
	}
	if err := o.orders.UpdateOrderStatus(ctx, order.OrderID, OrderStatusCompleted); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to complete order: %w", err)
	}

	err = o.emit(ctx,
		sagaEvent(state, order, eventstore.EventSagaCompleted, eventstore.SagaStatusChanged{
			SagaID:  sagaID,
			OrderID: order.OrderID,
			Status:  string(SagaCompleted),
		}),
		orderEvent(state, order, eventstore.EventOrderCompleted, eventstore.OrderStatusChanged{
			OrderID: order.OrderID,
			SagaID:  sagaID,
			Status:  string(OrderStatusCompleted),
		}),
	)
	if err != nil {
		recordSpanError(span, err)
		return err
	}

	o.metrics.SagaFinished(metrics.OutcomeCompleted, now.Sub(state.CreatedAt))
	logger.Info().Msg("✅ SAGA completed successfully")
	return nil
}

// executeStep executa um passo e grava o resultado. Nunca compensa.
func (o *Orchestrator) executeStep(ctx context.Context, state *SagaState, order *Order, name StepName) error {
	action, err := o.action(name)
	if err != nil {
		return err
	}

	ctx, span := o.startStepSpan(ctx, "step", name, state)
	defer span.End()

	logger := o.logger.With().Str("saga_id", state.SagaID).Str("step", string(name)).Logger()
	logger.Info().Msgf("➡️ [%s] OrderID: %s", name, order.OrderID)

	if err := o.emit(ctx, sagaEvent(state, order, eventstore.EventSagaStepStarted, eventstore.SagaStep{
		SagaID:  state.SagaID,
		OrderID: order.OrderID,
		Step:    string(name),
	})); err != nil {
		recordSpanError(span, err)
		return err
	}

	outcome, actionErr := action(ctx, state, order)
	now := o.now()
	step := state.Step(name)

	if actionErr != nil {
		recordSpanError(span, actionErr)
		o.metrics.StepFailed(string(name))

		step.Status = StepFailed
		step.Error = actionErr.Error()
		state.UpdatedAt = now

		errs := []error{actionErr}
		if err := o.states.SaveSaga(ctx, state); err != nil {
			errs = append(errs, fmt.Errorf("failed to persist step failure: %w", err))
		}
		if err := o.emit(ctx, sagaEvent(state, order, eventstore.EventSagaStepFailed, eventstore.SagaStep{
			SagaID:  state.SagaID,
			OrderID: order.OrderID,
			Step:    string(name),
			Error:   actionErr.Error(),
		})); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	data, err := json.Marshal(outcome.data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s data: %w", name, err)
	}

	step.Status = StepSuccess
	step.Data = data
	step.Error = ""
	step.ExecutedAt = &now
	state.CurrentStep = nextCurrentStep(name)
	state.UpdatedAt = now
	if err := o.states.SaveSaga(ctx, state); err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to persist step %s: %w", name, err)
	}

	events := []eventstore.Append{
		sagaEvent(state, order, eventstore.EventSagaStepCompleted, eventstore.SagaStep{
			SagaID:  state.SagaID,
			OrderID: order.OrderID,
			Step:    string(name),
			Data:    data,
		}),
	}
	if outcome.event != nil {
		events = append(events, *outcome.event)
	}
	if err := o.emit(ctx, events...); err != nil {
		recordSpanError(span, err)
		return err
	}

	logger.Info().Msgf("✅ [%s] completed", name)
	return nil
}

// CompensateSaga desfaz os passos concluídos da saga em ordem inversa
func (o *Orchestrator) CompensateSaga(ctx context.Context, sagaID string, cause error) error {
	ctx = context.WithoutCancel(ctx)

	state, err := o.states.GetSaga(ctx, sagaID)
	if err != nil {
		return err
	}
	if state.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrSagaTerminal, sagaID, state.Status)
	}
	order, err := o.orders.GetOrder(ctx, state.OrderID)
	if err != nil {
		return err
	}
	return o.compensate(ctx, state, order, cause)
}

func (o *Orchestrator) compensate(ctx context.Context, state *SagaState, order *Order, cause error) error {
	ctx, span := o.startSagaSpan(ctx, "compensate_saga", state.SagaID, order.OrderID)
	defer span.End()

	logger := o.logger.With().Str("saga_id", state.SagaID).Str("order_id", order.OrderID).Logger()
	logger.Warn().Err(cause).Msg("↩️ Starting SAGA compensation")

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	state.Status = SagaCompensating
	state.CurrentStep = CurrentStepCompensating
	state.UpdatedAt = o.now()

	// erros de gravação não decidem o desfecho: só as compensações remotas decidem
	var bookkeeping []error
	if err := o.states.SaveSaga(ctx, state); err != nil {
		bookkeeping = append(bookkeeping, fmt.Errorf("failed to persist compensating state: %w", err))
	}
	if err := o.orders.UpdateOrderStatus(ctx, order.OrderID, OrderStatusCompensating); err != nil {
		bookkeeping = append(bookkeeping, err)
	}
	if err := o.emit(ctx,
		sagaEvent(state, order, eventstore.EventSagaCompensating, eventstore.SagaStatusChanged{
			SagaID:  state.SagaID,
			OrderID: order.OrderID,
			Status:  string(SagaCompensating),
			Reason:  reason,
		}),
		orderEvent(state, order, eventstore.EventOrderUpdated, eventstore.OrderStatusChanged{
			OrderID: order.OrderID,
			SagaID:  state.SagaID,
			Status:  string(OrderStatusCompensating),
			Reason:  reason,
		}),
	); err != nil {
		bookkeeping = append(bookkeeping, err)
	}

	var compErr error
	notified := false
	for i := len(StepOrder) - 1; i >= 0; i-- {
		step := state.Step(StepOrder[i])
		if step == nil || step.Status != StepSuccess {
			continue
		}
		err, recordErr := o.compensateStep(ctx, state, order, step)
		if recordErr != nil {
			bookkeeping = append(bookkeeping, recordErr)
		}
		if err != nil {
			// os passos restantes ficam SUCCESS para remediação manual
			compErr = err
			break
		}
		if step.Name == StepSendNotification {
			notified = true
		}
	}

	// o cliente é avisado do cancelamento uma única vez
	if compErr == nil && !notified {
		compErr = o.notifyCancellation(ctx, state, order)
	}

	if compErr != nil {
		compErr = errors.Join(append([]error{compErr}, bookkeeping...)...)
		recordSpanError(span, compErr)
		o.fail(ctx, state, order, reason, compErr)
		return fmt.Errorf("%w: %v", ErrCompensationFailed, compErr)
	}

	now := o.now()
	state.Status = SagaCompensated
	state.UpdatedAt = now
	errs := bookkeeping
	if err := o.states.SaveSaga(ctx, state); err != nil {
		errs = append(errs, fmt.Errorf("failed to persist compensated state: %w", err))
	}
	if err := o.orders.UpdateOrderStatus(ctx, order.OrderID, OrderStatusFailed); err != nil {
		errs = append(errs, err)
	}
	if err := o.emit(ctx,
		sagaEvent(state, order, eventstore.EventSagaCompensated, eventstore.SagaStatusChanged{
			SagaID:  state.SagaID,
			OrderID: order.OrderID,
			Status:  string(SagaCompensated),
			Reason:  reason,
		}),
		orderEvent(state, order, eventstore.EventOrderFailed, eventstore.OrderStatusChanged{
			OrderID: order.OrderID,
			SagaID:  state.SagaID,
			Status:  string(OrderStatusFailed),
			Reason:  reason,
		}),
	); err != nil {
		errs = append(errs, err)
	}

	o.metrics.SagaFinished(metrics.OutcomeCompensated, now.Sub(state.CreatedAt))
	if len(errs) > 0 {
		err := errors.Join(errs...)
		recordSpanError(span, err)
		return err
	}

	logger.Info().Msg("♻️ SAGA compensated")
	return nil
}

// compensateStep desfaz um passo concluído e grava o resultado.
// err é a falha da compensação em si; recordErr é uma falha ao gravar
// uma compensação que já foi feita.
func (o *Orchestrator) compensateStep(ctx context.Context, state *SagaState, order *Order, step *Step) (err, recordErr error) {
	compensation, err := o.compensator(step.Name)
	if err != nil {
		return err, nil
	}

	ctx, span := o.startStepSpan(ctx, "compensate", step.Name, state)
	defer span.End()

	logger := o.logger.With().Str("saga_id", state.SagaID).Str("step", string(step.Name)).Logger()
	logger.Info().Msgf("↩️ [COMPENSATE %s] OrderID: %s", step.Name, order.OrderID)

	event, err := compensation(ctx, state, order, step)
	if err != nil {
		recordSpanError(span, err)
		step.Error = "compensation failed: " + err.Error()
		logger.Error().Err(err).Msgf("❌ Failed to compensate %s", step.Name)
		return fmt.Errorf("failed to compensate %s: %w", step.Name, err), nil
	}

	now := o.now()
	step.Status = StepCompensated
	step.CompensatedAt = &now
	state.UpdatedAt = now

	var errs []error
	if err := o.states.SaveSaga(ctx, state); err != nil {
		errs = append(errs, fmt.Errorf("failed to persist compensation of %s: %w", step.Name, err))
	}

	events := []eventstore.Append{
		sagaEvent(state, order, eventstore.EventSagaStepCompensated, eventstore.SagaStep{
			SagaID:  state.SagaID,
			OrderID: order.OrderID,
			Step:    string(step.Name),
		}),
	}
	if event != nil {
		events = append(events, *event)
	}
	if err := o.emit(ctx, events...); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		recordErr = errors.Join(errs...)
		recordSpanError(span, recordErr)
		return nil, recordErr
	}

	logger.Info().Msgf("♻️ [%s] compensated", step.Name)
	return nil, nil
}

func (o *Orchestrator) notifyCancellation(ctx context.Context, state *SagaState, order *Order) error {
	if err := o.notifier.SendOrderCancellation(ctx, order.OrderID); err != nil {
		o.logger.Error().Err(err).Str("saga_id", state.SagaID).Msg("❌ Failed to send order cancellation")
		return fmt.Errorf("failed to send order cancellation: %w", err)
	}
	return o.emit(ctx, notificationEvent(state, order, eventstore.NotificationOrderCancellation))
}

// fail leva a saga ao estado terminal FAILED e envia o registro para a DLQ.
// Erros aqui são apenas registrados: a saga já está em falha.
func (o *Orchestrator) fail(ctx context.Context, state *SagaState, order *Order, reason string, compErr error) {
	logger := o.logger.With().Str("saga_id", state.SagaID).Str("order_id", order.OrderID).Logger()
	logger.Error().Err(compErr).Msg("❌ SAGA compensation failed, manual intervention required")

	now := o.now()
	state.Status = SagaFailed
	state.CurrentStep = CurrentStepFailed
	state.UpdatedAt = now
	if err := o.states.SaveSaga(ctx, state); err != nil {
		logger.Error().Err(err).Msg("failed to persist FAILED saga")
	}
	if err := o.orders.UpdateOrderStatus(ctx, order.OrderID, OrderStatusFailed); err != nil {
		logger.Error().Err(err).Msg("failed to mark order as FAILED")
	}
	if err := o.emit(ctx,
		sagaEvent(state, order, eventstore.EventSagaFailed, eventstore.SagaStatusChanged{
			SagaID:  state.SagaID,
			OrderID: order.OrderID,
			Status:  string(SagaFailed),
			Reason:  compErr.Error(),
		}),
		orderEvent(state, order, eventstore.EventOrderFailed, eventstore.OrderStatusChanged{
			OrderID: order.OrderID,
			SagaID:  state.SagaID,
			Status:  string(OrderStatusFailed),
			Reason:  reason,
		}),
	); err != nil {
		logger.Error().Err(err).Msg("failed to record saga failure")
	}
	o.metrics.SagaFinished(metrics.OutcomeFailed, now.Sub(state.CreatedAt))

	if o.deadLetters == nil {
		return
	}
	letter := DeadLetter{
		SagaID:            state.SagaID,
		OrderID:           order.OrderID,
		Cause:             reason,
		CompensationError: compErr.Error(),
		Steps:             state.Clone().Steps,
	}
	if err := o.deadLetters.Push(ctx, letter, compErr); err != nil {
		logger.Error().Err(err).Msg("failed to push saga to dead letter queue")
	}
}

// GetSagaStatus retorna o estado atual da saga
func (o *Orchestrator) GetSagaStatus(ctx context.Context, sagaID string) (*SagaState, error) {
	return o.states.GetSaga(ctx, sagaID)
}

// GetOrder retorna o pedido
func (o *Orchestrator) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return o.orders.GetOrder(ctx, orderID)
}

func (o *Orchestrator) emit(ctx context.Context, events ...eventstore.Append) error {
	for _, e := range events {
		if _, err := o.events.StoreEvent(ctx, e); err != nil {
			return fmt.Errorf("failed to record %s: %w", e.EventType, err)
		}
	}
	return nil
}

func sagaEvent(state *SagaState, order *Order, eventType eventstore.EventType, payload any) eventstore.Append {
	return eventstore.Append{
		EventType:     eventType,
		AggregateID:   state.SagaID,
		AggregateType: eventstore.AggregateSaga,
		Payload:       payload,
		UserID:        order.UserID,
		CorrelationID: state.SagaID,
	}
}

func orderEvent(state *SagaState, order *Order, eventType eventstore.EventType, payload any) eventstore.Append {
	return domainEvent(state, order, eventType, eventstore.AggregateOrder, payload)
}

// domainEvent cria um evento do pedido; eventos dos serviços usam o orderId como agregado
func domainEvent(state *SagaState, order *Order, eventType eventstore.EventType, aggregateType eventstore.AggregateType, payload any) eventstore.Append {
	return eventstore.Append{
		EventType:     eventType,
		AggregateID:   order.OrderID,
		AggregateType: aggregateType,
		Payload:       payload,
		UserID:        order.UserID,
		CorrelationID: state.SagaID,
	}
}

func notificationEvent(state *SagaState, order *Order, kind string) eventstore.Append {
	return domainEvent(state, order, eventstore.EventNotificationSent, eventstore.AggregateNotification, eventstore.NotificationSent{
		OrderID: order.OrderID,
		Kind:    kind,
	})
}

func stepNames() []string {
	names := make([]string, 0, len(StepOrder))
	for _, name := range StepOrder {
		names = append(names, string(name))
	}
	return names
}
