package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheusmosca/order-saga-orchestrator/internal/downstream"
	"github.com/matheusmosca/order-saga-orchestrator/internal/eventstore"
	"github.com/matheusmosca/order-saga-orchestrator/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockInventory simula o serviço de estoque
type MockInventory struct {
	mock.Mock
}

func (m *MockInventory) Reserve(ctx context.Context, req downstream.ReserveRequest) (*downstream.Reservation, error) {
	args := m.Called(ctx, req)
	reservation, _ := args.Get(0).(*downstream.Reservation)
	return reservation, args.Error(1)
}

func (m *MockInventory) Release(ctx context.Context, req downstream.ReleaseRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// MockPayments simula o serviço de pagamentos
type MockPayments struct {
	mock.Mock
}

func (m *MockPayments) Process(ctx context.Context, req downstream.PaymentRequest) (*downstream.Payment, error) {
	args := m.Called(ctx, req)
	payment, _ := args.Get(0).(*downstream.Payment)
	return payment, args.Error(1)
}

func (m *MockPayments) Refund(ctx context.Context, req downstream.RefundRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// MockNotifier simula o serviço de notificações
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendOrderConfirmation(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *MockNotifier) SendOrderCancellation(ctx context.Context, orderID string) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

// MockDeadLetters simula a DLQ
type MockDeadLetters struct {
	mock.Mock
}

func (m *MockDeadLetters) Push(ctx context.Context, payload any, cause error) error {
	args := m.Called(ctx, payload, cause)
	return args.Error(0)
}

type harness struct {
	orchestrator *Orchestrator
	repo         *MemoryRepository
	events       *eventstore.Store
	inventory    *MockInventory
	payments     *MockPayments
	notifier     *MockNotifier
	deadLetters  *MockDeadLetters
	metrics      *metrics.SagaMetrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		repo:        NewMemoryRepository(),
		events:      eventstore.NewStore(eventstore.NewMemoryLog(), nil, zerolog.Nop()),
		inventory:   &MockInventory{},
		payments:    &MockPayments{},
		notifier:    &MockNotifier{},
		deadLetters: &MockDeadLetters{},
		metrics:     metrics.NewSagaMetrics(prometheus.NewRegistry()),
	}
	h.orchestrator = NewOrchestrator(Dependencies{
		Orders:      h.repo,
		States:      h.repo,
		Events:      h.events,
		Inventory:   h.inventory,
		Payments:    h.payments,
		Notifier:    h.notifier,
		DeadLetters: h.deadLetters,
		Metrics:     h.metrics,
		Logger:      zerolog.Nop(),
	})

	var (
		mu  sync.Mutex
		seq int
	)
	h.orchestrator.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return h
}

func exampleRequest() CreateOrderRequest {
	return CreateOrderRequest{
		UserID:        "user123",
		ProductID:     "prod456",
		Quantity:      2,
		TotalAmount:   99.98,
		PaymentMethod: "credit_card",
	}
}

func (h *harness) expectReserve() {
	h.inventory.On("Reserve", mock.Anything, mock.MatchedBy(func(req downstream.ReserveRequest) bool {
		return req.ProductID == "prod456" && req.Quantity == 2
	})).Return(&downstream.Reservation{
		Success:       true,
		ReservationID: "RES-1",
		ProductID:     "prod456",
		Quantity:      2,
	}, nil).Once()
}

func (h *harness) expectPayment() {
	h.payments.On("Process", mock.Anything, mock.MatchedBy(func(req downstream.PaymentRequest) bool {
		return req.TotalAmount == 99.98 && req.PaymentMethod == "credit_card" && req.UserID == "user123"
	})).Return(&downstream.Payment{
		Success:       true,
		TransactionID: "TXN-1",
		Amount:        99.98,
		Status:        "COMPLETED",
	}, nil).Once()
}

func (h *harness) assertExpectations(t *testing.T) {
	t.Helper()
	h.inventory.AssertExpectations(t)
	h.payments.AssertExpectations(t)
	h.notifier.AssertExpectations(t)
	h.deadLetters.AssertExpectations(t)
}

func eventTypes(events []eventstore.Event) []eventstore.EventType {
	out := make([]eventstore.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.EventType)
	}
	return out
}

func stepStatuses(state *SagaState) map[StepName]StepStatus {
	out := make(map[StepName]StepStatus, len(state.Steps))
	for _, step := range state.Steps {
		out[step.Name] = step.Status
	}
	return out
}

func TestCreateOrderSaga_CompletesAllSteps(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	h.expectReserve()
	h.expectPayment()
	h.notifier.On("SendOrderConfirmation", mock.Anything, "ORD-id-2").Return(nil).Once()

	// Act
	result, err := h.orchestrator.CreateOrderSaga(ctx, exampleRequest())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "id-1", result.SagaID)
	assert.Equal(t, "ORD-id-2", result.OrderID)
	assert.Equal(t, OrderStatusProcessing, result.Status)

	state, err := h.orchestrator.GetSagaStatus(ctx, result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, SagaCompleted, state.Status)
	assert.Equal(t, CurrentStepCompleted, state.CurrentStep)
	for _, step := range state.Steps {
		assert.Equal(t, StepSuccess, step.Status, step.Name)
		assert.NotNil(t, step.ExecutedAt, step.Name)
		assert.Nil(t, step.CompensatedAt, step.Name)
	}

	var reservation ReservationData
	require.NoError(t, json.Unmarshal(state.Step(StepReserveInventory).Data, &reservation))
	assert.Equal(t, "RES-1", reservation.ReservationID)

	var payment PaymentData
	require.NoError(t, json.Unmarshal(state.Step(StepProcessPayment).Data, &payment))
	assert.Equal(t, "TXN-1", payment.TransactionID)
	assert.Equal(t, 99.98, payment.Amount)

	order, err := h.orchestrator.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusCompleted, order.Status)
	assert.Equal(t, result.SagaID, order.SagaID)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Sagas.WithLabelValues(metrics.OutcomeStarted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Sagas.WithLabelValues(metrics.OutcomeCompleted)))
	h.payments.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
	h.inventory.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	h.assertExpectations(t)
}

func TestCreateOrderSaga_RecordsLifecycleEvents(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	h.expectReserve()
	h.expectPayment()
	h.notifier.On("SendOrderConfirmation", mock.Anything, mock.Anything).Return(nil).Once()

	// Act
	result, err := h.orchestrator.CreateOrderSaga(ctx, exampleRequest())
	require.NoError(t, err)

	// Assert
	sagaEvents, err := h.events.GetEventsByAggregateID(ctx, result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, []eventstore.EventType{
		eventstore.EventSagaStarted,
		eventstore.EventSagaStepStarted, eventstore.EventSagaStepCompleted,
		eventstore.EventSagaStepStarted, eventstore.EventSagaStepCompleted,
		eventstore.EventSagaStepStarted, eventstore.EventSagaStepCompleted,
		eventstore.EventSagaStepStarted, eventstore.EventSagaStepCompleted,
		eventstore.EventSagaCompleted,
	}, eventTypes(sagaEvents))
	for _, e := range sagaEvents {
		assert.Equal(t, result.SagaID, e.Metadata.CorrelationID)
		assert.Equal(t, "user123", e.Metadata.UserID)
	}

	orderEvents, err := h.events.GetEventsByAggregateID(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, []eventstore.EventType{
		eventstore.EventOrderCreated,
		eventstore.EventInventoryReserved,
		eventstore.EventPaymentProcessed,
		eventstore.EventNotificationSent,
		eventstore.EventOrderCompleted,
	}, eventTypes(orderEvents))

	order, err := h.events.RebuildAggregateState(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", order.Status)
	assert.Equal(t, "RES-1", order.ReservationID)
	assert.Equal(t, "TXN-1", order.TransactionID)
	assert.True(t, order.ConfirmationSent)
	assert.False(t, order.CancellationSent)
	assert.NotNil(t, order.CompletedAt)

	saga, err := h.events.RebuildAggregateState(ctx, result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", saga.SagaStatus)
	assert.Equal(t, []string{"CREATE_ORDER", "RESERVE_INVENTORY", "PROCESS_PAYMENT", "SEND_NOTIFICATION"}, saga.CompletedSteps)
}

func TestCreateOrderSaga_PaymentFailureCompensates(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	h.expectReserve()
	h.payments.On("Process", mock.Anything, mock.Anything).Return(nil, errors.New("payment declined")).Once()
	h.inventory.On("Release", mock.Anything, downstream.ReleaseRequest{
		OrderID:       "ORD-id-2",
		ReservationID: "RES-1",
		ProductID:     "prod456",
		Quantity:      2,
	}).Return(nil).Once()
	h.notifier.On("SendOrderCancellation", mock.Anything, "ORD-id-2").Return(nil).Once()

	// Act
	result, err := h.orchestrator.CreateOrderSaga(ctx, exampleRequest())

	// Assert
	require.NoError(t, err, "execution failures are not returned to the caller")
	assert.Equal(t, OrderStatusProcessing, result.Status)

	state, err := h.orchestrator.GetSagaStatus(ctx, result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, SagaCompensated, state.Status)
	assert.Equal(t, map[StepName]StepStatus{
		StepCreateOrder:      StepCompensated,
		StepReserveInventory: StepCompensated,
		StepProcessPayment:   StepFailed,
		StepSendNotification: StepPending,
	}, stepStatuses(state))
	assert.Equal(t, "payment declined", state.Step(StepProcessPayment).Error)
	assert.NotNil(t, state.Step(StepReserveInventory).CompensatedAt)

	order, err := h.orchestrator.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFailed, order.Status)

	rebuilt, err := h.events.RebuildAggregateState(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "FAILED", rebuilt.Status)
	assert.Equal(t, "payment declined", rebuilt.FailureReason)
	assert.True(t, rebuilt.InventoryReleased)
	assert.True(t, rebuilt.CancellationSent)
	assert.False(t, rebuilt.PaymentRefunded)

	orderEvents, err := h.events.GetEventsByAggregateID(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, []eventstore.EventType{
		eventstore.EventOrderCreated,
		eventstore.EventInventoryReserved,
		eventstore.EventOrderUpdated,
		eventstore.EventInventoryReleased,
		eventstore.EventNotificationSent,
		eventstore.EventOrderFailed,
	}, eventTypes(orderEvents))
	updated, err := orderEvents[2].Decode()
	require.NoError(t, err)
	assert.Equal(t, string(OrderStatusCompensating), updated.(*eventstore.OrderStatusChanged).Status)
	assert.Equal(t, "payment declined", updated.(*eventstore.OrderStatusChanged).Reason)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Sagas.WithLabelValues(metrics.OutcomeCompensated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StepFailures.WithLabelValues(string(StepProcessPayment))))
	h.payments.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
	h.notifier.AssertNotCalled(t, "SendOrderConfirmation", mock.Anything, mock.Anything)
	h.deadLetters.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything)
	h.assertExpectations(t)
}

// flakyStates falha a primeira gravação do estado COMPENSATING
type flakyStates struct {
	*MemoryRepository
	failed bool
}

func (f *flakyStates) SaveSaga(ctx context.Context, state *SagaState) error {
	if state.Status == SagaCompensating && !f.failed {
		f.failed = true
		return errors.New("connection reset")
	}
	return f.MemoryRepository.SaveSaga(ctx, state)
}

func TestCreateOrderSaga_CompensatingStateWriteFailureStillCompensates(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	h.orchestrator.states = &flakyStates{MemoryRepository: h.repo}
	h.expectReserve()
	h.payments.On("Process", mock.Anything, mock.Anything).Return(nil, errors.New("payment declined")).Once()
	h.inventory.On("Release", mock.Anything, mock.Anything).Return(nil).Once()
	h.notifier.On("SendOrderCancellation", mock.Anything, "ORD-id-2").Return(nil).Once()

	// Act
	result, err := h.orchestrator.CreateOrderSaga(ctx, exampleRequest())

	// Assert
	require.NoError(t, err)
	state, err := h.orchestrator.GetSagaStatus(ctx, result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, SagaCompensated, state.Status)
	assert.Equal(t, StepCompensated, state.Step(StepReserveInventory).Status)

	order, err := h.orchestrator.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFailed, order.Status)
	h.deadLetters.AssertNotCalled(t, "Push", mock.Anything, mock.Anything, mock.Anything)
	h.assertExpectations(t)
}

func TestCreateOrderSaga_CompensatesInReverseOrder(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	h.expectReserve()
	h.expectPayment()

	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(name string) func(mock.Arguments) {
		return func(mock.Arguments) {
			mu.Lock()
			defer mu.Unlock()
			calls = append(calls, name)
		}
	}

	h.notifier.On("SendOrderConfirmation", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()
	h.payments.On("Refund", mock.Anything, downstream.RefundRequest{
		OrderID:       "ORD-id-2",
		TransactionID: "TXN-1",
		Amount:        99.98,
	}).Run(record("refund")).Return(nil).Once()
	h.inventory.On("Release", mock.Anything, mock.Anything).Run(record("release")).Return(nil).Once()
	h.notifier.On("SendOrderCancellation", mock.Anything, mock.Anything).Run(record("cancellation")).Return(nil).Once()

	// Act
	result, err := h.orchestrator.CreateOrderSaga(ctx, exampleRequest())
	require.NoError(t, err)

	// Assert
	assert.Equal(t, []string{"refund", "release", "cancellation"}, calls)

	state, err := h.orchestrator.GetSagaStatus(ctx, result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, SagaCompensated, state.Status)
	assert.Equal(t, map[StepName]StepStatus{
		StepCreateOrder:      StepCompensated,
		StepReserveInventory: StepCompensated,
		StepProcessPayment:   StepCompensated,
		StepSendNotification: StepFailed,
	}, stepStatuses(state))

	sagaEvents, err := h.events.GetEventsByAggregateID(ctx, result.SagaID)
	require.NoError(t, err)
	var compensated []string
	for _, e := range sagaEvents {
		if e.EventType != eventstore.EventSagaStepCompensated {
			continue
		}
		var payload eventstore.SagaStep
		require.NoError(t, json.Unmarshal(e.Payload, &payload))
		compensated = append(compensated, payload.Step)
	}
	assert.Equal(t, []string{"PROCESS_PAYMENT", "RESERVE_INVENTORY", "CREATE_ORDER"}, compensated)
	h.assertExpectations(t)
}

func TestCreateOrderSaga_DoesNotCompensateUnexecutedSteps(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	h.inventory.On("Reserve", mock.Anything, mock.Anything).Return(nil, errors.New("out of stock")).Once()
	h.notifier.On("SendOrderCancellation", mock.Anything, mock.Anything).Return(nil).Once()

	// Act
	result, err := h.orchestrator.CreateOrderSaga(ctx, exampleRequest())
	require.NoError(t, err)

	// Assert
	state, err := h.orchestrator.GetSagaStatus(ctx, result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, SagaCompensated, state.Status)
	assert.Equal(t, map[StepName]StepStatus{
		StepCreateOrder:      StepCompensated,
		StepReserveInventory: StepFailed,
		StepProcessPayment:   StepPending,
		StepSendNotification: StepPending,
	}, stepStatuses(state))
	assert.Nil(t, state.Step(StepProcessPayment).CompensatedAt)

	h.inventory.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	h.payments.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
	h.payments.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
	h.assertExpectations(t)
}

func TestCreateOrderSaga_CompensationFailureDeadLetters(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	h.expectReserve()
	h.payments.On("Process", mock.Anything, mock.Anything).Return(nil, errors.New("payment declined")).Once()
	h.inventory.On("Release", mock.Anything, mock.Anything).Return(errors.New("inventory unavailable")).Once()
	h.deadLetters.On("Push", mock.Anything, mock.MatchedBy(func(letter DeadLetter) bool {
		return letter.SagaID == "id-1" &&
			letter.OrderID == "ORD-id-2" &&
			letter.Cause == "payment declined" &&
			strings.Contains(letter.CompensationError, "inventory unavailable") &&
			len(letter.Steps) == len(StepOrder)
	}), mock.MatchedBy(func(cause error) bool {
		return cause != nil
	})).Return(nil).Once()

	// Act
	result, err := h.orchestrator.CreateOrderSaga(ctx, exampleRequest())
	require.NoError(t, err)

	// Assert
	state, err := h.orchestrator.GetSagaStatus(ctx, result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, SagaFailed, state.Status)
	assert.Equal(t, CurrentStepFailed, state.CurrentStep)
	assert.Equal(t, map[StepName]StepStatus{
		StepCreateOrder:      StepSuccess,
		StepReserveInventory: StepSuccess,
		StepProcessPayment:   StepFailed,
		StepSendNotification: StepPending,
	}, stepStatuses(state))
	assert.Contains(t, state.Step(StepReserveInventory).Error, "inventory unavailable")

	order, err := h.orchestrator.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFailed, order.Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Sagas.WithLabelValues(metrics.OutcomeFailed)))
	h.notifier.AssertNotCalled(t, "SendOrderCancellation", mock.Anything, mock.Anything)
	h.assertExpectations(t)
}

func TestCompensateSaga_ReturnsCompensationError(t *testing.T) {
	// Arrange
	h := newHarness(t)
	h.orchestrator.deadLetters = nil
	ctx := context.Background()
	now := time.Now().UTC()

	order := NewOrder("ORD-1", "saga-1", exampleRequest(), now)
	require.NoError(t, h.repo.CreateOrder(ctx, order))
	state := NewSagaState("saga-1", "ORD-1", now)
	state.Step(StepCreateOrder).Status = StepSuccess
	state.Step(StepProcessPayment).Status = StepSuccess
	state.Step(StepProcessPayment).Data = json.RawMessage(`{"transactionId":"TXN-9","amount":10}`)
	require.NoError(t, h.repo.CreateSaga(ctx, state))

	h.payments.On("Refund", mock.Anything, mock.Anything).Return(errors.New("gateway error")).Once()

	// Act
	err := h.orchestrator.CompensateSaga(ctx, "saga-1", errors.New("operator request"))

	// Assert
	require.ErrorIs(t, err, ErrCompensationFailed)
	stored, err := h.repo.GetSaga(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, SagaFailed, stored.Status)
	h.assertExpectations(t)
}

func TestExecuteSaga_RejectsTerminalSaga(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	h.expectReserve()
	h.expectPayment()
	h.notifier.On("SendOrderConfirmation", mock.Anything, mock.Anything).Return(nil).Once()
	result, err := h.orchestrator.CreateOrderSaga(ctx, exampleRequest())
	require.NoError(t, err)

	// Act
	execErr := h.orchestrator.ExecuteSaga(ctx, result.SagaID)
	compErr := h.orchestrator.CompensateSaga(ctx, result.SagaID, errors.New("too late"))

	// Assert
	assert.ErrorIs(t, execErr, ErrSagaTerminal)
	assert.ErrorIs(t, compErr, ErrSagaTerminal)

	state, err := h.orchestrator.GetSagaStatus(ctx, result.SagaID)
	require.NoError(t, err)
	assert.Equal(t, SagaCompleted, state.Status)
	h.assertExpectations(t)
}

func TestExecuteSaga_ResumesFromLastSuccessfulStep(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()

	order := NewOrder("ORD-1", "saga-1", exampleRequest(), now)
	require.NoError(t, h.repo.CreateOrder(ctx, order))
	state := NewSagaState("saga-1", "ORD-1", now)
	state.Step(StepCreateOrder).Status = StepSuccess
	state.Step(StepReserveInventory).Status = StepSuccess
	state.Step(StepReserveInventory).Data = json.RawMessage(`{"reservationId":"RES-7","productId":"prod456","quantity":2}`)
	state.CurrentStep = CurrentStepProcessPayment
	require.NoError(t, h.repo.CreateSaga(ctx, state))

	h.expectPayment()
	h.notifier.On("SendOrderConfirmation", mock.Anything, "ORD-1").Return(nil).Once()

	// Act
	err := h.orchestrator.ExecuteSaga(ctx, "saga-1")

	// Assert
	require.NoError(t, err)
	stored, err := h.repo.GetSaga(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, SagaCompleted, stored.Status)
	h.inventory.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything)
	h.assertExpectations(t)
}

func TestExecuteSaga_ResumesInterruptedCompensation(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	now := time.Now().UTC()

	order := NewOrder("ORD-1", "saga-1", exampleRequest(), now)
	require.NoError(t, h.repo.CreateOrder(ctx, order))
	state := NewSagaState("saga-1", "ORD-1", now)
	state.Status = SagaCompensating
	state.CurrentStep = CurrentStepCompensating
	state.Step(StepCreateOrder).Status = StepSuccess
	state.Step(StepReserveInventory).Status = StepSuccess
	state.Step(StepReserveInventory).Data = json.RawMessage(`{"reservationId":"RES-7","productId":"prod456","quantity":2}`)
	state.Step(StepProcessPayment).Status = StepFailed
	require.NoError(t, h.repo.CreateSaga(ctx, state))

	h.inventory.On("Release", mock.Anything, mock.MatchedBy(func(req downstream.ReleaseRequest) bool {
		return req.ReservationID == "RES-7"
	})).Return(nil).Once()
	h.notifier.On("SendOrderCancellation", mock.Anything, "ORD-1").Return(nil).Once()

	// Act
	err := h.orchestrator.ExecuteSaga(ctx, "saga-1")

	// Assert
	require.NoError(t, err)
	stored, err := h.repo.GetSaga(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, SagaCompensated, stored.Status)
	h.payments.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
	h.assertExpectations(t)
}

func TestCreateOrderSaga_RejectsInvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateOrderRequest)
	}{
		{name: "missing user", mutate: func(r *CreateOrderRequest) { r.UserID = "" }},
		{name: "missing product", mutate: func(r *CreateOrderRequest) { r.ProductID = "" }},
		{name: "zero quantity", mutate: func(r *CreateOrderRequest) { r.Quantity = 0 }},
		{name: "negative amount", mutate: func(r *CreateOrderRequest) { r.TotalAmount = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			h := newHarness(t)
			req := exampleRequest()
			tt.mutate(&req)

			// Act
			result, err := h.orchestrator.CreateOrderSaga(context.Background(), req)

			// Assert
			assert.ErrorIs(t, err, ErrInvalidOrder)
			assert.Nil(t, result)
			stats, err := h.events.GetEventStatistics(context.Background())
			require.NoError(t, err)
			assert.EqualValues(t, 0, stats.TotalEvents)
		})
	}
}

func TestCreateOrderSaga_DefaultsPaymentMethod(t *testing.T) {
	// Arrange
	h := newHarness(t)
	ctx := context.Background()
	req := exampleRequest()
	req.PaymentMethod = ""
	h.expectReserve()
	h.expectPayment()
	h.notifier.On("SendOrderConfirmation", mock.Anything, mock.Anything).Return(nil).Once()

	// Act
	result, err := h.orchestrator.CreateOrderSaga(ctx, req)

	// Assert
	require.NoError(t, err)
	order, err := h.orchestrator.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, DefaultPaymentMethod, order.PaymentMethod)
	h.assertExpectations(t)
}

func TestStepDispatch_EveryStepHasActionAndCompensation(t *testing.T) {
	o := newHarness(t).orchestrator

	for _, name := range StepOrder {
		action, err := o.action(name)
		require.NoError(t, err, name)
		assert.NotNil(t, action, name)

		compensation, err := o.compensator(name)
		require.NoError(t, err, name)
		assert.NotNil(t, compensation, name)
	}

	_, err := o.action("SHIP_ORDER")
	assert.ErrorIs(t, err, ErrUnknownStep)
	_, err = o.compensator("SHIP_ORDER")
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestGetSagaStatus_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.orchestrator.GetSagaStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSagaNotFound)

	_, err = h.orchestrator.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
