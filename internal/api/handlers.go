package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheusmosca/order-saga-orchestrator/internal/dlq"
	"github.com/matheusmosca/order-saga-orchestrator/internal/eventstore"
	"github.com/matheusmosca/order-saga-orchestrator/internal/resilience"
	"github.com/matheusmosca/order-saga-orchestrator/internal/saga"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SagaService define as operações do orquestrador expostas via HTTP
type SagaService interface {
	CreateOrderSaga(ctx context.Context, req saga.CreateOrderRequest) (*saga.CreateOrderResult, error)
	GetSagaStatus(ctx context.Context, sagaID string) (*saga.SagaState, error)
	GetOrder(ctx context.Context, orderID string) (*saga.Order, error)
}

// EventQueries define as consultas do event store
type EventQueries interface {
	GetEventsByAggregateID(ctx context.Context, aggregateID string) ([]eventstore.Event, error)
	GetAuditTrail(ctx context.Context, aggregateID string) ([]eventstore.AuditEntry, error)
	GetEventsByType(ctx context.Context, eventType eventstore.EventType, q eventstore.Query) ([]eventstore.Event, error)
	GetEventStatistics(ctx context.Context) (eventstore.Statistics, error)
	RebuildAggregateState(ctx context.Context, aggregateID string) (eventstore.AggregateState, error)
}

// BreakerStats expõe o snapshot dos circuit breakers
type BreakerStats interface {
	Stats() map[string][]resilience.Stats
}

// DeadLetters lê a DLQ
type DeadLetters interface {
	List(ctx context.Context, limit int64) ([]dlq.Message, error)
	Len(ctx context.Context) (int64, error)
}

// Handler contém os handlers HTTP
type Handler struct {
	service     SagaService
	events      EventQueries
	breakers    BreakerStats
	deadLetters DeadLetters
	serviceName string
	tracer      trace.Tracer
	logger      zerolog.Logger
}

// Options agrupa as dependências do Handler. DeadLetters é opcional.
type Options struct {
	Service     SagaService
	Events      EventQueries
	Breakers    BreakerStats
	DeadLetters DeadLetters
	ServiceName string
	Tracer      trace.Tracer
	Logger      zerolog.Logger
}

// NewHandler cria uma nova instância de Handler
func NewHandler(opts Options) *Handler {
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(opts.ServiceName)
	}
	return &Handler{
		service:     opts.Service,
		events:      opts.Events,
		breakers:    opts.Breakers,
		deadLetters: opts.DeadLetters,
		serviceName: opts.ServiceName,
		tracer:      opts.Tracer,
		logger:      opts.Logger.With().Str("component", "http").Logger(),
	}
}

// CreateOrderSaga inicia a saga de um novo pedido
func (h *Handler) CreateOrderSaga(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "create_order_saga")
	defer span.End()

	var req saga.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.String("product_id", req.ProductID),
		attribute.Int("quantity", req.Quantity),
	)

	result, err := h.service.CreateOrderSaga(ctx, req)
	if err != nil {
		span.RecordError(err)
		h.respondError(c, err, "Order creation failed")
		return
	}

	span.SetAttributes(
		attribute.String("saga_id", result.SagaID),
		attribute.String("order_id", result.OrderID),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Order creation in progress",
		"sagaId":  result.SagaID,
		"orderId": result.OrderID,
		"status":  result.Status,
	})
}

// GetOrder retorna um pedido
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.service.GetOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		h.respondError(c, err, "Order retrieval failed")
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetSagaStatus retorna o estado de uma saga
func (h *Handler) GetSagaStatus(c *gin.Context) {
	state, err := h.service.GetSagaStatus(c.Request.Context(), c.Param("sagaId"))
	if err != nil {
		h.respondError(c, err, "Saga status retrieval failed")
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetAggregateEvents retorna todos os eventos de um agregado
func (h *Handler) GetAggregateEvents(c *gin.Context) {
	aggregateID := c.Param("aggregateId")
	events, err := h.events.GetEventsByAggregateID(c.Request.Context(), aggregateID)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve events")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"aggregateId": aggregateID,
		"eventCount":  len(events),
		"events":      events,
	})
}

// GetAuditTrail retorna a trilha de auditoria de um agregado
func (h *Handler) GetAuditTrail(c *gin.Context) {
	aggregateID := c.Param("aggregateId")
	trail, err := h.events.GetAuditTrail(c.Request.Context(), aggregateID)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve audit trail")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"aggregateId": aggregateID,
		"auditTrail":  trail,
	})
}

// GetEventsByType lista eventos de um tipo com limit, startDate e endDate opcionais
func (h *Handler) GetEventsByType(c *gin.Context) {
	eventType := eventstore.EventType(c.Param("eventType"))
	if !eventType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type: " + string(eventType)})
		return
	}

	q, err := parseQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	events, err := h.events.GetEventsByType(c.Request.Context(), eventType, q)
	if err != nil {
		h.respondError(c, err, "Failed to retrieve events by type")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"eventType":  eventType,
		"eventCount": len(events),
		"events":     events,
	})
}

// GetEventStatistics retorna a contagem de eventos por tipo
func (h *Handler) GetEventStatistics(c *gin.Context) {
	stats, err := h.events.GetEventStatistics(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to retrieve event statistics")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RebuildAggregate reconstrói o estado de um agregado a partir dos eventos
func (h *Handler) RebuildAggregate(c *gin.Context) {
	aggregateID := c.Param("aggregateId")
	state, err := h.events.RebuildAggregateState(c.Request.Context(), aggregateID)
	if err != nil {
		h.respondError(c, err, "Failed to rebuild aggregate state")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"aggregateId":  aggregateID,
		"rebuiltState": state,
	})
}

// GetCircuitBreakers retorna as estatísticas dos breakers por serviço
func (h *Handler) GetCircuitBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, h.breakers.Stats())
}

// GetDeadLetters lista as sagas enviadas para a DLQ
func (h *Handler) GetDeadLetters(c *gin.Context) {
	if h.deadLetters == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dead letter queue not configured"})
		return
	}

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	count, err := h.deadLetters.Len(ctx)
	if err != nil {
		h.respondError(c, err, "Failed to read dead letter queue")
		return
	}
	messages, err := h.deadLetters.List(ctx, int64(limit))
	if err != nil {
		h.respondError(c, err, "Failed to read dead letter queue")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    count,
		"messages": messages,
	})
}

// HealthCheck verifica a saúde do serviço
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   h.serviceName,
		"timestamp": time.Now().UTC(),
	})
}

// respondError mapeia erros de domínio para status HTTP
func (h *Handler) respondError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, saga.ErrInvalidOrder):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, saga.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, saga.ErrSagaNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Saga not found"})
	case errors.Is(err, eventstore.ErrAggregateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Aggregate not found"})
	default:
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("❌ " + message)
		c.JSON(http.StatusInternalServerError, gin.H{"error": message, "details": err.Error()})
	}
}

func parseQuery(c *gin.Context) (eventstore.Query, error) {
	var (
		q   eventstore.Query
		err error
	)
	if q.Limit, err = parseLimit(c.Query("limit")); err != nil {
		return q, err
	}
	if raw := c.Query("startDate"); raw != "" {
		if q.StartDate, err = parseDate(raw); err != nil {
			return q, errors.New("invalid startDate: " + raw)
		}
	}
	if raw := c.Query("endDate"); raw != "" {
		if q.EndDate, err = parseDate(raw); err != nil {
			return q, errors.New("invalid endDate: " + raw)
		}
	}
	return q, nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("invalid limit: " + raw)
	}
	return limit, nil
}

// parseDate aceita RFC 3339 ou apenas a data (YYYY-MM-DD)
func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}
