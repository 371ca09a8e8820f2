package eventstore

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultQueryLimit é o limite aplicado quando Query.Limit não é informado
const DefaultQueryLimit = 100

// Query filtra consultas por tipo
type Query struct {
	Limit     int
	StartDate time.Time
	EndDate   time.Time
}

// Filter é a consulta genérica suportada por todos os backends
type Filter struct {
	AggregateID   string
	EventType     EventType
	AggregateType AggregateType
	StartDate     time.Time
	EndDate       time.Time
	Limit         int
	Descending    bool
}

func (f Filter) match(e Event) bool {
	if f.AggregateID != "" && e.AggregateID != f.AggregateID {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.AggregateType != "" && e.AggregateType != f.AggregateType {
		return false
	}
	if !f.StartDate.IsZero() && e.CreatedAt.Before(f.StartDate) {
		return false
	}
	if !f.EndDate.IsZero() && e.CreatedAt.After(f.EndDate) {
		return false
	}
	return true
}

// TypeStatistics agrega contagem e última ocorrência de um tipo de evento
type TypeStatistics struct {
	EventType      EventType `json:"eventType"`
	Count          int64     `json:"count"`
	LastOccurrence time.Time `json:"lastOccurrence"`
}

// Statistics é o resultado de GetEventStatistics
type Statistics struct {
	TotalEvents int64            `json:"totalEvents"`
	EventTypes  []TypeStatistics `json:"eventTypes"`
}

// AuditEntry é uma linha da trilha de auditoria
type AuditEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	EventType EventType       `json:"eventType"`
	UserID    string          `json:"userId,omitempty"`
	Changes   json.RawMessage `json:"changes"`
}

// Log é o armazenamento append-only dos eventos.
// Eventos com o mesmo CreatedAt mantêm a ordem de inserção.
type Log interface {
	Append(ctx context.Context, event Event) error
	Find(ctx context.Context, filter Filter) ([]Event, error)
	Statistics(ctx context.Context) ([]TypeStatistics, error)
	Close() error
}

// Publisher recebe os eventos depois de gravados no log
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

const (
	aggregateLockShards = 64
	publishQueueSize    = 1024
	publishTimeout      = 10 * time.Second
)

// Store é a fachada do event store usada pelo orquestrador e pela API.
//
// Gravações do mesmo agregado são serializadas; agregados diferentes gravam em
// paralelo. A publicação no Kafka é feita em background, na ordem de gravação.
type Store struct {
	log       Log
	publisher Publisher
	logger    zerolog.Logger

	aggregates [aggregateLockShards]sync.Mutex

	mu   sync.Mutex
	last time.Time
	now  func() time.Time

	queueMu sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
}

// NewStore cria um Store sobre o log informado. publisher pode ser nil.
func NewStore(log Log, publisher Publisher, logger zerolog.Logger) *Store {
	s := &Store{
		log:       log,
		publisher: publisher,
		logger:    logger.With().Str("component", "event_store").Logger(),
		now:       time.Now,
	}
	if publisher != nil {
		s.queue = make(chan Event, publishQueueSize)
		s.done = make(chan struct{})
		go s.publishLoop()
	}
	return s
}

// StoreEvent grava um novo evento e o retorna com id e timestamps preenchidos
func (s *Store) StoreEvent(ctx context.Context, in Append) (*Event, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", in.EventType, err)
	}

	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	version := in.Version
	if version < 1 {
		version = 1
	}

	lock := s.aggregateLock(in.AggregateID)
	lock.Lock()
	createdAt := s.nextTimestamp()
	event := Event{
		EventID:       uuid.NewString(),
		EventType:     in.EventType,
		AggregateID:   in.AggregateID,
		AggregateType: in.AggregateType,
		Payload:       payload,
		Metadata: Metadata{
			UserID:        in.UserID,
			CorrelationID: correlationID,
			CausationID:   in.CausationID,
			Timestamp:     createdAt,
			Version:       version,
		},
		CreatedAt: createdAt,
	}
	err = s.log.Append(ctx, event)
	lock.Unlock()

	if err != nil {
		s.logger.Error().Err(err).
			Str("event_type", string(event.EventType)).
			Str("aggregate_id", event.AggregateID).
			Msg("❌ failed to store event")
		return nil, fmt.Errorf("failed to store event %s: %w", event.EventType, err)
	}

	s.logger.Debug().
		Str("event_id", event.EventID).
		Str("event_type", string(event.EventType)).
		Str("aggregate_id", event.AggregateID).
		Msg("event stored")

	s.enqueue(event)
	return &event, nil
}

func (s *Store) aggregateLock(aggregateID string) *sync.Mutex {
	return &s.aggregates[xxhash.Sum64String(aggregateID)%aggregateLockShards]
}

// nextTimestamp garante timestamps estritamente crescentes em resolução de microssegundos
func (s *Store) nextTimestamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC().Truncate(time.Microsecond)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

// enqueue entrega o evento ao publisher sem bloquear a gravação.
// Com a fila cheia o evento não é publicado; o log continua sendo a fonte da verdade.
func (s *Store) enqueue(event Event) {
	if s.queue == nil {
		return
	}

	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- event:
	default:
		s.logger.Warn().Str("event_id", event.EventID).Msg("⚠️ publish queue full, event not published")
	}
}

func (s *Store) publishLoop() {
	defer close(s.done)
	for event := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("event_id", event.EventID).Msg("⚠️ failed to publish event")
		}
		cancel()
	}
}

// GetEventsByAggregateID retorna os eventos do agregado do mais antigo para o mais recente
func (s *Store) GetEventsByAggregateID(ctx context.Context, aggregateID string) ([]Event, error) {
	events, err := s.log.Find(ctx, Filter{AggregateID: aggregateID})
	if err != nil {
		return nil, fmt.Errorf("failed to get events for aggregate %s: %w", aggregateID, err)
	}
	return events, nil
}

// GetEventsByType retorna os eventos do tipo, mais recentes primeiro
func (s *Store) GetEventsByType(ctx context.Context, eventType EventType, q Query) ([]Event, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, eventType)
	}
	events, err := s.log.Find(ctx, Filter{
		EventType:  eventType,
		StartDate:  q.StartDate,
		EndDate:    q.EndDate,
		Limit:      limitOrDefault(q.Limit),
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get events of type %s: %w", eventType, err)
	}
	return events, nil
}

// GetEventsByAggregateType retorna os eventos do tipo de agregado, mais recentes primeiro
func (s *Store) GetEventsByAggregateType(ctx context.Context, aggregateType AggregateType, q Query) ([]Event, error) {
	if !aggregateType.Valid() {
		return nil, fmt.Errorf("%w: unknown aggregate type %q", ErrInvalidEvent, aggregateType)
	}
	events, err := s.log.Find(ctx, Filter{
		AggregateType: aggregateType,
		StartDate:     q.StartDate,
		EndDate:       q.EndDate,
		Limit:         limitOrDefault(q.Limit),
		Descending:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get events of aggregate type %s: %w", aggregateType, err)
	}
	return events, nil
}

// RebuildAggregateState reconstrói o estado do agregado reaplicando todos os seus eventos
func (s *Store) RebuildAggregateState(ctx context.Context, aggregateID string) (AggregateState, error) {
	events, err := s.GetEventsByAggregateID(ctx, aggregateID)
	if err != nil {
		return AggregateState{}, err
	}
	if len(events) == 0 {
		return AggregateState{}, fmt.Errorf("%w: %s", ErrAggregateNotFound, aggregateID)
	}
	return Rebuild(aggregateID, events), nil
}

// GetEventStatistics retorna o total de eventos e a contagem por tipo
func (s *Store) GetEventStatistics(ctx context.Context) (Statistics, error) {
	types, err := s.log.Statistics(ctx)
	if err != nil {
		return Statistics{}, fmt.Errorf("failed to get event statistics: %w", err)
	}

	slices.SortFunc(types, func(a, b TypeStatistics) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.EventType, b.EventType)
	})

	stats := Statistics{EventTypes: types}
	for _, t := range types {
		stats.TotalEvents += t.Count
	}
	if stats.EventTypes == nil {
		stats.EventTypes = []TypeStatistics{}
	}
	return stats, nil
}

// GetAuditTrail retorna a trilha de auditoria do agregado em ordem cronológica
func (s *Store) GetAuditTrail(ctx context.Context, aggregateID string) ([]AuditEntry, error) {
	events, err := s.GetEventsByAggregateID(ctx, aggregateID)
	if err != nil {
		return nil, err
	}

	trail := make([]AuditEntry, 0, len(events))
	for _, e := range events {
		trail = append(trail, AuditEntry{
			Timestamp: e.CreatedAt,
			EventType: e.EventType,
			UserID:    e.Metadata.UserID,
			Changes:   e.Payload,
		})
	}
	return trail, nil
}

// Close publica os eventos pendentes e fecha o log e o publisher, se ele tiver Close
func (s *Store) Close() error {
	if s.queue != nil {
		s.queueMu.Lock()
		if !s.closed {
			s.closed = true
			close(s.queue)
		}
		s.queueMu.Unlock()
		<-s.done
	}

	err := s.log.Close()
	if closer, ok := s.publisher.(io.Closer); ok {
		err = errors.Join(err, closer.Close())
	}
	return err
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	return limit
}
