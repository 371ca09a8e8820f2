package eventstore

import (
	"context"
	"slices"
	"sync"
)

// MemoryLog mantém os eventos em memória ordenados por CreatedAt.
// Eventos com o mesmo CreatedAt mantêm a ordem de inserção.
type MemoryLog struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryLog cria um log vazio
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(ctx context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := len(l.events)
	for i > 0 && l.events[i-1].CreatedAt.After(event.CreatedAt) {
		i--
	}
	l.events = slices.Insert(l.events, i, cloneEvent(event))
	return nil
}

func (l *MemoryLog) Find(ctx context.Context, filter Filter) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []Event{}
	if filter.Descending {
		for i := len(l.events) - 1; i >= 0; i-- {
			if filter.match(l.events[i]) {
				out = append(out, cloneEvent(l.events[i]))
				if filter.Limit > 0 && len(out) == filter.Limit {
					break
				}
			}
		}
		return out, nil
	}

	for _, e := range l.events {
		if filter.match(e) {
			out = append(out, cloneEvent(e))
			if filter.Limit > 0 && len(out) == filter.Limit {
				break
			}
		}
	}
	return out, nil
}

func (l *MemoryLog) Statistics(ctx context.Context) ([]TypeStatistics, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byType := make(map[EventType]*TypeStatistics)
	for _, e := range l.events {
		st, ok := byType[e.EventType]
		if !ok {
			st = &TypeStatistics{EventType: e.EventType}
			byType[e.EventType] = st
		}
		st.Count++
		if e.CreatedAt.After(st.LastOccurrence) {
			st.LastOccurrence = e.CreatedAt
		}
	}

	out := make([]TypeStatistics, 0, len(byType))
	for _, st := range byType {
		out = append(out, *st)
	}
	return out, nil
}

func (l *MemoryLog) Close() error { return nil }

func cloneEvent(e Event) Event {
	if e.Payload != nil {
		payload := make([]byte, len(e.Payload))
		copy(payload, e.Payload)
		e.Payload = payload
	}
	return e
}
