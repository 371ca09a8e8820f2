package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

const (
	badgerEventPrefix     = "evt/"
	badgerAggregatePrefix = "agg/"
)

// BadgerConfig configura o log embarcado
type BadgerConfig struct {
	Dir        string
	InMemory   bool
	SyncWrites bool
}

// BadgerLog grava os eventos em um banco Badger embarcado.
//
// Cada evento é gravado duas vezes na mesma transação:
// evt/<createdAt>/<eventId> para consultas globais e
// agg/<len>:<aggregateId>/<createdAt>/<eventId> para leitura por agregado.
// O tamanho do id evita que "a/b" caia no prefixo de "a".
type BadgerLog struct {
	db *badger.DB
}

type badgerLogger struct {
	logger zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

// OpenBadgerLog abre (ou cria) o banco no diretório configurado
func OpenBadgerLog(cfg BadgerConfig, logger zerolog.Logger) (*BadgerLog, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger dir is required for persistent event log")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{logger: logger.With().Str("component", "badger").Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerLog{db: db}, nil
}

func timeKey(t time.Time) string {
	return fmt.Sprintf("%020d", t.UnixNano())
}

func eventKey(e Event) []byte {
	return []byte(badgerEventPrefix + timeKey(e.CreatedAt) + "/" + e.EventID)
}

func aggregatePrefix(aggregateID string) string {
	return badgerAggregatePrefix + strconv.Itoa(len(aggregateID)) + ":" + aggregateID + "/"
}

func aggregateKey(e Event) []byte {
	return []byte(aggregatePrefix(e.AggregateID) + timeKey(e.CreatedAt) + "/" + e.EventID)
}

func (l *BadgerLog) Append(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return l.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(eventKey(event), data); err != nil {
			return err
		}
		return txn.Set(aggregateKey(event), data)
	})
}

func (l *BadgerLog) Find(ctx context.Context, filter Filter) ([]Event, error) {
	prefix := []byte(badgerEventPrefix)
	if filter.AggregateID != "" {
		prefix = []byte(aggregatePrefix(filter.AggregateID))
	}

	events := []Event{}
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = filter.Descending
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if filter.Descending {
			seek = append(append([]byte{}, prefix...), 0xFF)
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var e Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode event %s: %w", it.Item().Key(), err)
			}

			if !filter.match(e) {
				continue
			}
			events = append(events, e)
			if filter.Limit > 0 && len(events) == filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	return events, nil
}

func (l *BadgerLog) Statistics(ctx context.Context) ([]TypeStatistics, error) {
	all, err := l.Find(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	byType := make(map[EventType]int)
	out := []TypeStatistics{}
	for _, e := range all {
		idx, ok := byType[e.EventType]
		if !ok {
			idx = len(out)
			byType[e.EventType] = idx
			out = append(out, TypeStatistics{EventType: e.EventType})
		}
		out[idx].Count++
		if e.CreatedAt.After(out[idx].LastOccurrence) {
			out[idx].LastOccurrence = e.CreatedAt
		}
	}
	return out, nil
}

func (l *BadgerLog) Close() error {
	return l.db.Close()
}
