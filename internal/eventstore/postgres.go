package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS events (
	seq            BIGSERIAL PRIMARY KEY,
	event_id       UUID        NOT NULL UNIQUE,
	event_type     TEXT        NOT NULL,
	aggregate_id   TEXT        NOT NULL,
	aggregate_type TEXT        NOT NULL,
	payload        JSONB       NOT NULL,
	metadata       JSONB       NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_aggregate ON events (aggregate_id, created_at, seq);
CREATE INDEX IF NOT EXISTS idx_events_type ON events (event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_aggregate_type ON events (aggregate_type, created_at DESC);
`

// PostgresLog grava os eventos na tabela events via database/sql
type PostgresLog struct {
	db *sql.DB
}

// OpenPostgresLog abre a conexão, aguarda o banco ficar disponível e cria o schema
func OpenPostgresLog(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open events database: %w", err)
	}

	for i := 0; i < 30; i++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		logger.Info().Msgf("⏳ Waiting for events database... (%d/30)", i+1)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to events database after 30 attempts: %w", err)
	}

	if _, err := db.ExecContext(ctx, eventsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create events schema: %w", err)
	}

	logger.Info().Msg("✅ Connected to events database")
	return NewPostgresLog(db), nil
}

// NewPostgresLog usa uma conexão já aberta
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Append(ctx context.Context, event Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO events (event_id, event_type, aggregate_id, aggregate_type, payload, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = l.db.ExecContext(ctx, query,
		event.EventID,
		string(event.EventType),
		event.AggregateID,
		string(event.AggregateType),
		[]byte(event.Payload),
		metadata,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (l *PostgresLog) Find(ctx context.Context, filter Filter) ([]Event, error) {
	query, args := buildFindQuery(filter)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e        Event
			payload  []byte
			metadata []byte
		)
		if err := rows.Scan(&e.EventID, &e.EventType, &e.AggregateID, &e.AggregateType, &payload, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of event %s: %w", e.EventID, err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

func buildFindQuery(filter Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.AggregateID != "" {
		add("aggregate_id = $%d", filter.AggregateID)
	}
	if filter.EventType != "" {
		add("event_type = $%d", string(filter.EventType))
	}
	if filter.AggregateType != "" {
		add("aggregate_type = $%d", string(filter.AggregateType))
	}
	if !filter.StartDate.IsZero() {
		add("created_at >= $%d", filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		add("created_at <= $%d", filter.EndDate)
	}

	var b strings.Builder
	b.WriteString("SELECT event_id, event_type, aggregate_id, aggregate_type, payload, metadata, created_at FROM events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	direction := "ASC"
	if filter.Descending {
		direction = "DESC"
	}
	fmt.Fprintf(&b, " ORDER BY created_at %s, seq %s", direction, direction)

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func (l *PostgresLog) Statistics(ctx context.Context) ([]TypeStatistics, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*), MAX(created_at) FROM events GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query event statistics: %w", err)
	}
	defer rows.Close()

	out := []TypeStatistics{}
	for rows.Next() {
		var st TypeStatistics
		if err := rows.Scan(&st.EventType, &st.Count, &st.LastOccurrence); err != nil {
			return nil, fmt.Errorf("failed to scan event statistics: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (l *PostgresLog) Close() error {
	return l.db.Close()
}
