package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const DefaultKey = "orders-saga:dlq"

// Message é o registro gravado na fila para remediação manual
type Message struct {
	At      time.Time       `json:"at"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
}

// redisList é o subconjunto do cliente Redis usado pela fila
type redisList interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// Client grava mensagens em uma lista Redis
type Client struct {
	cli    redisList
	key    string
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedisClient cria o cliente Redis a partir do endereço
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// New cria a fila sobre o cliente informado
func New(cli redisList, key string, logger zerolog.Logger) *Client {
	if key == "" {
		key = DefaultKey
	}
	return &Client{
		cli:    cli,
		key:    key,
		logger: logger.With().Str("component", "dlq").Logger(),
		now:    time.Now,
	}
}

// Push grava payload e a causa da falha no início da lista
func (c *Client) Push(ctx context.Context, payload any, cause error) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq payload: %w", err)
	}

	msg := Message{At: c.now().UTC(), Payload: data}
	if cause != nil {
		msg.Error = cause.Error()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq message: %w", err)
	}

	if err := c.cli.LPush(ctx, c.key, b).Err(); err != nil {
		c.logger.Error().Err(err).Msg("redis DLQ push failed")
		return fmt.Errorf("failed to push to dlq: %w", err)
	}

	c.logger.Warn().Str("key", c.key).Msg("📥 message pushed to dead letter queue")
	return nil
}

// List retorna as mensagens mais recentes, até limit
func (c *Client) List(ctx context.Context, limit int64) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := c.cli.LRange(ctx, c.key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dlq: %w", err)
	}

	messages := make([]Message, 0, len(raw))
	for _, r := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(r), &msg); err != nil {
			c.logger.Warn().Err(err).Msg("skipping malformed dlq message")
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Len retorna o tamanho da fila
func (c *Client) Len(ctx context.Context) (int64, error) {
	n, err := c.cli.LLen(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read dlq length: %w", err)
	}
	return n, nil
}
