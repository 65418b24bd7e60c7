// Package nudge defines the boundary to the product's behavioral nudge
// subsystem. The engine emits advisory nudges through an injected Sink;
// emission is fire-and-forget and a Sink failure must never affect a
// committed financial mutation.
package nudge

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Nudge contexts understood by the notification subsystem.
const (
	ContextBudgeting = "budgeting"
	ContextSavings   = "savings"
)

// Nudge is an advisory behavioral message. It never mutates core state.
type Nudge struct {
	UserID    string         `json:"user_id"`
	Context   string         `json:"context"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sink delivers nudges to the external notification subsystem. Callers log
// and discard errors; they must not propagate to the API caller.
type Sink interface {
	Emit(ctx context.Context, n Nudge) error
}

// LogSink writes nudges to the structured log. Used when no delivery channel
// is configured.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, n Nudge) error {
	slog.Info("nudge emitted",
		"user", n.UserID,
		"context", n.Context,
		"payload", n.Payload,
	)
	return nil
}

// RedisSink publishes nudges to a Redis channel consumed by the notification
// subsystem.
type RedisSink struct {
	rdb     *redis.Client
	channel string
}

// NewRedisSink creates a sink publishing to the given channel.
func NewRedisSink(rdb *redis.Client, channel string) *RedisSink {
	return &RedisSink{rdb: rdb, channel: channel}
}

func (s *RedisSink) Emit(ctx context.Context, n Nudge) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.rdb.Publish(ctx, s.channel, data).Err()
}

// NopSink discards all nudges. Used in tests.
type NopSink struct{}

func (NopSink) Emit(context.Context, Nudge) error { return nil }
