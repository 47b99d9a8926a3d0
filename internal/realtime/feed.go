package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is one row-level change. New and Old are generic maps so the hub
// can match subscriber column filters without knowing the table schema.
// Events are delivered in commit order per row; there is no cross-row
// ordering guarantee.
type Event struct {
	Type  EventType      `json:"event_type"`
	Table string         `json:"table"`
	New   map[string]any `json:"new,omitempty"`
	Old   map[string]any `json:"old,omitempty"`
}

// Publisher pushes change events to whatever transport fans them out to
// subscribed clients.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

const channelPrefix = "feed"

func channelFor(table string) string {
	return fmt.Sprintf("%s:%s", channelPrefix, table)
}

// RedisPublisher publishes events on a per-table Redis pub/sub channel.
// Writers publish after their transaction commits, so subscribers never
// observe uncommitted state.
type RedisPublisher struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisPublisher(client *redis.Client, log zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		log:    log.With().Str("component", "realtime-publisher").Logger(),
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}

	if err := p.client.Publish(ctx, channelFor(ev.Table), payload).Err(); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}

	p.log.Debug().
		Str("table", ev.Table).
		Str("event_type", string(ev.Type)).
		Msg("change event published")

	return nil
}

// Row converts a struct to the generic map shape events carry, going
// through its JSON representation so column names match the wire format.
func Row(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
