package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docuflow/pkg/logger"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

type relayMessage struct {
	UserID  uuid.UUID       `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

// Relay publishes pushes on a redis channel so that every API instance
// delivers them to the connections it holds.
type Relay struct {
	hub     *Hub
	rdb     *goredis.Client
	channel string
	log     *logger.Logger
}

func NewRelay(hub *Hub, addr, channel string, log *logger.Logger) (*Relay, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Relay{hub: hub, rdb: rdb, channel: channel, log: log.With("component", "ws-relay")}, nil
}

// Push publishes instead of delivering locally; Start feeds the message back into the hub.
func (r *Relay) Push(userID uuid.UUID, payload []byte) {
	raw, err := json.Marshal(relayMessage{UserID: userID, Payload: payload})
	if err != nil {
		r.log.Warn("failed to encode relay message", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		r.log.Warn("redis publish failed, delivering locally", "error", err)
		r.hub.Push(userID, payload)
	}
}

// Start subscribes to the channel and forwards messages to the local hub until ctx ends.
func (r *Relay) Start(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var msg relayMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					r.log.Warn("bad relay payload", "error", err)
					continue
				}
				r.hub.Push(msg.UserID, msg.Payload)
			}
		}
	}()
	return nil
}

func (r *Relay) Close() error {
	return r.rdb.Close()
}
