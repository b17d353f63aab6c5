// Package notify pushes content-free "leaderboard changed" signals to connected clients.
// Clients refetch the leaderboard themselves; delivery is best effort and never retried.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/truenorth/internal/domain"
	"github.com/victornm/truenorth/internal/event"
)

const (
	TopicLeaderboard = "leaderboard"

	// TypeSubscribe and TypeUnsubscribe are the messages a client sends to (un)follow the leaderboard.
	TypeSubscribe   = "leaderboard:subscribe"
	TypeUnsubscribe = "leaderboard:unsubscribe"

	EventLeaderboardUpdate = "leaderboard:update"
)

type Notification struct {
	Event string `json:"event"`
}

// Broadcaster delivers a message to local clients of a topic.
type Broadcaster interface {
	Broadcast(topic string, msg []byte) int
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type Config struct {
	EventBus *event.Bus
	Hub      Broadcaster
	// Redis fans signals out to every instance. Nil delivers to the local hub only.
	Redis  Redis
	Prefix string
}

// Notifier turns leaderboard.updated events into client notifications.
type Notifier struct {
	hub    Broadcaster
	redis  Redis
	prefix string
}

func New(c Config) *Notifier {
	n := &Notifier{
		hub:    c.Hub,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return n.LeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return n
}

// Channel is the Redis channel signals travel on between instances.
func (n *Notifier) Channel() string {
	return fmt.Sprintf("%s:%s", n.prefix, TopicLeaderboard)
}

func (n *Notifier) LeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	b, err := json.Marshal(Notification{Event: EventLeaderboardUpdate})
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", e.Name(), err)
	}

	if n.redis == nil {
		sent := n.hub.Broadcast(TopicLeaderboard, b)
		slog.DebugContext(ctx, "notify: leaderboard update sent", "reason", e.Reason, "clients", sent)
		return nil
	}

	return n.redis.Publish(ctx, n.Channel(), b).Err()
}

// Relay forwards signals published on Redis to the local hub until ctx is done.
// Without Redis it only waits for ctx.
func (n *Notifier) Relay(ctx context.Context) error {
	if n.redis == nil {
		<-ctx.Done()
		return nil
	}

	sub := n.redis.Subscribe(ctx, n.Channel())
	defer sub.Close()

	// wait for the subscription so nothing published afterwards is missed
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("notify: subscribe %s: %w", n.Channel(), err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			sent := n.hub.Broadcast(TopicLeaderboard, []byte(msg.Payload))
			slog.DebugContext(ctx, "notify: relayed leaderboard update", "clients", sent)
		}
	}
}
