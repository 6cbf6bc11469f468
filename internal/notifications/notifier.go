// Package notifications publishes realtime settlement events to users over
// Redis pub/sub.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types published to user channels.
const (
	EventTokenClaimed       = "token.claimed"
	EventPurchaseSettled    = "purchase.settled"
	EventTokenMintSubmitted = "token.mint_submitted"
)

// Event is the JSON envelope delivered on a user channel.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
	now func() time.Time
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb, now: time.Now}
}

// UserChannel is the pub/sub channel for one user's events.
func UserChannel(userID uint) string {
	return fmt.Sprintf("notifications:user:%d", userID)
}

// PublishUser sends a notification payload to a user's channel.
func (n *Notifier) PublishUser(ctx context.Context, userID uint, payload string) error {
	if n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}

// PublishEvent wraps data in an Event envelope and publishes it to userID.
func (n *Notifier) PublishEvent(ctx context.Context, userID uint, eventType string, data any) error {
	body, err := json.Marshal(Event{Type: eventType, Data: data, CreatedAt: n.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return n.PublishUser(ctx, userID, string(body))
}
