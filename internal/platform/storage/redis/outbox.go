// Package redis implements the SMS outbox queue and fast tally counters.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chrismeisner/makethetake/internal/domain"
)

// Outbox uses a Redis list to hand confirmation texts to the delivery worker.
type Outbox struct {
	client *redis.Client
	key    string
}

func NewOutbox(client *redis.Client, key string) *Outbox {
	return &Outbox{
		client: client,
		key:    key,
	}
}

func (o *Outbox) Publish(ctx context.Context, msg domain.SMSMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis outbox: marshal message: %w", err)
	}
	if err := o.client.LPush(ctx, o.key, payload).Err(); err != nil {
		return fmt.Errorf("redis outbox: enqueue: %w", err)
	}
	return nil
}

func (o *Outbox) Consume(ctx context.Context, handler func(context.Context, domain.SMSMessage) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// BRPOP blocks with a short timeout so the context stays responsive.
		res, err := o.client.BRPop(ctx, 5*time.Second, o.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("redis outbox: consume: %w", err)
		}

		if len(res) != 2 {
			continue
		}

		var msg domain.SMSMessage
		if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
			return fmt.Errorf("redis outbox: invalid payload: %w", err)
		}

		// Handler errors stop the loop; the caller decides how to restart.
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
}

var _ domain.Outbox = (*Outbox)(nil)
