// Package worker delivers queued SMS messages pulled off the Redis outbox.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chrismeisner/makethetake/internal/domain"
	"github.com/chrismeisner/makethetake/internal/platform/metrics"
)

// SMSDispatcher sends outbox messages through the configured messenger and
// keeps the delivery metrics.
type SMSDispatcher struct {
	messenger domain.Messenger
	logger    *slog.Logger
}

func NewSMSDispatcher(messenger domain.Messenger, logger *slog.Logger) *SMSDispatcher {
	return &SMSDispatcher{messenger: messenger, logger: logger}
}

// Dispatch sends one message. Errors bubble up so the consume loop can decide
// whether to keep going.
func (d *SMSDispatcher) Dispatch(ctx context.Context, msg domain.SMSMessage) error {
	if msg.To == "" || msg.Body == "" {
		metrics.ObserveSMSSent("invalid")
		d.logger.Warn("dropping malformed sms message", "to", msg.To)
		return nil
	}

	start := time.Now()
	if err := d.messenger.Send(ctx, msg); err != nil {
		metrics.ObserveSMSSent("error")
		return fmt.Errorf("worker: send sms to %s: %w", msg.To, err)
	}

	metrics.ObserveSMSSent("ok")
	metrics.ObserveSMSDeliveryDuration(time.Since(start).Seconds())
	d.logger.Info("sms delivered", "to", msg.To)
	return nil
}

// Run consumes the outbox until ctx is cancelled. Delivery failures are
// logged and skipped so one bad number never stalls the queue.
func (d *SMSDispatcher) Run(ctx context.Context, outbox domain.Outbox) error {
	return outbox.Consume(ctx, func(ctx context.Context, msg domain.SMSMessage) error {
		if err := d.Dispatch(ctx, msg); err != nil {
			d.logger.Error("sms dispatch failed", "to", msg.To, "err", err)
		}
		return nil
	})
}
