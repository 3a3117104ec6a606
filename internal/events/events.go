package events

import (
	"context"
	"log/slog"
	"time"
)

const (
	RoutingKeyAccountLocked        = "account.locked"
	RoutingKeyAccountStatusChanged = "account.status_changed"
)

// Event is the JSON body published for account lifecycle changes.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	AccountID  string            `json:"account_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}

// Publisher delivers account events to other services.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// LogPublisher is used when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, evt Event) error {
	p.logger.InfoContext(ctx, "account event",
		slog.String("type", evt.Type),
		slog.String("account_id", evt.AccountID),
		slog.Any("data", evt.Data))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
