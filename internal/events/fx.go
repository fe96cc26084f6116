package events

import (
	"context"
	"strings"

	"github.com/smallbiznis/chiron/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

// NewPublisher connects to RabbitMQ when RABBITMQ_URL is set and falls back
// to a noop publisher otherwise.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Publisher, error) {
	var pub Publisher = NewNoopPublisher(log)
	if url := strings.TrimSpace(cfg.RabbitMQURL); url != "" {
		rmq, err := NewRabbitMQPublisher(url, cfg.RabbitMQExchange, log)
		if err != nil {
			return nil, err
		}
		pub = rmq
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return pub.Close() },
	})
	return pub, nil
}
