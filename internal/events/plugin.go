package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/chiron/internal/adapter"
	"github.com/smallbiznis/chiron/internal/clock"
	"github.com/smallbiznis/chiron/internal/observability/metrics"
	"github.com/smallbiznis/chiron/internal/plugin"
	"github.com/smallbiznis/chiron/internal/repository"
	"go.uber.org/zap"
)

const (
	PluginID = "events"

	TypeSubscriptionCreated = "subscription.created"
	TypeSubscriptionUpdated = "subscription.updated"
)

// Event is the JSON message body.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurredAt"`
	Data       adapter.Record `json:"data"`
}

type Options struct {
	Publisher Publisher
	Metrics   *metrics.Metrics
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Plugin publishes every persisted subscription create and update. Publish
// failures are logged and counted; they never fail the write.
func Plugin(opts Options) plugin.Plugin {
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = NewNoopPublisher(opts.Logger)
	}
	e := &emitter{opts: opts, log: opts.Logger.Named("events")}
	return plugin.Plugin{
		ID: PluginID,
		Hooks: repository.Hooks{
			Subscription: repository.ModelHooks{
				Create: repository.OperationHooks{After: e.after(TypeSubscriptionCreated)},
				Update: repository.OperationHooks{After: e.after(TypeSubscriptionUpdated)},
			},
		},
	}
}

type emitter struct {
	opts Options
	log  *zap.Logger
}

func (e *emitter) after(eventType string) repository.AfterHook {
	return func(ctx context.Context, row adapter.Record) {
		err := e.publish(ctx, eventType, row)
		e.opts.Metrics.RecordEvent(ctx, eventType, err)
		if err != nil {
			e.log.Warn("event publish failed", zap.String("type", eventType), zap.Any("id", row["id"]), zap.Error(err))
		}
	}
}

func (e *emitter) publish(ctx context.Context, eventType string, row adapter.Record) error {
	payload, err := json.Marshal(Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: e.opts.Clock.Now(),
		Data:       row,
	})
	if err != nil {
		return err
	}
	return e.opts.Publisher.Publish(ctx, eventType, payload)
}
