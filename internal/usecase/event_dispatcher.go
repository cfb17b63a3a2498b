package usecase

import (
	"context"
	"sync/atomic"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"go.uber.org/zap"
)

// EventDispatcher fans events out to sinks from a single goroutine. Notify never
// blocks: when the buffer is full the event is dropped and counted.
type EventDispatcher struct {
	events  chan domain.Event
	sinks   []domain.Notifier
	logger  *zap.Logger
	dropped atomic.Int64
}

func NewEventDispatcher(buffer int, logger *zap.Logger, sinks ...domain.Notifier) *EventDispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventDispatcher{
		events: make(chan domain.Event, buffer),
		sinks:  sinks,
		logger: logger,
	}
}

func (d *EventDispatcher) Notify(evt domain.Event) {
	select {
	case d.events <- evt:
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("Event buffer full, dropping event",
			zap.String("type", string(evt.Type)),
			zap.String("instance", evt.InstanceID),
			zap.Int64("dropped_total", n))
	}
}

func (d *EventDispatcher) Dropped() int64 { return d.dropped.Load() }

// Run delivers events until ctx is cancelled, then flushes what is already buffered.
func (d *EventDispatcher) Run(ctx context.Context) {
	for {
		select {
		case evt := <-d.events:
			d.deliver(evt)
		case <-ctx.Done():
			for {
				select {
				case evt := <-d.events:
					d.deliver(evt)
				default:
					return
				}
			}
		}
	}
}

func (d *EventDispatcher) deliver(evt domain.Event) {
	for _, sink := range d.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("Event sink panicked", zap.Any("panic", r))
				}
			}()
			sink.Notify(evt)
		}()
	}
}
