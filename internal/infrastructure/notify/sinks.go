package notify

import (
	"context"
	"time"

	"github.com/vitos/crypto_trade_pinbar/internal/domain"
	"go.uber.org/zap"
)

// LogSink writes every event to the structured log at a level matching its severity.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(evt domain.Event) {
	fields := []zap.Field{
		zap.String("type", string(evt.Type)),
		zap.String("instance", evt.InstanceID),
		zap.String("symbol", evt.Symbol),
		zap.Time("at", evt.Time),
	}
	switch evt.Severity {
	case domain.SeverityError:
		s.logger.Error(evt.Message, fields...)
	case domain.SeverityWarning:
		s.logger.Warn(evt.Message, fields...)
	default:
		s.logger.Info(evt.Message, fields...)
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// PublisherSink forwards events to an external channel such as Redis pub/sub.
type PublisherSink struct {
	pub     Publisher
	timeout time.Duration
	logger  *zap.Logger
}

func NewPublisherSink(pub Publisher, logger *zap.Logger) *PublisherSink {
	return &PublisherSink{pub: pub, timeout: 2 * time.Second, logger: logger}
}

func (s *PublisherSink) Notify(evt domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.pub.Publish(ctx, evt); err != nil {
		s.logger.Warn("Failed to publish event", zap.String("type", string(evt.Type)), zap.Error(err))
	}
}
