package changefeed

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes events to a logger. It is the sink used when no other
// destination is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging at Info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, event *Event) error {
	s.logger.Info("change",
		zap.String("id", event.ID),
		zap.String("table", event.Table),
		zap.String("op", string(event.Op)),
		zap.Any("key", event.Key),
		zap.Time("time", event.Time))
	return nil
}

func (s *LogSink) Close() error { return nil }
