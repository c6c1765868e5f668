package logbus

import (
	"context"
	"log/slog"
)

// Bus is the local-environment event publisher: it records the topic and
// drops the event. Payloads are not logged so secrets never reach stdout.
type Bus struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

func (b *Bus) Publish(_ context.Context, topic string, _ any) {
	b.logger.Debug("event dropped", slog.String("topic", topic))
}
