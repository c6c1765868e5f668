package notify

import (
	"context"
)

// Publisher is the event bus surface the sender rides on.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

// BusSender routes reset codes to the out-of-band delivery pipeline via the
// event bus. The code travels only inside the payload and is never logged.
type BusSender struct {
	bus Publisher
}

func NewBusSender(bus Publisher) *BusSender {
	return &BusSender{bus: bus}
}

func (s *BusSender) SendResetCode(ctx context.Context, phone string, code string) error {
	s.bus.Publish(ctx, "sms.reset-code", map[string]any{
		"phone": phone,
		"code":  code,
	})
	return nil
}
