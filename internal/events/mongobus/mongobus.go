package mongobus

import (
	"context"
	"log/slog"
	"time"

	"authd/internal/lib/sl"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Bus is a fire-and-forget event publisher backed by a MongoDB collection
// drained by downstream consumers. Publish never blocks the caller and
// never surfaces failures: delivery is at-most-once with no guarantee.
type Bus struct {
	logger  *slog.Logger
	events  *mongo.Collection
	timeout time.Duration
}

type eventDoc struct {
	ID          string    `bson:"_id"`
	Topic       string    `bson:"topic"`
	Payload     bson.M    `bson:"payload"`
	PublishedAt time.Time `bson:"published_at"`
}

// New returns a Bus writing to the events collection of the given database.
func New(logger *slog.Logger, db *mongo.Database) *Bus {
	return &Bus{
		logger:  logger,
		events:  db.Collection("events"),
		timeout: 5 * time.Second,
	}
}

// Publish dispatches the event without awaiting the outcome. The write runs
// on its own detached context so request cancellation cannot reach it.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) {
	const op = "events.mongobus.Publish"

	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()

		doc := eventDoc{
			ID:          uuid.NewString(),
			Topic:       topic,
			Payload:     toPayload(payload),
			PublishedAt: time.Now(),
		}

		if _, err := b.events.InsertOne(pubCtx, doc); err != nil {
			b.logger.Debug("event publish failed",
				slog.String("op", op),
				slog.String("topic", topic),
				sl.Err(err),
			)
		}
	}()
}

func toPayload(payload any) bson.M {
	if m, ok := payload.(map[string]any); ok {
		return bson.M(m)
	}
	return bson.M{"value": payload}
}
