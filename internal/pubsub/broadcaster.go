package pubsub

import "context"

// Broadcaster fans out digests and high-score alerts to downstream consumers
type Broadcaster interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Health(ctx context.Context) error
}
