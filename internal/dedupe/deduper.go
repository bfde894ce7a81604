package dedupe

import "context"

// Deduper answers "has this event been reported before" across restarts and
// re-fetched provider windows. Implementations: redis (cluster), in-memory (dev).
type Deduper interface {
	// Seen marks the id and reports whether it was already marked.
	// alreadySeen=true -> duplicate, the event must not be emitted again.
	Seen(ctx context.Context, id string) (alreadySeen bool, err error)
}
