package progress

import "context"

// Sink consumes batches of committed changes. Implementations must tolerate
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Change) error
	Close(ctx context.Context) error
}

// Emitter publishes individual changes; Hub satisfies it so the Store stays
// agnostic about how changes are buffered or persisted.
type Emitter interface {
	Emit(c Change)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Change)

// Emit calls f(c).
func (f EmitterFunc) Emit(c Change) { f(c) }
