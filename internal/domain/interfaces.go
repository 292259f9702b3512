package domain

import "context"

// SessionProvider hands out a live session, minting or refreshing as needed.
type SessionProvider interface {
	// Get returns a session valid for at least the provider's refresh buffer.
	Get(ctx context.Context) (Session, error)
}

// SessionInvalidator is implemented by providers that can drop a session the
// remote API has rejected.
type SessionInvalidator interface {
	Invalidate()
}

// Handler is the unit of logic bound to a command name.
type Handler interface {
	// Run executes the command with a live session and validated arguments.
	// The returned payload is passed to the caller unchanged.
	Run(ctx context.Context, sess Session, args Args) (any, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, sess Session, args Args) (any, error)

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, sess Session, args Args) (any, error) {
	return f(ctx, sess, args)
}

// Cache is the optional read-through store handlers may consult.
type Cache interface {
	// Get returns the cached bytes for key and whether they were present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key. Implementations apply their own TTL.
	Set(ctx context.Context, key string, value []byte) error
}
