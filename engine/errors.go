package engine

import (
	"errors"

	"github.com/eagroute/go-eagroute/model"
	"github.com/eagroute/go-eagroute/store"
)

// Sentinel errors crossing the engine boundary. The server maps them to
// HTTP status codes with errors.Is.
var (
	// ErrNotFound: a referenced entity does not exist.
	ErrNotFound = store.ErrNotFound
	// ErrInvalidInput: the request names an entity that cannot serve the
	// role, e.g. a delivery node that is not a delivery point.
	ErrInvalidInput = errors.New("invalid input")
	// ErrIllegalTransition: the lifecycle tables forbid the change.
	ErrIllegalTransition = model.ErrIllegalTransition
	// ErrThrottled: the restaurant is at its admission limit.
	ErrThrottled = errors.New("restaurant order limit reached")
	// ErrUnreachable: no path connects two nodes. Never crosses the HTTP
	// boundary; planning skips unreachable work and retries next tick.
	ErrUnreachable = errors.New("no path between nodes")
)
