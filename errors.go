package gtfscache

import "errors"

var (
	// ErrShuttingDown: the manager is tearing down, no new work is
	// accepted.
	ErrShuttingDown = errors.New("manager is shutting down")

	// ErrUnknownProvider: no configuration exists for the
	// requested provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrCorruptArchive: the cached archive failed validation or
	// decompression. The cache has been deleted, the next attempt
	// re-downloads.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrCorruptFeed: the realtime payload did not decode. The
	// request is retryable.
	ErrCorruptFeed = errors.New("malformed realtime feed")

	// ErrEmptyFeed: a load completed but produced zero stops.
	ErrEmptyFeed = errors.New("no stops after load")
)
