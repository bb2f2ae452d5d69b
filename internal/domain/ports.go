package domain

import (
	"context"
	"errors"
)

// ErrAlreadySeen is returned by SeenStore.Commit when the event ID was
// recorded by an earlier commit.
var ErrAlreadySeen = errors.New("event already recorded")

// SeenStore tracks which source event IDs have been crossposted. An ID is
// committed only after a publish attempt succeeded, so a crash between
// filtering and publishing never marks an event as seen without an attempt.
type SeenStore interface {
	// Contains reports whether the event ID has been committed.
	Contains(ctx context.Context, id string) (bool, error)

	// Commit records the event ID. It returns ErrAlreadySeen if the ID is
	// already present. Implementations must make the insert-if-absent check
	// atomic so concurrent committers cannot both succeed.
	Commit(ctx context.Context, id string) error

	// Count returns the number of committed IDs.
	Count(ctx context.Context) (int64, error)

	// Close releases any resources held by the store.
	Close() error
}
