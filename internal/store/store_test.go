package store

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/nostr-crosspost/internal/domain"
)

func eventID(c byte) string {
	return strings.Repeat(string(c), 64)
}

// seenStores builds one of each implementation so the contract tests run
// against both.
func seenStores(t *testing.T) map[string]domain.SeenStore {
	t.Helper()

	sq, err := NewSQLite(filepath.Join(t.TempDir(), "seen.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	return map[string]domain.SeenStore{
		"memory": NewMemory(),
		"sqlite": sq,
	}
}

func TestSeenStore_CommitAndContains(t *testing.T) {
	ctx := context.Background()

	for name, s := range seenStores(t) {
		t.Run(name, func(t *testing.T) {
			seen, err := s.Contains(ctx, eventID('a'))
			require.NoError(t, err)
			assert.False(t, seen)

			require.NoError(t, s.Commit(ctx, eventID('a')))

			seen, err = s.Contains(ctx, eventID('a'))
			require.NoError(t, err)
			assert.True(t, seen)

			seen, err = s.Contains(ctx, eventID('b'))
			require.NoError(t, err)
			assert.False(t, seen, "unrelated id should stay unseen")
		})
	}
}

func TestSeenStore_DuplicateCommit(t *testing.T) {
	ctx := context.Background()

	for name, s := range seenStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Commit(ctx, eventID('c')))
			assert.ErrorIs(t, s.Commit(ctx, eventID('c')), domain.ErrAlreadySeen)

			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestSeenStore_Count(t *testing.T) {
	ctx := context.Background()

	for name, s := range seenStores(t) {
		t.Run(name, func(t *testing.T) {
			n, err := s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(0), n)

			require.NoError(t, s.Commit(ctx, eventID('d')))
			require.NoError(t, s.Commit(ctx, eventID('e')))

			n, err = s.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)
		})
	}
}

// Exactly one of many concurrent commits for the same id may win; the rest
// must see ErrAlreadySeen.
func TestSeenStore_ConcurrentCommitsSingleWinner(t *testing.T) {
	ctx := context.Background()

	for name, s := range seenStores(t) {
		t.Run(name, func(t *testing.T) {
			var (
				wg   sync.WaitGroup
				wins atomic.Int32
			)
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := s.Commit(ctx, eventID('f'))
					if err == nil {
						wins.Add(1)
						return
					}
					assert.ErrorIs(t, err, domain.ErrAlreadySeen)
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seen.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, eventID('a')))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	seen, err := reopened.Contains(ctx, eventID('a'))
	require.NoError(t, err)
	assert.True(t, seen, "dedup state should survive a restart")

	assert.ErrorIs(t, reopened.Commit(ctx, eventID('a')), domain.ErrAlreadySeen)

	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
