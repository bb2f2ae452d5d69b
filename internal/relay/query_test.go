package relay

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_CollectsUntilEOSE(t *testing.T) {
	start := time.Now().Truncate(time.Second)
	url := newRelayServer(t, func(rc *relayConn) {
		rc.sendEvent(hexID('1'), start, `{"name":"alice"}`)
		rc.sendEvent(hexID('2'), start.Add(time.Second), `{"name":"alice","display_name":"Alice"}`)
		rc.sendEOSE()
		rc.hold()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := Query(ctx, url, Filter{Authors: []string{testAuthor}, Kinds: []int{0}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, hexID('1'), events[0].ID)
	assert.Equal(t, hexID('2'), events[1].ID)
}

func TestQuery_EmptyResult(t *testing.T) {
	url := newRelayServer(t, func(rc *relayConn) {
		rc.sendEOSE()
		rc.hold()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := Query(ctx, url, Filter{Authors: []string{testAuthor}})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQuery_ClosedByRelay(t *testing.T) {
	url := newRelayServer(t, func(rc *relayConn) {
		rc.conn.WriteJSON([]any{"CLOSED", rc.subID, "auth-required: restricted"})
		rc.hold()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := Query(ctx, url, Filter{Authors: []string{testAuthor}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth-required")
}

func TestQuery_ContextTimeout(t *testing.T) {
	url := newRelayServer(t, func(rc *relayConn) {
		// Never answer.
		rc.hold()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := Query(ctx, url, Filter{Authors: []string{testAuthor}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// The deadline must surface as the ctx error, not as a socket timeout.
	assert.NotErrorIs(t, err, os.ErrDeadlineExceeded)
}
