package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/blackmichael/nostr-crosspost/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Query opens a short-lived subscription, collects stored events until EOSE,
// and closes it. Callers should bound it with a context deadline.
func Query(ctx context.Context, url string, filter Filter) ([]*domain.Event, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	// The watcher is the only read bound: a socket deadline would race the
	// context timer and surface as an i/o timeout instead of the ctx error.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	subID := uuid.NewString()
	req, err := encodeReq(subID, filter)
	if err != nil {
		return nil, fmt.Errorf("encode query request: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return nil, fmt.Errorf("send query request: %w", err)
	}

	var events []*domain.Event
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read message: %w", err)
		}

		msg, err := parseMessage(data)
		if err != nil {
			continue
		}

		switch msg.Type {
		case msgEvent:
			if msg.SubID != subID {
				continue
			}
			ev, err := msg.Event.toDomain()
			if err != nil {
				continue
			}
			events = append(events, ev)

		case msgEOSE:
			if msg.SubID != subID {
				continue
			}
			if data, err := encodeClose(subID); err == nil {
				conn.WriteMessage(websocket.TextMessage, data)
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return events, nil

		case msgClosed:
			if msg.SubID == subID {
				return nil, fmt.Errorf("query closed by relay: %s", msg.Text)
			}
		}
	}
}
