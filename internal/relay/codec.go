package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blackmichael/nostr-crosspost/internal/domain"
)

// messageType identifies a parsed relay-to-client message.
type messageType int

const (
	msgEvent messageType = iota
	msgEOSE
	msgClosed
	msgNotice
	msgIgnored
)

// serverMessage is one decoded relay-to-client frame. NIP-01 frames are JSON
// arrays labelled by their first element.
type serverMessage struct {
	Type  messageType
	Label string
	SubID string
	Event *wireEvent
	Text  string
}

// wireEvent is the raw JSON structure of a nostr event.
type wireEvent struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Filter narrows a subscription. Zero-valued fields are omitted from the
// request.
type Filter struct {
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Since   int64    `json:"since,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

func parseMessage(data []byte) (*serverMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if len(arr) == 0 {
		return nil, errors.New("empty message array")
	}

	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		return nil, fmt.Errorf("unmarshal message label: %w", err)
	}

	switch label {
	case "EVENT":
		if len(arr) < 3 {
			return nil, fmt.Errorf("EVENT message has %d elements, want 3", len(arr))
		}
		msg := &serverMessage{Type: msgEvent, Label: label}
		if err := json.Unmarshal(arr[1], &msg.SubID); err != nil {
			return nil, fmt.Errorf("unmarshal subscription id: %w", err)
		}
		msg.Event = &wireEvent{}
		if err := json.Unmarshal(arr[2], msg.Event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		return msg, nil

	case "EOSE":
		if len(arr) < 2 {
			return nil, fmt.Errorf("EOSE message has %d elements, want 2", len(arr))
		}
		msg := &serverMessage{Type: msgEOSE, Label: label}
		if err := json.Unmarshal(arr[1], &msg.SubID); err != nil {
			return nil, fmt.Errorf("unmarshal subscription id: %w", err)
		}
		return msg, nil

	case "CLOSED":
		if len(arr) < 3 {
			return nil, fmt.Errorf("CLOSED message has %d elements, want 3", len(arr))
		}
		msg := &serverMessage{Type: msgClosed, Label: label}
		if err := json.Unmarshal(arr[1], &msg.SubID); err != nil {
			return nil, fmt.Errorf("unmarshal subscription id: %w", err)
		}
		if err := json.Unmarshal(arr[2], &msg.Text); err != nil {
			return nil, fmt.Errorf("unmarshal close reason: %w", err)
		}
		return msg, nil

	case "NOTICE":
		if len(arr) < 2 {
			return nil, fmt.Errorf("NOTICE message has %d elements, want 2", len(arr))
		}
		msg := &serverMessage{Type: msgNotice, Label: label}
		if err := json.Unmarshal(arr[1], &msg.Text); err != nil {
			return nil, fmt.Errorf("unmarshal notice: %w", err)
		}
		return msg, nil

	default:
		// OK, AUTH, COUNT and future message types are not errors, just
		// nothing we act on.
		return &serverMessage{Type: msgIgnored, Label: label}, nil
	}
}

// toDomain validates the wire event and converts it. Events with malformed
// identity fields are rejected here so nothing downstream has to re-check.
func (w *wireEvent) toDomain() (*domain.Event, error) {
	if !isHex(w.ID, 64) {
		return nil, fmt.Errorf("invalid event id %q", w.ID)
	}
	if !isHex(w.PubKey, 64) {
		return nil, fmt.Errorf("invalid pubkey %q", w.PubKey)
	}
	if !isHex(w.Sig, 128) {
		return nil, fmt.Errorf("invalid signature on event %s", w.ID)
	}
	if w.CreatedAt <= 0 {
		return nil, fmt.Errorf("missing created_at on event %s", w.ID)
	}

	return &domain.Event{
		ID:        w.ID,
		PubKey:    w.PubKey,
		CreatedAt: time.Unix(w.CreatedAt, 0),
		Kind:      w.Kind,
		Tags:      domain.Tags(w.Tags),
		Content:   w.Content,
		Sig:       w.Sig,
	}, nil
}

func encodeReq(subID string, filter Filter) ([]byte, error) {
	return json.Marshal([]any{"REQ", subID, filter})
}

func encodeClose(subID string) ([]byte, error) {
	return json.Marshal([]any{"CLOSE", subID})
}

// isHex reports whether s is exactly n lowercase hex characters.
func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
