package domain

import "time"

// Event kinds relevant to the crossposter.
const (
	// KindProfileMetadata is the kind 0 profile record, queried when
	// resolving npub mentions to display names.
	KindProfileMetadata = 0

	// KindTextNote is the kind 1 plain short-form post. Only text notes
	// are crossposted.
	KindTextNote = 1
)

// Event represents one observed Nostr event.
type Event struct {
	// ID is the content-derived identifier of the event (64-char lowercase
	// hex). Two events with equal IDs are the same logical post; an event is
	// either crossposted once or ignored, never diffed or updated.
	ID string

	// PubKey is the author's public key (64-char lowercase hex).
	PubKey string

	// CreatedAt is the timestamp claimed by the event. It is used for the
	// session-start cutoff and display only, not for ordering guarantees.
	CreatedAt time.Time

	// Kind is the event classification.
	Kind int

	// Tags is the event's ordered tag list.
	Tags Tags

	// Content is the raw text body. It may embed plain URLs.
	Content string

	// Sig is the schnorr signature over the serialized event (128-char hex).
	Sig string
}

// IsReply reports whether the event replies to another event.
func (e *Event) IsReply() bool {
	return e.Tags.HasEventRef()
}

// Tags is an event's ordered tag list. Each entry is a sequence of strings
// whose first element names the tag.
type Tags [][]string

// HasEventRef reports whether any tag references another event ("e" tag).
// A note carrying an event reference is a reply.
func (t Tags) HasEventRef() bool {
	for _, tag := range t {
		if len(tag) > 0 && tag[0] == "e" {
			return true
		}
	}
	return false
}
