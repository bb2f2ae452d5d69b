package relay

import (
	"errors"
	"fmt"

	"github.com/blackmichael/nostr-crosspost/internal/domain"
	"github.com/nbd-wtf/go-nostr"
)

// Verifier checks event authenticity before the event enters the pipeline.
// A nil Verifier accepts everything.
type Verifier func(*domain.Event) error

// VerifySchnorr checks that the event ID matches the canonical serialization
// and that the signature is a valid schnorr signature by the author key.
func VerifySchnorr(ev *domain.Event) error {
	ne := nostr.Event{
		ID:        ev.ID,
		PubKey:    ev.PubKey,
		CreatedAt: nostr.Timestamp(ev.CreatedAt.Unix()),
		Kind:      ev.Kind,
		Tags:      toNostrTags(ev.Tags),
		Content:   ev.Content,
		Sig:       ev.Sig,
	}

	if got := ne.GetID(); got != ev.ID {
		return fmt.Errorf("event id %s does not match serialization %s", ev.ID, got)
	}
	ok, err := ne.CheckSignature()
	if err != nil {
		return fmt.Errorf("check signature: %w", err)
	}
	if !ok {
		return errors.New("signature does not verify")
	}
	return nil
}

func toNostrTags(tags domain.Tags) nostr.Tags {
	out := make(nostr.Tags, len(tags))
	for i, t := range tags {
		out[i] = nostr.Tag(t)
	}
	return out
}
