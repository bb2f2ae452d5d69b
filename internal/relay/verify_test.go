package relay

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/nostr-crosspost/internal/domain"
)

// signedNote produces a genuinely signed text note converted to the domain
// representation.
func signedNote(t *testing.T, content string) *domain.Event {
	t.Helper()

	sk := nostr.GeneratePrivateKey()
	ne := nostr.Event{
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      domain.KindTextNote,
		Tags:      nostr.Tags{},
		Content:   content,
	}
	require.NoError(t, ne.Sign(sk))

	tags := make(domain.Tags, len(ne.Tags))
	for i, tag := range ne.Tags {
		tags[i] = []string(tag)
	}
	return &domain.Event{
		ID:        ne.ID,
		PubKey:    ne.PubKey,
		CreatedAt: time.Unix(int64(ne.CreatedAt), 0),
		Kind:      ne.Kind,
		Tags:      tags,
		Content:   ne.Content,
		Sig:       ne.Sig,
	}
}

func TestVerifySchnorr_AcceptsSignedEvent(t *testing.T) {
	ev := signedNote(t, "hello from the test suite")
	assert.NoError(t, VerifySchnorr(ev))
}

func TestVerifySchnorr_RejectsTamperedContent(t *testing.T) {
	ev := signedNote(t, "original content")
	ev.Content = "tampered content"

	err := VerifySchnorr(ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match serialization")
}

func TestVerifySchnorr_RejectsForeignSignature(t *testing.T) {
	ev := signedNote(t, "note one")
	other := signedNote(t, "note two")

	// Well-formed signature, but made over a different event.
	ev.Sig = other.Sig
	assert.Error(t, VerifySchnorr(ev))
}

func TestVerifySchnorr_RejectsTamperedTimestamp(t *testing.T) {
	ev := signedNote(t, "some note")
	ev.CreatedAt = ev.CreatedAt.Add(time.Hour)
	assert.Error(t, VerifySchnorr(ev))
}
