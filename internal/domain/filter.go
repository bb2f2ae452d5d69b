package domain

import (
	"context"
	"strings"
)

// SkipReason identifies why an event was not crossposted.
type SkipReason string

const (
	SkipWrongKind    SkipReason = "wrong-kind"
	SkipIsReply      SkipReason = "is-reply"
	SkipEmptyContent SkipReason = "empty-content"
	SkipDuplicate    SkipReason = "duplicate"
)

// Decision is the outcome of an eligibility check.
type Decision struct {
	Eligible bool
	Reason   SkipReason
}

// Filter decides whether an event is eligible for crossposting. It reads the
// seen store but never writes it; committing an ID happens only after a
// successful publish.
type Filter struct {
	seen SeenStore
}

// NewFilter creates a Filter backed by the given seen store.
func NewFilter(seen SeenStore) *Filter {
	return &Filter{seen: seen}
}

// Decide applies the eligibility rules in order, first match wins: wrong
// kind, reply, empty content, already seen.
func (f *Filter) Decide(ctx context.Context, ev *Event) (Decision, error) {
	if ev.Kind != KindTextNote {
		return Decision{Reason: SkipWrongKind}, nil
	}
	if ev.IsReply() {
		return Decision{Reason: SkipIsReply}, nil
	}
	if strings.TrimSpace(ev.Content) == "" {
		return Decision{Reason: SkipEmptyContent}, nil
	}
	seen, err := f.seen.Contains(ctx, ev.ID)
	if err != nil {
		return Decision{}, err
	}
	if seen {
		return Decision{Reason: SkipDuplicate}, nil
	}
	return Decision{Eligible: true}, nil
}
