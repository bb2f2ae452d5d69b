package profile

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/blackmichael/nostr-crosspost/internal/domain"
	"github.com/blackmichael/nostr-crosspost/internal/relay"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/rs/zerolog"
)

const lookupTimeout = 5 * time.Second

var mentionPattern = regexp.MustCompile(`nostr:(npub1[qpzry9x8gf2tvdw0s3jn54khce6mua7l]+)`)

// QueryFunc fetches stored events matching a filter. It exists so tests can
// stub the relay round trip.
type QueryFunc func(ctx context.Context, url string, filter relay.Filter) ([]*domain.Event, error)

// Resolver replaces nostr:npub mentions in note text with the mentioned
// profile's display name, fetched from the relay's kind-0 metadata.
type Resolver struct {
	relayURL string
	query    QueryFunc
	log      zerolog.Logger
}

// NewResolver creates a Resolver that looks profiles up on the given relay.
func NewResolver(relayURL string, log zerolog.Logger) *Resolver {
	return &Resolver{relayURL: relayURL, query: relay.Query, log: log}
}

// Mentions returns the npub mentions found in content, in order, duplicates
// included.
func Mentions(content string) []string {
	var npubs []string
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		npubs = append(npubs, m[1])
	}
	return npubs
}

// Resolve replaces each nostr:npub mention with the profile's display name,
// falling back to the bare npub when the lookup fails. Failures never block
// the post.
func (r *Resolver) Resolve(ctx context.Context, content string) string {
	npubs := Mentions(content)
	if len(npubs) == 0 {
		return content
	}

	r.log.Info().Int("mentions", len(npubs)).Msg("resolving npub mentions")

	done := make(map[string]bool)
	for _, npub := range npubs {
		if done[npub] {
			continue
		}
		done[npub] = true

		mention := "nostr:" + npub
		if name := r.displayName(ctx, npub); name != "" {
			content = strings.ReplaceAll(content, mention, name)
			r.log.Info().Str("npub", npub).Str("display_name", name).Msg("resolved mention")
		} else {
			content = strings.ReplaceAll(content, mention, npub)
			r.log.Debug().Str("npub", npub).Msg("could not resolve mention, dropping prefix")
		}
	}
	return content
}

func (r *Resolver) displayName(ctx context.Context, npub string) string {
	prefix, value, err := nip19.Decode(npub)
	if err != nil || prefix != "npub" {
		r.log.Warn().Err(err).Str("npub", npub).Msg("invalid npub mention")
		return ""
	}
	pubkey, ok := value.(string)
	if !ok {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	events, err := r.query(ctx, r.relayURL, relay.Filter{
		Authors: []string{pubkey},
		Kinds:   []int{domain.KindProfileMetadata},
		Limit:   1,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("npub", npub).Msg("profile lookup failed")
		return ""
	}
	if len(events) == 0 {
		r.log.Debug().Str("npub", npub).Msg("no profile metadata found")
		return ""
	}

	// Kind 0 is replaceable; take the newest if the relay sent several.
	ev := events[0]
	for _, e := range events[1:] {
		if e.CreatedAt.After(ev.CreatedAt) {
			ev = e
		}
	}

	var meta struct {
		DisplayName string `json:"display_name"`
		Name        string `json:"name"`
	}
	if err := json.Unmarshal([]byte(ev.Content), &meta); err != nil {
		r.log.Warn().Err(err).Str("npub", npub).Msg("invalid profile metadata")
		return ""
	}
	if meta.DisplayName != "" {
		return meta.DisplayName
	}
	return meta.Name
}
