package crosspost

import (
	"context"
	"errors"
	"time"

	"github.com/blackmichael/nostr-crosspost/internal/bluesky"
	"github.com/blackmichael/nostr-crosspost/internal/domain"
	"github.com/blackmichael/nostr-crosspost/internal/media"
	"github.com/rs/zerolog"
)

const statsInterval = 30 * time.Second

// Publisher is what the orchestrator needs from the Bluesky side.
type Publisher interface {
	Publish(ctx context.Context, text string, attachments []media.Attachment) (*bluesky.Result, error)
}

// MentionResolver rewrites nostr:npub mentions in note text. Implementations
// are best-effort: a failed lookup degrades the text, never the post.
type MentionResolver interface {
	Resolve(ctx context.Context, content string) string
}

// Service consumes events from the relay session and crossposts the eligible
// ones. A single worker processes events in arrival order, one publish in
// flight at a time, and it is the only writer to the seen store.
type Service struct {
	filter    *domain.Filter
	seen      domain.SeenStore
	resolver  MentionResolver
	extractor *media.Extractor
	publisher Publisher
	log       zerolog.Logger

	crossposted int64
	skipped     int64
	failed      int64
}

// NewService wires the pipeline stages together. A nil resolver disables
// mention resolution.
func NewService(seen domain.SeenStore, resolver MentionResolver, extractor *media.Extractor, publisher Publisher, log zerolog.Logger) *Service {
	return &Service{
		filter:    domain.NewFilter(seen),
		seen:      seen,
		resolver:  resolver,
		extractor: extractor,
		publisher: publisher,
		log:       log,
	}
}

// Run processes events until the channel closes or the context is
// cancelled.
func (s *Service) Run(ctx context.Context, events <-chan *domain.Event) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ctx, ev)

		case <-ticker.C:
			s.logStats(ctx)
		}
	}
}

// logStats emits the pipeline counters plus the durable seen total.
func (s *Service) logStats(ctx context.Context) {
	evt := s.log.Info().
		Int64("crossposted", s.crossposted).
		Int64("skipped", s.skipped).
		Int64("failed", s.failed)
	if total, err := s.seen.Count(ctx); err == nil {
		evt = evt.Int64("seen_total", total)
	} else {
		s.log.Warn().Err(err).Msg("seen store count failed")
	}
	evt.Msg("crosspost stats")
}

func (s *Service) handle(ctx context.Context, ev *domain.Event) {
	log := s.log.With().Str("event_id", ev.ID).Logger()

	decision, err := s.filter.Decide(ctx, ev)
	if err != nil {
		s.failed++
		log.Error().Err(err).Msg("eligibility check failed")
		return
	}
	if !decision.Eligible {
		s.skipped++
		log.Debug().Str("reason", string(decision.Reason)).Msg("skipping event")
		return
	}

	log.Info().
		Str("author", ev.PubKey).
		Time("created_at", ev.CreatedAt).
		Str("preview", truncate(ev.Content, 100)).
		Msg("new note")

	content := ev.Content
	if s.resolver != nil {
		content = s.resolver.Resolve(ctx, content)
	}

	urls := media.CandidateURLs(content)
	if len(urls) > 0 {
		log.Info().Int("images", len(urls)).Msg("found image urls in note")
	}
	attachments := s.extractor.Extract(ctx, urls)

	result, err := s.publisher.Publish(ctx, content, attachments)
	if err != nil {
		s.failed++
		s.logPublishFailure(log, err)
		return
	}

	// Commit only after a successful publish. A failed attempt stays
	// uncommitted so a redelivery of the same event can try again.
	if err := s.seen.Commit(ctx, ev.ID); err != nil {
		if errors.Is(err, domain.ErrAlreadySeen) {
			log.Warn().Msg("event was already recorded as seen")
		} else {
			// The post is out but not recorded; a redelivery could now
			// double-post. Loud so the operator notices the store problem.
			log.Error().Err(err).Msg("failed to record event as seen")
		}
	}

	s.crossposted++
	log.Info().
		Str("uri", result.URI).
		Int("attached", result.Attached).
		Msg("crossposted to bluesky")
}

func (s *Service) logPublishFailure(log zerolog.Logger, err error) {
	class := bluesky.Classify(err)
	evt := log.Warn()
	if class == bluesky.ClassValidation {
		evt = log.Error()
	}
	evt.Err(err).Str("class", class.String()).Msg("crosspost failed")
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
