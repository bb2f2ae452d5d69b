package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/blackmichael/nostr-crosspost/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultBuffer       = 256
	defaultPingInterval = 30 * time.Second
	defaultBackoffBase  = time.Second
	defaultBackoffMax   = 2 * time.Minute
	writeWait           = 10 * time.Second
	statsInterval       = 30 * time.Second
)

// Options configures a Session.
type Options struct {
	// URL is the relay websocket endpoint (ws:// or wss://).
	URL string

	// Author is the 64-char hex pubkey whose notes are subscribed to.
	Author string

	// Since is the session start. Events created before it are discarded no
	// matter what the relay sends. Zero means time.Now().
	Since time.Time

	// Verify, when set, rejects events that fail an authenticity check.
	Verify Verifier

	// BackoffBase and BackoffMax bound the reconnect backoff.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// PingInterval is how often the connection is pinged. A connection that
	// misses two pongs in a row is considered dead.
	PingInterval time.Duration

	// Buffer is the event channel capacity. It absorbs bursts so the socket
	// keeps draining while the consumer is busy.
	Buffer int

	Logger zerolog.Logger
}

// Session maintains one subscription to one relay for a single author's text
// notes, reconnecting with exponential backoff until its context is
// cancelled. Events arrive on Events() in relay order.
//
// Events published while the session is between connections are not
// backfilled by the session itself; the since filter re-requests from the
// original session start, so relays that store events redeliver the gap and
// downstream dedup keeps that safe.
type Session struct {
	url          string
	author       string
	start        time.Time
	verify       Verifier
	pingInterval time.Duration
	backoff      *backoff.ExponentialBackOff
	events       chan *domain.Event
	log          zerolog.Logger

	live      bool
	received  int64
	discarded int64
	rejected  int64
	malformed int64
}

// NewSession creates a Session. The subscription start time is fixed here
// and reused across every reconnect.
func NewSession(opts Options) *Session {
	start := opts.Since
	if start.IsZero() {
		start = time.Now()
	}
	// The filter carries whole seconds, so truncate the cutoff to match.
	start = start.Truncate(time.Second)

	base := opts.BackoffBase
	if base <= 0 {
		base = defaultBackoffBase
	}
	max := opts.BackoffMax
	if max <= 0 {
		max = defaultBackoffMax
	}
	ping := opts.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	return &Session{
		url:          opts.URL,
		author:       opts.Author,
		start:        start,
		verify:       opts.Verify,
		pingInterval: ping,
		backoff:      newReconnectBackoff(base, max),
		events:       make(chan *domain.Event, buffer),
		log:          opts.Logger,
	}
}

func newReconnectBackoff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Events returns the channel the session delivers events on. It is closed
// when Run returns.
func (s *Session) Events() <-chan *domain.Event {
	return s.events
}

// Start returns the fixed session start used as the subscription cutoff.
func (s *Session) Start() time.Time {
	return s.start
}

// Run connects and processes events until the context is cancelled,
// reconnecting on transient errors. It always returns the context's error.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.events)

	for {
		err := s.subscribe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := s.backoff.NextBackOff()
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("relay connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// subscribe dials the relay, issues the REQ, and reads until the connection
// fails or the context is cancelled.
func (s *Session) subscribe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	subID := uuid.NewString()
	req, err := encodeReq(subID, Filter{
		Authors: []string{s.author},
		Kinds:   []int{domain.KindTextNote},
		Since:   s.start.Unix(),
	})
	if err != nil {
		return fmt.Errorf("encode subscription request: %w", err)
	}

	pongWait := 2 * s.pingInterval
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return fmt.Errorf("send subscription request: %w", err)
	}

	s.log.Info().
		Str("url", s.url).
		Str("subscription_id", subID).
		Time("since", s.start).
		Msg("subscribed to relay")

	s.live = false

	readerDone := make(chan struct{})
	defer close(readerDone)
	go s.keepAlive(ctx, conn, subID, readerDone)

	return s.readLoop(ctx, conn, subID)
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, subID string) error {
	lastStats := time.Now()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		msg, err := parseMessage(data)
		if err != nil {
			s.malformed++
			s.log.Warn().Err(err).Msg("dropping malformed relay message")
			continue
		}

		switch msg.Type {
		case msgEvent:
			if msg.SubID == subID {
				s.handleEvent(ctx, msg.Event)
			}

		case msgEOSE:
			if msg.SubID == subID && !s.live {
				s.live = true
				s.backoff.Reset()
				s.log.Info().Int64("events_received", s.received).Msg("caught up with relay, streaming live")
			}

		case msgClosed:
			if msg.SubID == subID {
				return fmt.Errorf("subscription closed by relay: %s", msg.Text)
			}

		case msgNotice:
			s.log.Info().Str("notice", msg.Text).Msg("relay notice")

		case msgIgnored:
			s.log.Debug().Str("label", msg.Label).Msg("ignoring relay message")
		}

		if time.Since(lastStats) >= statsInterval {
			s.log.Info().
				Int64("events_received", s.received).
				Int64("events_discarded", s.discarded).
				Int64("events_rejected", s.rejected).
				Int64("messages_dropped", s.malformed).
				Msg("relay session stats")
			lastStats = time.Now()
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, w *wireEvent) {
	ev, err := w.toDomain()
	if err != nil {
		s.malformed++
		s.log.Warn().Err(err).Msg("dropping malformed event")
		return
	}

	s.received++

	// Relays are not required to honor the since hint, and reconnects reuse
	// the original session start. Anything older is history, not new work.
	if ev.CreatedAt.Before(s.start) {
		s.discarded++
		s.log.Debug().
			Str("event_id", ev.ID).
			Time("created_at", ev.CreatedAt).
			Msg("discarding event older than session start")
		return
	}

	if s.verify != nil {
		if err := s.verify(ev); err != nil {
			s.rejected++
			s.log.Warn().Err(err).Str("event_id", ev.ID).Msg("dropping event that failed verification")
			return
		}
	}

	select {
	case s.events <- ev:
		s.backoff.Reset()
	case <-ctx.Done():
	}
}

// keepAlive pings the connection and tears it down on context cancellation.
// WriteControl is safe to call while the read loop owns the connection.
func (s *Session) keepAlive(ctx context.Context, conn *websocket.Conn, subID string, readerDone <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-readerDone:
			return

		case <-ctx.Done():
			// Best-effort unsubscribe so the relay can release the
			// subscription before the socket goes away.
			if data, err := encodeClose(subID); err == nil {
				conn.WriteMessage(websocket.TextMessage, data)
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
			return

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Warn().Err(err).Msg("ping failed, closing connection")
				conn.Close()
				return
			}
		}
	}
}
