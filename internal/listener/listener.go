// Package listener consumes the PumpPortal migration stream and inserts
// newly migrated mints as monitoring tokens. The subscription is
// re-established with backoff on any failure; inserts are idempotent so
// replays after a reconnect are harmless.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/domain"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/events"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/telemetry"
)

const (
	// Time allowed to write a control frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 10 * time.Second

	// A session this long counts as healthy and resets the reconnect
	// backoff.
	healthySession = time.Minute
)

type subscribeRequest struct {
	Method string `json:"method"`
}

// MigrationEvent is one stream notification. Messages without a mint
// (subscription acks, heartbeats) are ignored.
type MigrationEvent struct {
	Mint      string `json:"mint"`
	Name      string `json:"name"`
	Symbol    string `json:"symbol"`
	Signature string `json:"signature"`
	TxType    string `json:"txType"`
	Pool      string `json:"pool"`
}

// Listener owns the stream subscription.
type Listener struct {
	url       string
	repo      storage.TokenRepository
	pub       *events.Publisher
	maxEvents int // 0 = unlimited; used by ops smoke tests
	accepted  int
	log       zerolog.Logger
}

func New(url string, repo storage.TokenRepository, pub *events.Publisher, maxEvents int, log zerolog.Logger) *Listener {
	return &Listener{
		url:       url,
		repo:      repo,
		pub:       pub,
		maxEvents: maxEvents,
		log:       log.With().Str("component", "migration_listener").Logger(),
	}
}

// Run subscribes and consumes until ctx is canceled or the optional
// event cap is reached. Connection failures reconnect with exponential
// backoff; the backoff resets after a healthy session.
func (l *Listener) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	for {
		started := time.Now()
		err := l.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil // cap reached
		}
		if time.Since(started) > healthySession {
			bo.Reset()
		}

		telemetry.ListenerReconnects.Inc()
		wait := bo.NextBackOff()
		l.log.Warn().Err(err).Dur("retry_in", wait).Msg("migration stream lost, reconnecting")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consume runs one connected session. Returns nil only when the event
// cap stops the listener.
func (l *Listener) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.url, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeRequest{Method: "subscribeMigration"}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	l.log.Info().Str("url", l.url).Msg("subscribed to migration stream")

	done := make(chan struct{})
	defer close(done)

	// Unblock ReadMessage on shutdown and keep the connection alive
	// with pings.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				deadline := time.Now().Add(writeWait)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("unexpected close: %w", err)
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if l.handle(ctx, raw) {
			return nil
		}
	}
}

// handle ingests one message. Reports true when the event cap is hit.
func (l *Listener) handle(ctx context.Context, raw []byte) bool {
	var ev MigrationEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		telemetry.MigrationEvents.WithLabelValues("malformed").Inc()
		l.log.Debug().Err(err).Msg("unparseable stream message")
		return false
	}
	if ev.Mint == "" {
		return false
	}

	token, created, err := l.repo.InsertMonitoring(ctx, ev.Mint, ev.Name, ev.Symbol)
	if err != nil {
		telemetry.MigrationEvents.WithLabelValues("error").Inc()
		l.log.Error().Err(err).Str("mint", ev.Mint).Msg("migration insert failed")
		return false
	}
	if !created {
		telemetry.MigrationEvents.WithLabelValues("duplicate").Inc()
		l.log.Debug().Str("mint", ev.Mint).Msg("migration already tracked")
		return false
	}

	telemetry.MigrationEvents.WithLabelValues("accepted").Inc()
	l.accepted++
	l.log.Info().
		Str("mint", ev.Mint).
		Str("signature", ev.Signature).
		Int64("token_id", token.ID).
		Msg("migrated token now monitoring")

	l.pub.Publish(events.SubjectTokenMigrated, events.TokenEvent{
		MintAddress: ev.Mint,
		Status:      string(domain.StatusMonitoring),
		Reason:      "migration",
		At:          time.Now().UTC(),
	})

	if l.maxEvents > 0 && l.accepted >= l.maxEvents {
		l.log.Info().Int("max_events", l.maxEvents).Msg("event cap reached, listener stopping")
		return true
	}
	return false
}
