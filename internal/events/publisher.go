// Package events publishes lifecycle and scheduler events to NATS.
// Publishing is fire-and-forget and fully optional: with no NATS URL
// configured the publisher is a no-op and the rest of the service runs
// unchanged.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subjects used by the service.
const (
	SubjectTokenMigrated    = "tothemoon.token.migrated"
	SubjectTokenActivated   = "tothemoon.token.activated"
	SubjectTokenArchived    = "tothemoon.token.archived"
	SubjectSchedulerSummary = "tothemoon.scheduler.summary"
)

// TokenEvent is the payload for token lifecycle subjects.
type TokenEvent struct {
	MintAddress string    `json:"mint_address"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher wraps a NATS connection. A nil Publisher and a Publisher
// without a connection are both safe to publish on.
type Publisher struct {
	nc  *nats.Conn
	log zerolog.Logger
}

// Disabled returns a publisher that drops everything.
func Disabled() *Publisher {
	return &Publisher{}
}

// Connect dials NATS and returns a live publisher. The connection
// reconnects on its own; publishes during an outage are buffered by the
// client up to its pending limit and dropped beyond it.
func Connect(url string, log zerolog.Logger) (*Publisher, error) {
	logger := log.With().Str("component", "events").Logger()
	nc, err := nats.Connect(url,
		nats.Name("tothemoon"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats connection closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("url", url).Msg("nats connected")
	return &Publisher{nc: nc, log: logger}, nil
}

// Publish marshals v and publishes it on subject. Failures are logged,
// never returned: event delivery must not stall the pipeline.
func (p *Publisher) Publish(subject string, v any) {
	if p == nil || p.nc == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.log.Error().Err(err).Str("subject", subject).Msg("event marshal failed")
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}

// Close drains the connection so buffered publishes flush before exit.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.log.Warn().Err(err).Msg("nats drain failed")
		p.nc.Close()
	}
}
