/*
Package store implements the durable state layer for the chat system.

This file defines the Listener, the per-process durable subscription to the
shared notification channel. It holds one dedicated connection outside the
pool, blocks on LISTEN, and feeds raw payloads to the relay. Losing the
connection triggers reconnection with exponential backoff; exhausting the
retries is fatal and surfaces to the caller, it never goes silently deaf.
*/
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"crapchat/internal/pkg/logx"
)

const (
	listenerBufferSize  = 256
	reconnectBaseDelay  = 500 * time.Millisecond
	reconnectDelayCap   = 30 * time.Second
	reconnectMaxRetries = 8
)

// Listener is the process-wide subscription to the shared NOTIFY channel.
type Listener struct {
	connConfig *pgx.ConnConfig
	channel    string
	payloads   chan string
	logger     zerolog.Logger
}

// NewListener builds a Listener for the given channel. The connection config
// is copied so the Listener's dedicated connection cannot be mutated by the pool.
func NewListener(connConfig *pgx.ConnConfig, channel string) *Listener {
	return &Listener{
		connConfig: connConfig.Copy(),
		channel:    channel,
		payloads:   make(chan string, listenerBufferSize),
		logger:     logx.Logger().With().Str("component", "Listener").Str("channel", channel).Logger(),
	}
}

// Payloads returns the stream of raw notification payloads. The channel is
// closed when Run returns, whether by shutdown or by subscription loss.
func (l *Listener) Payloads() <-chan string {
	return l.payloads
}

// Run blocks feeding Payloads until ctx is canceled. A dropped connection is
// re-established with backoff; if that fails the error is returned so the
// process can terminate instead of appearing healthy while deaf.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.payloads)

	conn, err := l.connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("listener: open subscription: %w", err)
	}

	l.logger.Info().Msg("Notification subscription established.")

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			_ = conn.Close(context.Background())

			if ctx.Err() != nil {
				return nil
			}

			l.logger.Warn().Err(err).Msg("Notification connection lost. Reconnecting.")

			conn, err = l.connect(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("listener: reconnect failed: %w", err)
			}

			l.logger.Info().Msg("Notification subscription re-established.")
			continue
		}

		select {
		case l.payloads <- notification.Payload:
		case <-ctx.Done():
			_ = conn.Close(context.Background())
			return nil
		}
	}
}

// connect opens a dedicated connection and issues LISTEN, retrying with
// capped exponential backoff.
func (l *Listener) connect(ctx context.Context) (*pgx.Conn, error) {
	backoff := retry.WithMaxRetries(reconnectMaxRetries,
		retry.WithCappedDuration(reconnectDelayCap, retry.NewExponential(reconnectBaseDelay)))

	var conn *pgx.Conn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := pgx.ConnectConfig(ctx, l.connConfig)
		if err != nil {
			l.logger.Warn().Err(err).Msg("Listener connect attempt failed.")
			return retry.RetryableError(err)
		}

		if _, err := c.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
			_ = c.Close(ctx)
			l.logger.Warn().Err(err).Msg("LISTEN command failed.")
			return retry.RetryableError(err)
		}

		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}
