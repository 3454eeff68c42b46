/*
Package chat contains the presence and fanout core.

This file defines the Publisher, the single code path for "apply and
broadcast": it serializes an event and emits it on the shared notification
channel inside the same unit of work as the state change that produced it.
*/
package chat

import (
	"context"

	"github.com/rs/zerolog"

	"crapchat/internal/app/store"
	"crapchat/internal/pkg/logx"
)

// Publisher emits notification events on the shared channel.
type Publisher struct {
	st      store.Store
	channel string
	logger  zerolog.Logger
}

// NewPublisher builds a Publisher for the given notification channel.
func NewPublisher(st store.Store, channel string) *Publisher {
	return &Publisher{
		st:      st,
		channel: channel,
		logger:  logx.Logger().With().Str("component", "Publisher").Str("channel", channel).Logger(),
	}
}

// Publish serializes the event and emits it on the transaction's unit of
// work, so mutation and notification commit or roll back together. Every
// process, including the one calling Publish, observes the event through its
// relay; there is no local shortcut.
func (p *Publisher) Publish(ctx context.Context, tx store.Tx, ev Event) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	return tx.Notify(ctx, p.channel, payload)
}

// Fire emits the event in its own transaction, best effort: failures are
// logged and swallowed. Used for presence events that must never block or
// fail the operation they accompany.
func (p *Publisher) Fire(ctx context.Context, ev Event) {
	tx, err := p.st.Begin(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Str("event", string(ev.Kind())).Msg("Best-effort publish skipped: store unavailable.")
		return
	}

	if err := p.Publish(ctx, tx, ev); err != nil {
		p.logger.Warn().Err(err).Str("event", string(ev.Kind())).Msg("Best-effort publish failed.")
		_ = tx.Rollback(ctx)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.Warn().Err(err).Str("event", string(ev.Kind())).Msg("Best-effort publish commit failed.")
	}
}
