/*
Package chat contains the presence and fanout core.

This file defines the Relay, the per-process loop that turns durable
notifications into local registry updates and client deliveries. Every
state-changing event flows through here, including events this same process
published; self-notification is what keeps "apply to store" and "update local
registry" a single consistent path on every process.
*/
package chat

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"crapchat/internal/app/store"
	"crapchat/internal/pkg/logx"
)

// ErrSubscriptionLost reports that the durable subscription closed underneath
// the relay. It is fatal to the process: the relay never keeps running while deaf.
var ErrSubscriptionLost = errors.New("relay: notification subscription lost")

// Relay consumes the shared notification channel and fans events out to the
// connections registered on this process.
type Relay struct {
	registry *Registry
	st       store.Store
	payloads <-chan string
	logger   zerolog.Logger
}

// NewRelay builds a Relay over the given registry, store, and payload stream.
func NewRelay(registry *Registry, st store.Store, payloads <-chan string) *Relay {
	return &Relay{
		registry: registry,
		st:       st,
		payloads: payloads,
		logger:   logx.Logger().With().Str("component", "Relay").Logger(),
	}
}

// Run blocks processing events until ctx is canceled (clean stop, in-flight
// deliveries complete first) or the payload stream closes (ErrSubscriptionLost).
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().Msg("Relay listening.")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Relay stopped.")
			return nil

		case payload, ok := <-r.payloads:
			if !ok {
				r.logger.Error().Msg("Notification payload stream closed.")
				return ErrSubscriptionLost
			}
			r.Handle(ctx, payload)
		}
	}
}

// Handle processes one raw notification payload. Malformed payloads are
// logged and skipped; they never stop the relay.
func (r *Relay) Handle(ctx context.Context, payload string) {
	ev, err := DecodeEvent(payload)
	if err != nil {
		r.logger.Warn().Err(err).Str("payload", payload).Msg("Dropping malformed notification event.")
		return
	}

	switch e := ev.(type) {
	case NewMessageEvent:
		r.handleNewMessage(e)

	case UsersJoinedChatEvent:
		r.handleUsersJoined(ctx, e)

	case UserLeftChatEvent:
		r.registry.RemoveUserFromChat(e.ChatID, e.UserID)
		r.logger.Debug().Int64("chat_id", e.ChatID).Int64("user_id", e.UserID).Msg("User left chat.")

	case UserConnectedEvent, UserDisconnectedEvent:
		// Presence events carry no mandatory action; reserved for indicator features.

	default:
		r.logger.Warn().Str("kind", string(ev.Kind())).Msg("Decoded event kind has no relay handler.")
	}
}

// handleNewMessage delivers the message payload to every connection
// registered for the chat. Each connection has its own send queue, so a slow
// or full connection never blocks delivery to the others.
func (r *Relay) handleNewMessage(e NewMessageEvent) {
	delivery := messageDelivery{
		Type:   outNewMessage,
		ChatID: e.ChatID,
		Data: store.ChatMessage{
			UserID:    e.UserID,
			WriteTime: e.WriteTime,
			Text:      e.Text,
		},
	}

	payload, err := json.Marshal(delivery)
	if err != nil {
		r.logger.Error().Err(err).Int64("chat_id", e.ChatID).Msg("Failed to marshal message delivery.")
		return
	}

	for _, conn := range r.registry.ChatConns(e.ChatID) {
		if err := conn.Enqueue(payload); err != nil {
			r.logger.Warn().Err(err).
				Str("conn_id", conn.ID()).
				Int64("chat_id", e.ChatID).
				Msg("Message delivery dropped for connection.")
		}
	}
}

// handleUsersJoined re-queries the store for fresh chat and user detail (the
// event carries identifiers only), sends a data update to the joined users'
// local connections and to connections already watching the chat, and
// registers the joined users' connections for the chat.
func (r *Relay) handleUsersJoined(ctx context.Context, e UsersJoinedChatEvent) {
	chatData, err := r.st.ChatData(ctx, []int64{e.ChatID})
	if err != nil {
		r.logger.Error().Err(err).Int64("chat_id", e.ChatID).Msg("Failed to load chat data for join event.")
		return
	}
	if len(chatData) == 0 {
		r.logger.Warn().Int64("chat_id", e.ChatID).Msg("Join event for unknown chat.")
		return
	}

	userData, err := r.st.UserData(ctx, chatData[0].Users)
	if err != nil {
		r.logger.Error().Err(err).Int64("chat_id", e.ChatID).Msg("Failed to load user data for join event.")
		return
	}

	update := dataUpdateMessage{
		Type:     outDataUpdate,
		ChatData: chatData,
		UserData: userData,
	}
	payload, err := json.Marshal(update)
	if err != nil {
		r.logger.Error().Err(err).Int64("chat_id", e.ChatID).Msg("Failed to marshal data update.")
		return
	}

	// Connections already in the chat before the joiners are added, so they
	// are refreshed exactly once below.
	watching := r.registry.ChatConns(e.ChatID)

	delivered := make(map[string]struct{})
	for _, userID := range e.UserIDs {
		for _, conn := range r.registry.UserConns(userID) {
			r.registry.AddChatConn(e.ChatID, conn)
			delivered[conn.ID()] = struct{}{}
			if err := conn.Enqueue(payload); err != nil {
				r.logger.Warn().Err(err).Str("conn_id", conn.ID()).Msg("Data update dropped for joined connection.")
			}
		}
	}

	for _, conn := range watching {
		if _, ok := delivered[conn.ID()]; ok {
			continue
		}
		if err := conn.Enqueue(payload); err != nil {
			r.logger.Warn().Err(err).Str("conn_id", conn.ID()).Msg("Data update dropped for watching connection.")
		}
	}
}
