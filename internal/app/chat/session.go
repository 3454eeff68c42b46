/*
Package chat contains the presence and fanout core.

This file defines the Session, the per-connection state machine
(Connecting, Active, Disconnecting, Closed). It performs connect and
disconnect bookkeeping against the store and registry, and dispatches
client commands. Persistence and publishing run off the read loop, so one
slow command never stalls the next inbound frame.
*/
package chat

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"crapchat/internal/app/db"
	"crapchat/internal/app/store"
	"crapchat/internal/pkg/errs"
	"crapchat/internal/pkg/logx"
)

const (
	stateConnecting int32 = iota
	stateActive
	stateDisconnecting
	stateClosed
)

const (
	commandTimeout    = 10 * time.Second
	disconnectTimeout = 5 * time.Second
)

// Session owns the lifecycle of one client connection.
type Session struct {
	hub    *Hub
	conn   Conn
	userID int64

	state          atomic.Int32
	disconnectOnce sync.Once

	// commands tracks in-flight command handlers so Disconnect (and through
	// it, process shutdown) can wait for them instead of abandoning work.
	commands sync.WaitGroup

	logger zerolog.Logger
}

// NewSession binds a session to an authenticated connection.
func NewSession(hub *Hub, conn Conn) *Session {
	return &Session{
		hub:    hub,
		conn:   conn,
		userID: conn.UserID(),
		logger: logx.Logger().With().
			Str("component", "Session").
			Str("conn_id", conn.ID()).
			Int64("user_id", conn.UserID()).
			Logger(),
	}
}

// Connect performs the connect bookkeeping: register the connection, persist
// the connected-count increment, derive room registrations from stored
// membership, and send the consolidated state snapshot. The user_connected
// presence event is published best effort without blocking the snapshot.
func (s *Session) Connect(ctx context.Context) error {
	if s.userID <= 0 {
		return errs.NewError(errs.ErrUnauthorized)
	}

	if !s.hub.track(s) {
		return errs.NewError(errs.ErrStoreUnavailable)
	}

	s.hub.registry.AddUserConn(s.conn)

	tx, err := s.hub.st.Begin(ctx)
	if err != nil {
		s.abortConnect()
		return errs.NewError(errs.ErrStoreUnavailable)
	}
	if err := tx.AdjustConnectedCount(ctx, s.userID, 1); err != nil {
		_ = tx.Rollback(ctx)
		s.abortConnect()
		return errs.NewError(errs.ErrStoreUnavailable)
	}
	if err := tx.Commit(ctx); err != nil {
		s.abortConnect()
		return errs.NewError(errs.ErrStoreUnavailable)
	}

	go s.hub.publisher.Fire(context.Background(), UserConnectedEvent{UserID: s.userID})

	chatIDs, err := s.hub.st.MemberChatIDs(ctx, s.userID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load memberships on connect.")
		s.Disconnect()
		return errs.NewError(errs.ErrStoreUnavailable)
	}

	chatData, err := s.hub.st.ChatData(ctx, chatIDs)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load chat data on connect.")
		s.Disconnect()
		return errs.NewError(errs.ErrStoreUnavailable)
	}

	for _, chatID := range chatIDs {
		s.hub.registry.AddChatConn(chatID, s.conn)
	}

	payload, err := json.Marshal(refreshMessage{Type: outRefresh, ChatData: chatData})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal connect snapshot.")
		s.Disconnect()
		return errs.NewError(errs.ErrUnknown)
	}
	if err := s.conn.Enqueue(payload); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to queue connect snapshot.")
	}

	s.state.Store(stateActive)
	s.logger.Info().Int("chat_count", len(chatIDs)).Msg("Session connected.")
	return nil
}

// abortConnect undoes the partial connect bookkeeping done before the
// connected-count increment was persisted.
func (s *Session) abortConnect() {
	s.hub.registry.RemoveUserConn(s.conn)
	s.hub.untrack(s)
	s.state.Store(stateClosed)
}

// HandleInbound decodes one client frame and dispatches the command on its
// own goroutine. Unknown or malformed commands are logged and dropped; they
// never terminate the connection.
func (s *Session) HandleInbound(raw []byte) {
	if s.state.Load() != stateActive {
		s.logger.Debug().Msg("Dropping command on inactive session.")
		return
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("Client sent invalid JSON.")
		return
	}

	switch envelope.Type {
	case cmdNewMessage:
		var cmd newMessageCommand
		if !s.decodeCommand(raw, envelope.Type, &cmd) {
			return
		}
		s.dispatch(func(ctx context.Context) { s.handleNewMessage(ctx, cmd) })

	case cmdStartChat:
		var cmd startChatCommand
		if !s.decodeCommand(raw, envelope.Type, &cmd) {
			return
		}
		s.dispatch(func(ctx context.Context) { s.handleStartChat(ctx, cmd) })

	case cmdJoinChat:
		var cmd joinChatCommand
		if !s.decodeCommand(raw, envelope.Type, &cmd) {
			return
		}
		s.dispatch(func(ctx context.Context) { s.handleJoinChat(ctx, cmd) })

	case cmdLeaveChat:
		var cmd leaveChatCommand
		if !s.decodeCommand(raw, envelope.Type, &cmd) {
			return
		}
		s.dispatch(func(ctx context.Context) { s.handleLeaveChat(ctx, cmd) })

	case cmdChatSuggestions:
		var cmd suggestionsCommand
		if !s.decodeCommand(raw, envelope.Type, &cmd) {
			return
		}
		s.dispatch(func(ctx context.Context) { s.handleChatSuggestions(ctx, cmd) })

	case cmdUserSuggestions:
		var cmd suggestionsCommand
		if !s.decodeCommand(raw, envelope.Type, &cmd) {
			return
		}
		s.dispatch(func(ctx context.Context) { s.handleUserSuggestions(ctx, cmd) })

	default:
		s.logger.Warn().Str("cmd_type", envelope.Type).Msg("Client sent unsupported command type.")
	}
}

func (s *Session) decodeCommand(raw []byte, cmdType string, dst any) bool {
	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.Warn().Err(err).Str("cmd_type", cmdType).Msg("Client sent malformed command payload.")
		return false
	}
	return true
}

// dispatch runs one command handler off the read loop with its own deadline.
func (s *Session) dispatch(fn func(ctx context.Context)) {
	s.commands.Add(1)
	go func() {
		defer s.commands.Done()

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		fn(ctx)
	}()
}

// handleNewMessage persists a message and publishes it on the shared channel.
// The sender receives no direct echo: delivery happens via self-notification
// through the relay, so every chat member observes the same order.
func (s *Session) handleNewMessage(ctx context.Context, cmd newMessageCommand) {
	if cmd.ChatID <= 0 || cmd.Message == "" {
		s.logger.Warn().Int64("chat_id", cmd.ChatID).Msg("Dropping empty or untargeted message.")
		return
	}
	if len(cmd.Message) > MaxContentBytes {
		s.logger.Warn().Int64("chat_id", cmd.ChatID).Int("bytes", len(cmd.Message)).Msg("Dropping oversized message.")
		return
	}

	member, err := s.hub.st.IsMember(ctx, s.userID, cmd.ChatID)
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", cmd.ChatID).Msg("Membership check failed.")
		return
	}
	if !member {
		s.logger.Warn().Int64("chat_id", cmd.ChatID).Msg("Dropping message to chat the user is not a member of.")
		return
	}

	writeTime := time.Now().UTC()

	tx, err := s.hub.st.Begin(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to open transaction for message.")
		return
	}

	if err := tx.InsertMessage(ctx, cmd.ChatID, s.userID, writeTime, cmd.Message); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", cmd.ChatID).Msg("Failed to persist message.")
		_ = tx.Rollback(ctx)
		return
	}

	ev := NewMessageEvent{ChatID: cmd.ChatID, UserID: s.userID, WriteTime: writeTime, Text: cmd.Message}
	if err := s.hub.publisher.Publish(ctx, tx, ev); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", cmd.ChatID).Msg("Failed to publish message event.")
		_ = tx.Rollback(ctx)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", cmd.ChatID).Msg("Failed to commit message.")
	}
}

// handleStartChat creates a chat, adds the caller and the named users, and
// publishes the join event with the ids actually added.
func (s *Session) handleStartChat(ctx context.Context, cmd startChatCommand) {
	tx, err := s.hub.st.Begin(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to open transaction for start_chat.")
		return
	}

	chatID, err := tx.CreateChat(ctx, cmd.Name)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create chat.")
		_ = tx.Rollback(ctx)
		return
	}

	added, err := s.insertMemberships(ctx, tx, chatID, cmd.UserIDs)
	if err != nil {
		_ = tx.Rollback(ctx)
		return
	}

	ev := UsersJoinedChatEvent{ChatID: chatID, UserIDs: added}
	if err := s.hub.publisher.Publish(ctx, tx, ev); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to publish join event.")
		_ = tx.Rollback(ctx)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to commit start_chat.")
		return
	}

	s.logger.Info().Int64("chat_id", chatID).Ints64("user_ids", added).Msg("Chat started.")
}

// handleJoinChat adds the named users (or the caller, when none are named)
// to an existing chat and publishes the join event.
func (s *Session) handleJoinChat(ctx context.Context, cmd joinChatCommand) {
	if cmd.ChatID <= 0 {
		s.logger.Warn().Msg("Dropping join_chat without chat id.")
		return
	}

	tx, err := s.hub.st.Begin(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to open transaction for join_chat.")
		return
	}

	added, err := s.insertMemberships(ctx, tx, cmd.ChatID, cmd.UserIDs)
	if err != nil {
		_ = tx.Rollback(ctx)
		return
	}

	if len(added) == 0 {
		// Everyone named was already a member; nothing to announce.
		_ = tx.Rollback(ctx)
		return
	}

	ev := UsersJoinedChatEvent{ChatID: cmd.ChatID, UserIDs: added}
	if err := s.hub.publisher.Publish(ctx, tx, ev); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", cmd.ChatID).Msg("Failed to publish join event.")
		_ = tx.Rollback(ctx)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", cmd.ChatID).Msg("Failed to commit join_chat.")
	}
}

// insertMemberships inserts membership rows for the caller plus the named
// users, deduplicated, and returns the ids that were actually added.
func (s *Session) insertMemberships(ctx context.Context, tx store.Tx, chatID int64, userIDs []int64) ([]int64, error) {
	seen := map[int64]struct{}{}
	candidates := make([]int64, 0, len(userIDs)+1)
	for _, id := range append([]int64{s.userID}, userIDs...) {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		candidates = append(candidates, id)
	}

	added := make([]int64, 0, len(candidates))
	for _, userID := range candidates {
		inserted, err := tx.InsertMembership(ctx, userID, chatID)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				s.logger.Warn().Int64("chat_id", chatID).Int64("member_id", userID).Msg("Membership target does not exist.")
			} else {
				s.logger.Error().Err(err).Int64("chat_id", chatID).Int64("member_id", userID).Msg("Failed to insert membership.")
			}
			return nil, err
		}
		if inserted {
			added = append(added, userID)
		}
	}
	return added, nil
}

// handleLeaveChat removes the caller's membership, publishes the leave event,
// and unregisters this connection from the chat locally. The relay's
// self-notification removes the user's other local connections.
func (s *Session) handleLeaveChat(ctx context.Context, cmd leaveChatCommand) {
	if cmd.ChatID <= 0 {
		s.logger.Warn().Msg("Dropping leave_chat without chat id.")
		return
	}

	tx, err := s.hub.st.Begin(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to open transaction for leave_chat.")
		return
	}

	if err := tx.DeleteMembership(ctx, s.userID, cmd.ChatID); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", cmd.ChatID).Msg("Failed to delete membership.")
		_ = tx.Rollback(ctx)
		return
	}

	ev := UserLeftChatEvent{ChatID: cmd.ChatID, UserID: s.userID}
	if err := s.hub.publisher.Publish(ctx, tx, ev); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", cmd.ChatID).Msg("Failed to publish leave event.")
		_ = tx.Rollback(ctx)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", cmd.ChatID).Msg("Failed to commit leave_chat.")
		return
	}

	s.hub.registry.RemoveChatConn(cmd.ChatID, s.conn)
}

// handleChatSuggestions answers a chat search directly on this connection.
func (s *Session) handleChatSuggestions(ctx context.Context, cmd suggestionsCommand) {
	suggestions, err := s.hub.st.SearchChats(ctx, cmd.SearchString)
	if err != nil {
		s.logger.Error().Err(err).Msg("Chat search failed.")
		return
	}

	payload, err := json.Marshal(chatSuggestionsMessage{Type: outChatSuggestions, Data: suggestions})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal chat suggestions.")
		return
	}
	if err := s.conn.Enqueue(payload); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to queue chat suggestions.")
	}
}

// handleUserSuggestions answers a user search directly on this connection.
func (s *Session) handleUserSuggestions(ctx context.Context, cmd suggestionsCommand) {
	users, err := s.hub.st.SearchUsers(ctx, cmd.SearchString)
	if err != nil {
		s.logger.Error().Err(err).Msg("User search failed.")
		return
	}

	payload, err := json.Marshal(userSuggestionsMessage{Type: outUserSuggestions, Data: users})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal user suggestions.")
		return
	}
	if err := s.conn.Enqueue(payload); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to queue user suggestions.")
	}
}

// Disconnect runs the disconnect bookkeeping exactly once: wait out in-flight
// commands, persist the connected-count decrement together with the
// user_disconnected event, then clean up local registry state. Local cleanup
// always completes, store availability notwithstanding.
func (s *Session) Disconnect() {
	s.disconnectOnce.Do(func() {
		s.state.Store(stateDisconnecting)

		s.commands.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()

		tx, err := s.hub.st.Begin(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Store unavailable during disconnect; proceeding with local cleanup.")
		} else {
			err = tx.AdjustConnectedCount(ctx, s.userID, -1)
			if err == nil {
				err = s.hub.publisher.Publish(ctx, tx, UserDisconnectedEvent{UserID: s.userID})
			}
			if err == nil {
				err = tx.Commit(ctx)
			} else {
				_ = tx.Rollback(ctx)
			}
			if err != nil {
				s.logger.Warn().Err(err).Msg("Disconnect bookkeeping failed; proceeding with local cleanup.")
			}
		}

		s.hub.registry.RemoveConnEverywhere(s.conn)
		s.hub.untrack(s)
		s.state.Store(stateClosed)

		s.logger.Info().Msg("Session disconnected.")
	})
}
