/*
Package chat contains the presence and fanout core: the connection registry,
the notification relay, per-connection sessions, and the event publisher.

This file defines the notification events exchanged between server processes
over the shared channel. The set of kinds is closed; payloads are decoded once
at the relay boundary and unknown kinds are rejected there.
*/
package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind tags one notification event variant.
type EventKind string

const (
	EventNewMessage       EventKind = "new_message"
	EventUserConnected    EventKind = "user_connected"
	EventUserDisconnected EventKind = "user_disconnected"
	EventUsersJoinedChat  EventKind = "users_joined_chat"
	EventUserLeftChat     EventKind = "user_left_chat"
)

// Event is one cross-process notification describing a single state change.
type Event interface {
	Kind() EventKind
}

// NewMessageEvent announces a persisted message. It carries the full message
// so recipients can deliver without re-querying the store.
type NewMessageEvent struct {
	ChatID    int64     `json:"chatid"`
	UserID    int64     `json:"userid"`
	WriteTime time.Time `json:"write_time"`
	Text      string    `json:"text"`
}

func (NewMessageEvent) Kind() EventKind { return EventNewMessage }

// UserConnectedEvent announces that a user gained a live connection somewhere.
type UserConnectedEvent struct {
	UserID int64 `json:"userid"`
}

func (UserConnectedEvent) Kind() EventKind { return EventUserConnected }

// UserDisconnectedEvent announces that a user lost a live connection somewhere.
type UserDisconnectedEvent struct {
	UserID int64 `json:"userid"`
}

func (UserDisconnectedEvent) Kind() EventKind { return EventUserDisconnected }

// UsersJoinedChatEvent announces new chat members. It intentionally carries
// identifiers only; recipients re-query the store for fresh chat and user
// detail instead of trusting a possibly stale payload.
type UsersJoinedChatEvent struct {
	ChatID  int64   `json:"chatid"`
	UserIDs []int64 `json:"userids"`
}

func (UsersJoinedChatEvent) Kind() EventKind { return EventUsersJoinedChat }

// UserLeftChatEvent announces that a user gave up chat membership.
type UserLeftChatEvent struct {
	ChatID int64 `json:"chatid"`
	UserID int64 `json:"userid"`
}

func (UserLeftChatEvent) Kind() EventKind { return EventUserLeftChat }

// EncodeEvent serializes an event into the flat wire form carried on the
// notification channel: the variant's fields plus a "type" tag.
func EncodeEvent(ev Event) (string, error) {
	var wire any

	switch e := ev.(type) {
	case NewMessageEvent:
		wire = struct {
			Type EventKind `json:"type"`
			NewMessageEvent
		}{EventNewMessage, e}
	case UserConnectedEvent:
		wire = struct {
			Type EventKind `json:"type"`
			UserConnectedEvent
		}{EventUserConnected, e}
	case UserDisconnectedEvent:
		wire = struct {
			Type EventKind `json:"type"`
			UserDisconnectedEvent
		}{EventUserDisconnected, e}
	case UsersJoinedChatEvent:
		wire = struct {
			Type EventKind `json:"type"`
			UsersJoinedChatEvent
		}{EventUsersJoinedChat, e}
	case UserLeftChatEvent:
		wire = struct {
			Type EventKind `json:"type"`
			UserLeftChatEvent
		}{EventUserLeftChat, e}
	default:
		return "", fmt.Errorf("encode event: unsupported event %T", ev)
	}

	b, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	return string(b), nil
}

// DecodeEvent parses one wire payload back into its typed variant. Malformed
// payloads, unknown kinds, and missing identifiers all return an error; the
// relay logs and skips them.
func DecodeEvent(payload string) (Event, error) {
	raw := []byte(payload)

	var envelope struct {
		Type EventKind `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch envelope.Type {
	case EventNewMessage:
		var e NewMessageEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", envelope.Type, err)
		}
		if e.ChatID <= 0 || e.UserID <= 0 {
			return nil, fmt.Errorf("decode %s event: missing chatid or userid", envelope.Type)
		}
		return e, nil

	case EventUserConnected:
		var e UserConnectedEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", envelope.Type, err)
		}
		if e.UserID <= 0 {
			return nil, fmt.Errorf("decode %s event: missing userid", envelope.Type)
		}
		return e, nil

	case EventUserDisconnected:
		var e UserDisconnectedEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", envelope.Type, err)
		}
		if e.UserID <= 0 {
			return nil, fmt.Errorf("decode %s event: missing userid", envelope.Type)
		}
		return e, nil

	case EventUsersJoinedChat:
		var e UsersJoinedChatEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", envelope.Type, err)
		}
		if e.ChatID <= 0 || len(e.UserIDs) == 0 {
			return nil, fmt.Errorf("decode %s event: missing chatid or userids", envelope.Type)
		}
		return e, nil

	case EventUserLeftChat:
		var e UserLeftChatEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", envelope.Type, err)
		}
		if e.ChatID <= 0 || e.UserID <= 0 {
			return nil, fmt.Errorf("decode %s event: missing chatid or userid", envelope.Type)
		}
		return e, nil

	default:
		return nil, fmt.Errorf("decode event: unknown kind %q", envelope.Type)
	}
}
