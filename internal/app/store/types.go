/*
Package store implements the durable state layer for the chat system on top of
PostgreSQL, together with the notification primitives (pg_notify / LISTEN) used
to keep every server process consistent.

This file defines the row and payload types shared between the store, the chat
subsystem, and the client wire format.
*/
package store

import "time"

// ChatMessage is one persisted message as sent to clients inside chat data.
type ChatMessage struct {
	UserID    int64     `json:"userid"`
	WriteTime time.Time `json:"write_time"`
	Text      string    `json:"text"`
}

// ChatData is the consolidated state of one chat: its name, the ids of its
// members, and its full message history in insertion order.
type ChatData struct {
	ChatID   int64         `json:"chatid"`
	Name     string        `json:"name"`
	Users    []int64       `json:"users"`
	Messages []ChatMessage `json:"messages"`
}

// UserData is the public detail of one user, including the connected counter
// that backs presence indicators.
type UserData struct {
	UserID    int64  `json:"userid"`
	Username  string `json:"username"`
	Realname  string `json:"realname"`
	Connected int32  `json:"connected"`
}

// ChatSuggestion is one search result row for chat name lookups.
type ChatSuggestion struct {
	ChatID int64  `json:"chatid"`
	Name   string `json:"name"`
}

// Credentials carries the fields needed to verify a login attempt.
type Credentials struct {
	UserID       int64
	PasswordHash string
}
