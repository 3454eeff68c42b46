/*
Package chat contains the presence and fanout core.

This file defines the client wire protocol: the JSON command shapes clients
send over their connection and the JSON message shapes the server delivers
back. One JSON object per WebSocket text message; the literal string "logout"
is a control signal, not a command.
*/
package chat

import "crapchat/internal/app/store"

// Inbound command type tags.
const (
	cmdNewMessage      = "new_message"
	cmdStartChat       = "start_chat"
	cmdJoinChat        = "join_chat"
	cmdLeaveChat       = "leave_chat"
	cmdChatSuggestions = "get_chat_suggestions"
	cmdUserSuggestions = "get_user_suggestions"
)

// Outbound message type tags.
const (
	outRefresh         = "refresh"
	outDataUpdate      = "data_update"
	outNewMessage      = "new_message"
	outChatSuggestions = "chat_suggestions"
	outUserSuggestions = "user_suggestions"
)

type newMessageCommand struct {
	ChatID  int64  `json:"chatid"`
	Message string `json:"message"`
}

type startChatCommand struct {
	Name    string  `json:"name"`
	UserIDs []int64 `json:"userids"`
}

type joinChatCommand struct {
	ChatID  int64   `json:"chatid"`
	UserIDs []int64 `json:"userids"`
}

type leaveChatCommand struct {
	ChatID int64 `json:"chatid"`
}

type suggestionsCommand struct {
	SearchString string `json:"searchString"`
}

// refreshMessage is the consolidated state snapshot sent right after connect
// and on partial refreshes.
type refreshMessage struct {
	Type     string           `json:"type"`
	ChatData []store.ChatData `json:"chat_data"`
}

// dataUpdateMessage carries fresh chat and user detail after membership changes.
type dataUpdateMessage struct {
	Type     string           `json:"type"`
	ChatData []store.ChatData `json:"chat_data"`
	UserData []store.UserData `json:"user_data"`
}

// messageDelivery is one fanned-out chat message.
type messageDelivery struct {
	Type   string            `json:"type"`
	ChatID int64             `json:"chatid"`
	Data   store.ChatMessage `json:"data"`
}

type chatSuggestionsMessage struct {
	Type string                 `json:"type"`
	Data []store.ChatSuggestion `json:"data"`
}

type userSuggestionsMessage struct {
	Type string           `json:"type"`
	Data []store.UserData `json:"data"`
}
