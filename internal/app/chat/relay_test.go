package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayDeliversNewMessageToChatConns(t *testing.T) {
	st := newFakeStore()
	registry := NewRegistry()
	relay := NewRelay(registry, st, nil)

	inChat := newStubConn("c1", 7)
	alsoInChat := newStubConn("c2", 8)
	elsewhere := newStubConn("c3", 9)
	registry.AddChatConn(42, inChat)
	registry.AddChatConn(42, alsoInChat)
	registry.AddChatConn(43, elsewhere)

	writeTime := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	payload, err := EncodeEvent(NewMessageEvent{ChatID: 42, UserID: 7, WriteTime: writeTime, Text: "hello"})
	require.NoError(t, err)

	relay.Handle(context.Background(), payload)

	for _, conn := range []*stubConn{inChat, alsoInChat} {
		sent := conn.sentPayloads()
		require.Len(t, sent, 1, "conn %s", conn.ID())

		var delivery struct {
			Type   string `json:"type"`
			ChatID int64  `json:"chatid"`
			Data   struct {
				UserID int64  `json:"userid"`
				Text   string `json:"text"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(sent[0]), &delivery))
		assert.Equal(t, "new_message", delivery.Type)
		assert.Equal(t, int64(42), delivery.ChatID)
		assert.Equal(t, int64(7), delivery.Data.UserID)
		assert.Equal(t, "hello", delivery.Data.Text)
	}

	assert.Empty(t, elsewhere.sentPayloads(), "connection in another chat must not receive the message")
}

func TestRelaySkipsFullConnWithoutBlockingOthers(t *testing.T) {
	st := newFakeStore()
	registry := NewRegistry()
	relay := NewRelay(registry, st, nil)

	blocked := newStubConn("c1", 7)
	blocked.full = true
	healthy := newStubConn("c2", 8)
	registry.AddChatConn(42, blocked)
	registry.AddChatConn(42, healthy)

	payload, err := EncodeEvent(NewMessageEvent{ChatID: 42, UserID: 7, WriteTime: time.Now().UTC(), Text: "hi"})
	require.NoError(t, err)

	relay.Handle(context.Background(), payload)

	assert.Empty(t, blocked.sentPayloads())
	assert.Len(t, healthy.sentPayloads(), 1)
}

func TestRelayUsersJoinedRegistersAndRefreshes(t *testing.T) {
	st := newFakeStore()
	st.addUser(7, "alice")
	st.addUser(8, "bob")
	registry := NewRegistry()
	relay := NewRelay(registry, st, nil)

	// Seed a chat with alice already a member and watching.
	tx, err := st.Begin(context.Background())
	require.NoError(t, err)
	chatID, err := tx.CreateChat(context.Background(), "general")
	require.NoError(t, err)
	_, err = tx.InsertMembership(context.Background(), 7, chatID)
	require.NoError(t, err)
	_, err = tx.InsertMembership(context.Background(), 8, chatID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	alice := newStubConn("c1", 7)
	bob := newStubConn("c2", 8)
	registry.AddUserConn(alice)
	registry.AddUserConn(bob)
	registry.AddChatConn(chatID, alice)

	payload, err := EncodeEvent(UsersJoinedChatEvent{ChatID: chatID, UserIDs: []int64{8}})
	require.NoError(t, err)

	relay.Handle(context.Background(), payload)

	// Bob's connection is now registered for the chat.
	chatConns := registry.ChatConns(chatID)
	require.Len(t, chatConns, 2)

	// Both the joiner and the existing watcher get exactly one data update.
	for _, conn := range []*stubConn{alice, bob} {
		sent := conn.sentPayloads()
		require.Len(t, sent, 1, "conn %s", conn.ID())

		var update struct {
			Type     string `json:"type"`
			ChatData []struct {
				ChatID int64   `json:"chatid"`
				Name   string  `json:"name"`
				Users  []int64 `json:"users"`
			} `json:"chat_data"`
			UserData []struct {
				UserID int64 `json:"userid"`
			} `json:"user_data"`
		}
		require.NoError(t, json.Unmarshal([]byte(sent[0]), &update))
		assert.Equal(t, "data_update", update.Type)
		require.Len(t, update.ChatData, 1)
		assert.Equal(t, chatID, update.ChatData[0].ChatID)
		assert.Equal(t, "general", update.ChatData[0].Name)
		assert.ElementsMatch(t, []int64{7, 8}, update.ChatData[0].Users)
		assert.Len(t, update.UserData, 2)
	}
}

func TestRelayUserLeftRemovesAllUserConnsFromChat(t *testing.T) {
	st := newFakeStore()
	registry := NewRegistry()
	relay := NewRelay(registry, st, nil)

	first := newStubConn("c1", 7)
	second := newStubConn("c2", 7)
	other := newStubConn("c3", 8)
	registry.AddUserConn(first)
	registry.AddUserConn(second)
	registry.AddUserConn(other)
	registry.AddChatConn(42, first)
	registry.AddChatConn(42, second)
	registry.AddChatConn(42, other)

	payload, err := EncodeEvent(UserLeftChatEvent{ChatID: 42, UserID: 7})
	require.NoError(t, err)

	relay.Handle(context.Background(), payload)

	remaining := registry.ChatConns(42)
	require.Len(t, remaining, 1)
	assert.Equal(t, "c3", remaining[0].ID())
}

func TestRelaySurvivesMalformedPayloads(t *testing.T) {
	st := newFakeStore()
	registry := NewRegistry()
	relay := NewRelay(registry, st, nil)

	conn := newStubConn("c1", 7)
	registry.AddChatConn(42, conn)

	relay.Handle(context.Background(), "not json at all")
	relay.Handle(context.Background(), `{"type":"no_such_kind"}`)
	relay.Handle(context.Background(), `{"type":"new_message","text":"no ids"}`)

	// A well-formed event afterwards still goes through.
	payload, err := EncodeEvent(NewMessageEvent{ChatID: 42, UserID: 7, WriteTime: time.Now().UTC(), Text: "still alive"})
	require.NoError(t, err)
	relay.Handle(context.Background(), payload)

	assert.Len(t, conn.sentPayloads(), 1)
}

func TestRelayRunStopsOnContextCancel(t *testing.T) {
	st := newFakeStore()
	payloads := make(chan string)
	relay := NewRelay(NewRegistry(), st, payloads)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop on context cancel")
	}
}

func TestRelayRunFailsWhenSubscriptionCloses(t *testing.T) {
	st := newFakeStore()
	payloads := make(chan string)
	relay := NewRelay(NewRegistry(), st, payloads)

	done := make(chan error, 1)
	go func() { done <- relay.Run(context.Background()) }()

	close(payloads)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSubscriptionLost)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not report the lost subscription")
	}
}
