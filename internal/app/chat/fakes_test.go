package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"crapchat/internal/app/store"
)

// stubConn is a Conn that records everything enqueued to it.
type stubConn struct {
	id     string
	userID int64

	mu     sync.Mutex
	sent   [][]byte
	full   bool
	closed bool
}

func newStubConn(id string, userID int64) *stubConn {
	return &stubConn{id: id, userID: userID}
}

func (c *stubConn) ID() string    { return c.id }
func (c *stubConn) UserID() int64 { return c.userID }

func (c *stubConn) Enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.full {
		return errors.New("stub send queue full")
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *stubConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *stubConn) sentPayloads() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, len(c.sent))
	for i, p := range c.sent {
		out[i] = string(p)
	}
	return out
}

type fakeChatRow struct {
	name     string
	members  []int64
	messages []store.ChatMessage
}

// fakeStore is an in-memory store.Store. Mutations apply as the transaction
// runs; notification emits buffer in the transaction and land in
// notifications only on Commit, which mirrors the visibility rule the chat
// core depends on.
type fakeStore struct {
	mu sync.Mutex

	chats      map[int64]*fakeChatRow
	users      map[int64]store.UserData
	nextChatID int64

	notifications []string

	failBegin bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chats:      make(map[int64]*fakeChatRow),
		users:      make(map[int64]store.UserData),
		nextChatID: 1,
	}
}

func (f *fakeStore) addUser(userID int64, username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = store.UserData{UserID: userID, Username: username, Realname: username}
}

func (f *fakeStore) takeNotifications() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.notifications
	f.notifications = nil
	return out
}

func (f *fakeStore) connectedCount(userID int64) int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID].Connected
}

func (f *fakeStore) ChatData(_ context.Context, chatIDs []int64) ([]store.ChatData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data := []store.ChatData{}
	for _, id := range chatIDs {
		row, ok := f.chats[id]
		if !ok {
			continue
		}
		cd := store.ChatData{ChatID: id, Name: row.name, Users: []int64{}, Messages: []store.ChatMessage{}}
		cd.Users = append(cd.Users, row.members...)
		cd.Messages = append(cd.Messages, row.messages...)
		data = append(data, cd)
	}
	return data, nil
}

func (f *fakeStore) UserData(_ context.Context, userIDs []int64) ([]store.UserData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	users := []store.UserData{}
	for _, id := range userIDs {
		if u, ok := f.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (f *fakeStore) MemberChatIDs(_ context.Context, userID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := []int64{}
	for chatID, row := range f.chats {
		for _, member := range row.members {
			if member == userID {
				ids = append(ids, chatID)
				break
			}
		}
	}
	return ids, nil
}

func (f *fakeStore) IsMember(_ context.Context, userID, chatID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.chats[chatID]
	if !ok {
		return false, nil
	}
	for _, member := range row.members {
		if member == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) SearchChats(_ context.Context, search string) ([]store.ChatSuggestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	suggestions := []store.ChatSuggestion{}
	for id, row := range f.chats {
		if search == "" || containsFold(row.name, search) {
			suggestions = append(suggestions, store.ChatSuggestion{ChatID: id, Name: row.name})
		}
	}
	return suggestions, nil
}

func (f *fakeStore) SearchUsers(_ context.Context, search string) ([]store.UserData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	users := []store.UserData{}
	for _, u := range f.users {
		if search == "" || containsFold(u.Username, search) || containsFold(u.Realname, search) {
			users = append(users, u)
		}
	}
	return users, nil
}

func (f *fakeStore) Begin(_ context.Context) (store.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failBegin {
		return nil, errors.New("fake store unavailable")
	}
	return &fakeTx{st: f}, nil
}

type fakeTx struct {
	st      *fakeStore
	pending []string
	done    bool
}

func (t *fakeTx) CreateChat(_ context.Context, name string) (int64, error) {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()

	id := t.st.nextChatID
	t.st.nextChatID++
	t.st.chats[id] = &fakeChatRow{name: name, members: []int64{}, messages: []store.ChatMessage{}}
	return id, nil
}

func (t *fakeTx) InsertMembership(_ context.Context, userID, chatID int64) (bool, error) {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()

	row, ok := t.st.chats[chatID]
	if !ok {
		return false, fmt.Errorf("chat %d does not exist", chatID)
	}
	for _, member := range row.members {
		if member == userID {
			return false, nil
		}
	}
	row.members = append(row.members, userID)
	return true, nil
}

func (t *fakeTx) DeleteMembership(_ context.Context, userID, chatID int64) error {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()

	row, ok := t.st.chats[chatID]
	if !ok {
		return nil
	}
	members := row.members[:0]
	for _, member := range row.members {
		if member != userID {
			members = append(members, member)
		}
	}
	row.members = members
	return nil
}

func (t *fakeTx) InsertMessage(_ context.Context, chatID, userID int64, writeTime time.Time, text string) error {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()

	row, ok := t.st.chats[chatID]
	if !ok {
		return fmt.Errorf("chat %d does not exist", chatID)
	}
	row.messages = append(row.messages, store.ChatMessage{UserID: userID, WriteTime: writeTime, Text: text})
	return nil
}

func (t *fakeTx) AdjustConnectedCount(_ context.Context, userID int64, delta int32) error {
	t.st.mu.Lock()
	defer t.st.mu.Unlock()

	u := t.st.users[userID]
	u.UserID = userID
	u.Connected += delta
	if u.Connected < 0 {
		u.Connected = 0
	}
	t.st.users[userID] = u
	return nil
}

func (t *fakeTx) Notify(_ context.Context, _ string, payload string) error {
	t.pending = append(t.pending, payload)
	return nil
}

func (t *fakeTx) Commit(_ context.Context) error {
	if t.done {
		return errors.New("transaction already finished")
	}
	t.done = true

	t.st.mu.Lock()
	defer t.st.mu.Unlock()
	t.st.notifications = append(t.st.notifications, t.pending...)
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	t.done = true
	t.pending = nil
	return nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
