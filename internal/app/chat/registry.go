/*
Package chat contains the presence and fanout core.

This file defines the Registry, the process-local bidirectional index from
chat ids and user ids to live connections. It is derived state only; the
store stays authoritative and the relay repairs any transient drift.
*/
package chat

import "sync"

// Conn is one live client connection as seen by the registry and the relay.
// *Client implements it; tests substitute lightweight stubs.
type Conn interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string

	// UserID is the authenticated owner of the connection, fixed at connect time.
	UserID() int64

	// Enqueue hands a serialized outbound message to the connection's send
	// queue without blocking. A full queue returns an error and drops the message.
	Enqueue(payload []byte) error

	// Close asks the connection to shut down. Safe to call more than once.
	Close()
}

// Registry indexes live connections by chat and by user. All operations are
// idempotent: adding a duplicate or removing an absent entry is a no-op,
// because disconnects and leaves race with relay-driven updates by design.
type Registry struct {
	mu        sync.RWMutex
	chatConns map[int64]map[string]Conn
	userConns map[int64]map[string]Conn
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		chatConns: make(map[int64]map[string]Conn),
		userConns: make(map[int64]map[string]Conn),
	}
}

// AddChatConn registers the connection for the chat.
func (r *Registry) AddChatConn(chatID int64, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.chatConns[chatID]
	if !ok {
		set = make(map[string]Conn)
		r.chatConns[chatID] = set
	}
	set[conn.ID()] = conn
}

// RemoveChatConn deregisters the connection from the chat. Removing a
// connection that was never registered for the chat is the expected case
// and not an error.
func (r *Registry) RemoveChatConn(chatID int64, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeChatConnLocked(chatID, conn.ID())
}

func (r *Registry) removeChatConnLocked(chatID int64, connID string) {
	set, ok := r.chatConns[chatID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.chatConns, chatID)
	}
}

// AddUserConn registers the connection under its owning user.
func (r *Registry) AddUserConn(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.userConns[conn.UserID()]
	if !ok {
		set = make(map[string]Conn)
		r.userConns[conn.UserID()] = set
	}
	set[conn.ID()] = conn
}

// RemoveUserConn deregisters the connection from its owning user.
func (r *Registry) RemoveUserConn(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.userConns[conn.UserID()]
	if !ok {
		return
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(r.userConns, conn.UserID())
	}
}

// ChatConns returns the connections currently registered for the chat.
func (r *Registry) ChatConns(chatID int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return connsOf(r.chatConns[chatID])
}

// UserConns returns the connections currently open for the user on this process.
func (r *Registry) UserConns(userID int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return connsOf(r.userConns[userID])
}

// AllConns returns every live connection on this process.
func (r *Registry) AllConns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.userConns))
	for _, set := range r.userConns {
		for _, c := range set {
			conns = append(conns, c)
		}
	}
	return conns
}

// RemoveUserFromChat deregisters every one of the user's local connections
// from the chat. Membership is a user-level fact, so a leave takes all of the
// user's connections out of the chat set at once.
func (r *Registry) RemoveUserFromChat(chatID, userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connID := range r.userConns[userID] {
		r.removeChatConnLocked(chatID, connID)
	}
}

// RemoveConnEverywhere sweeps the connection out of every chat set and out of
// its user's connection set. Used on disconnect; safe to repeat.
func (r *Registry) RemoveConnEverywhere(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for chatID := range r.chatConns {
		r.removeChatConnLocked(chatID, conn.ID())
	}

	set, ok := r.userConns[conn.UserID()]
	if !ok {
		return
	}
	delete(set, conn.ID())
	if len(set) == 0 {
		delete(r.userConns, conn.UserID())
	}
}

func connsOf(set map[string]Conn) []Conn {
	conns := make([]Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}
