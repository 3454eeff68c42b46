/*
Package chat contains the presence and fanout core.

This file defines the Hub, the process-wide aggregate that holds the
registry, the publisher, and the set of live sessions, and drives their
orderly teardown on shutdown.
*/
package chat

import (
	"sync"

	"github.com/rs/zerolog"

	"crapchat/internal/app/store"
	"crapchat/internal/pkg/logx"
)

// Hub wires the store, the connection registry, and the event publisher
// together and tracks every live session on this process.
type Hub struct {
	st        store.Store
	registry  *Registry
	publisher *Publisher

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup

	logger zerolog.Logger
}

// NewHub builds a Hub over the given store, registry, and publisher.
func NewHub(st store.Store, registry *Registry, publisher *Publisher) *Hub {
	return &Hub{
		st:        st,
		registry:  registry,
		publisher: publisher,
		sessions:  make(map[*Session]struct{}),
		logger:    logx.Logger().With().Str("component", "Hub").Logger(),
	}
}

// track registers a live session. It returns false once the hub has begun
// shutting down, at which point new sessions are refused.
func (h *Hub) track(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	return true
}

// untrack removes a session after its Disconnect has completed.
func (h *Hub) untrack(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s]; !ok {
		return
	}

	delete(h.sessions, s)
	h.wg.Done()
}

// Shutdown refuses new sessions, closes every live connection, and waits for
// all sessions to finish their disconnect bookkeeping.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.wg.Wait()
		return
	}
	h.closed = true

	live := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	h.logger.Info().Int("session_count", len(live)).Msg("Hub shutting down, closing sessions.")

	for _, s := range live {
		s.conn.Close()
	}

	h.wg.Wait()
	h.logger.Info().Msg("All sessions disconnected.")
}
