package ws

import (
	"sync"

	"narrator-server-go/internal/platform/logging"
)

// Hub tracks the active websocket sessions for a transport instance.
type Hub struct {
	logger   *logging.Logger
	sessions sync.Map // map[string]*Session
}

// NewHub builds a fresh session hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
	}
}

// Register adds a new session to the hub.
func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.sessions.Store(session.ID(), session)
}

// Unregister removes the session from the hub.
func (h *Hub) Unregister(id string) {
	if id == "" {
		return
	}
	h.sessions.Delete(id)
}

// CloseReading closes every stream following reading session id.
func (h *Hub) CloseReading(id string, reason error) int {
	n := 0
	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok && session.ReadingID() == id {
			session.Close(reason)
			h.sessions.Delete(key)
			n++
		}
		return true
	})
	return n
}

// CloseAll terminates all active sessions and waits for their shutdown.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*Session); ok {
			session.Close(reason)
		}
		h.sessions.Delete(key)
		return true
	})
}

// Counts reports open connections and the distinct reading sessions they follow.
func (h *Hub) Counts() (clients int, readings int) {
	seen := make(map[string]struct{})
	h.sessions.Range(func(key, value any) bool {
		clients++
		if session, ok := value.(*Session); ok {
			seen[session.ReadingID()] = struct{}{}
		}
		return true
	})
	return clients, len(seen)
}
