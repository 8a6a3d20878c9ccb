package ws

import (
	"sync"

	"github.com/gorilla/websocket"

	"narrator-server-go/internal/domain/eventbus"
	"narrator-server-go/internal/platform/logging"
)

// EventSource is the reading session a stream follows.
type EventSource interface {
	ID() string
	Subscribe(fn func(eventbus.Event), topics ...string) (unsubscribe func())
}

// eventStream forwards every event of one reading session to one websocket
// client until either side goes away.
type eventStream struct {
	conn   *Connection
	source EventSource
	logger *logging.Logger

	mu          sync.Mutex
	unsubscribe func()
	done        chan struct{}
	stopOnce    sync.Once
}

func newEventStream(conn *Connection, source EventSource, logger *logging.Logger) *eventStream {
	return &eventStream{
		conn:   conn,
		source: source,
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (s *eventStream) GetSessionID() string {
	return s.conn.GetID()
}

// ReadingID 关联的朗读会话
func (s *eventStream) ReadingID() string {
	return s.source.ID()
}

// Handle subscribes to the reading session and blocks until the stream ends.
func (s *eventStream) Handle() {
	unsubscribe := s.source.Subscribe(s.forward)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	go s.readLoop()
	<-s.done
}

// readLoop 读取客户端消息，仅响应心跳；读失败即视为断开
func (s *eventStream) readLoop() {
	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.stop()
			return
		}
		if messageType == websocket.TextMessage && string(payload) == "ping" {
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				s.stop()
				return
			}
		}
	}
}

func (s *eventStream) forward(ev eventbus.Event) {
	select {
	case <-s.done:
		return
	default:
	}
	if err := s.conn.WriteJSON(ev); err != nil {
		s.logger.DebugTag("WebSocket", "推送事件失败 conn=%s: %v", s.conn.GetID(), err)
		s.stop()
		return
	}
	if ev.Type == eventbus.EventSessionClosed {
		s.stop()
	}
}

func (s *eventStream) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *eventStream) Close() {
	s.stop()
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}
