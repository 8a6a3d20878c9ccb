package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"narrator-server-go/internal/platform/logging"
	"narrator-server-go/internal/platform/observability"
)

// Resolver finds the reading session a client wants to follow.
type Resolver func(sessionID string) (EventSource, error)

// Router is responsible for upgrading HTTP connections to event streams.
type Router struct {
	hub      *Hub
	logger   *logging.Logger
	resolve  Resolver
	upgrader *websocket.Upgrader

	handshakeTimeout time.Duration
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, resolve Resolver, logger *logging.Logger, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin: opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		resolve:          resolve,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
	}
}

// Handle upgrades the HTTP connection and streams the events of sessionID.
// Unknown sessions are rejected with 404 before upgrading.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request, sessionID string) {
	source, err := r.resolve(sessionID)
	if err != nil {
		http.Error(w, "reading session not found", http.StatusNotFound)
		return
	}

	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()

	spanCtx, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	conn, err := r.upgrader.Upgrade(w, req.WithContext(handshakeCtx), nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(
			spanCtx,
			"websocket.upgrade.error",
			1,
			map[string]string{
				"component": "transport.websocket",
			},
		)
		r.logger.ErrorTag("WebSocket", "握手失败: %v", err)
		return
	}

	wsConn := NewConnection(uuid.NewString(), conn)
	handler := newEventStream(wsConn, source, r.logger)
	r.logger.InfoTag("WebSocket", "建立连接 conn=%s session=%s", wsConn.GetID(), sessionID)

	// 会话生命周期与握手请求解耦
	session := NewSession(context.WithoutCancel(spanCtx), handler, wsConn, r.logger)
	r.hub.Register(session)

	observability.RecordMetric(
		spanCtx,
		"websocket.connection.opened",
		1,
		map[string]string{
			"component": "transport.websocket",
		},
	)

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil {
			r.logger.WarnTag("WebSocket", "会话 %s 异常结束: %v", session.ID(), runErr)
		}
		observability.RecordMetric(
			session.Context(),
			"websocket.connection.closed",
			1,
			map[string]string{
				"component": "transport.websocket",
			},
		)
	})
}
