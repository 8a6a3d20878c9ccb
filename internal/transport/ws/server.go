package ws

import (
	"github.com/gin-gonic/gin"

	"narrator-server-go/internal/platform/logging"
)

// DefaultPath is where event streams are mounted.
const DefaultPath = "/ws/sessions/:id"

// ServerConfig stores the settings required to expose the websocket transport.
type ServerConfig struct {
	Path string
}

// Server coordinates the websocket router, hub and lifecycle management. It
// shares the HTTP listener of the REST API.
type Server struct {
	cfg    ServerConfig
	hub    *Hub
	router *Router
	logger *logging.Logger
}

// NewServer builds a websocket transport server.
func NewServer(cfg ServerConfig, router *Router, hub *Hub, logger *logging.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}

	return &Server{
		cfg:    cfg,
		router: router,
		hub:    hub,
		logger: logger,
	}
}

// Mount registers the upgrade route on r.
func (s *Server) Mount(r gin.IRoutes) {
	r.GET(s.cfg.Path, func(c *gin.Context) {
		s.router.Handle(c.Writer, c.Request, c.Param("id"))
	})
	s.logger.InfoTag("WebSocket", "事件流路由 %s", s.cfg.Path)
}

// Hub 返回连接管理器
func (s *Server) Hub() *Hub {
	return s.hub
}

// Stop closes every active stream.
func (s *Server) Stop() error {
	s.hub.CloseAll(ErrSessionShutdown)
	return nil
}

// Counts exposes active client and session counts.
func (s *Server) Counts() (int, int) {
	return s.hub.Counts()
}
