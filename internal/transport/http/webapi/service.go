package webapi

import (
	"context"
	"net/http"
	"time"

	"narrator-server-go/internal/domain/audiocache"
	"narrator-server-go/internal/domain/reading"
	"narrator-server-go/internal/platform/config"
	"narrator-server-go/internal/platform/errors"
	"narrator-server-go/internal/platform/logging"
	"narrator-server-go/internal/platform/observability"

	"github.com/gin-gonic/gin"
)

// StreamCounter reports open event streams.
type StreamCounter interface {
	Counts() (clients int, readings int)
}

// Service WebAPI服务的HTTP传输层实现：健康检查、音色与配置查询
type Service struct {
	logger  *logging.Logger
	config  *config.Config
	cache   audiocache.Store
	manager *reading.Manager
	streams StreamCounter
	started time.Time
}

// NewService 创建新的WebAPI服务实例
func NewService(config *config.Config, manager *reading.Manager, cache audiocache.Store, streams StreamCounter, logger *logging.Logger) (*Service, error) {
	if config == nil {
		return nil, errors.New(errors.KindConfig, "webapi.new", "config is required")
	}
	if manager == nil {
		return nil, errors.New(errors.KindConfig, "webapi.new", "reading manager is required")
	}

	service := &Service{
		logger:  logger,
		config:  config,
		cache:   cache,
		manager: manager,
		streams: streams,
		started: time.Now(),
	}

	return service, nil
}

// Register 注册WebAPI相关的HTTP路由
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.GET("/health", s.handleHealth)
	router.GET("/voices", s.handleVoices)
	router.GET("/config", s.handleConfig)
	router.GET("/metrics", s.handleMetrics)

	s.logger.InfoTag("HTTP", "WebAPI服务路由注册完成")
	return nil
}

// handleHealth 服务状态，缓存不可用时返回 503
func (s *Service) handleHealth(c *gin.Context) {
	data := gin.H{
		"status":   "ok",
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"sessions": s.manager.Len(),
	}
	if s.streams != nil {
		clients, _ := s.streams.Counts()
		data["streams"] = clients
	}
	if host, err := collectHostStats(c.Request.Context()); err != nil {
		s.logger.DebugTag("HTTP", "获取主机资源失败: %v", err)
	} else {
		data["host"] = host
	}

	if s.cache != nil {
		stats, err := s.cache.Stats(c.Request.Context())
		if err != nil {
			s.logger.WarnTag("缓存", "获取缓存状态失败: %v", err)
			data["status"] = "degraded"
			data["cache_error"] = err.Error()
			s.respondSuccess(c, http.StatusServiceUnavailable, data, "cache unavailable")
			return
		}
		data["cache"] = stats
	}
	s.respondSuccess(c, http.StatusOK, data, "Narrator service is running")
}

func (s *Service) handleVoices(c *gin.Context) {
	defaults := s.manager.Defaults()
	s.respondSuccess(c, http.StatusOK, gin.H{
		"provider": s.config.TTS.Provider,
		"default":  defaults.Voice,
		"voices":   s.manager.Voices(),
	}, "")
}

// PublicConfig 对外暴露的非敏感配置
type PublicConfig struct {
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	Voice        string   `json:"voice"`
	Speed        float64  `json:"speed"`
	Format       string   `json:"format"`
	MaxChunkSize int      `json:"max_chunk_size"`
	Rewrite      bool     `json:"rewrite"`
	Autoplay     string   `json:"autoplay"`
	PollInterval string   `json:"poll_interval"`
	Granularity  []string `json:"granularities"`
}

func (s *Service) handleConfig(c *gin.Context) {
	cfg := s.config
	out := PublicConfig{
		Provider:     cfg.TTS.Provider,
		Model:        cfg.TTS.Model,
		Voice:        cfg.TTS.Voice,
		Speed:        cfg.TTS.Speed,
		Format:       cfg.TTS.Format,
		MaxChunkSize: cfg.TTS.MaxChunkSize,
		Rewrite:      cfg.Rewrite.Enabled,
		Autoplay:     cfg.Playback.Autoplay,
		PollInterval: cfg.Playback.PollInterval.String(),
		Granularity:  []string{"word", "sentence", "paragraph", "segment"},
	}
	s.respondSuccess(c, http.StatusOK, out, "")
}

func (s *Service) handleMetrics(c *gin.Context) {
	s.respondSuccess(c, http.StatusOK, gin.H{
		"enabled": observability.Enabled(),
		"metrics": observability.Snapshot(),
	}, "")
}

// respondSuccess 返回成功响应
func (s *Service) respondSuccess(c *gin.Context, statusCode int, data interface{}, message string) {
	c.JSON(statusCode, gin.H{
		"success": statusCode < http.StatusBadRequest,
		"data":    data,
		"message": message,
		"code":    statusCode,
	})
}
