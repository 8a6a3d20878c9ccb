// Package sessions exposes reading sessions over REST.
package sessions

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"narrator-server-go/internal/domain/highlight"
	"narrator-server-go/internal/domain/reading"
	"narrator-server-go/internal/platform/errors"
	"narrator-server-go/internal/platform/logging"
	httptransport "narrator-server-go/internal/transport/http"
)

// Service 朗读会话的 HTTP 传输层实现
type Service struct {
	manager *reading.Manager
	logger  *logging.Logger
}

// NewService 创建会话服务
func NewService(manager *reading.Manager, logger *logging.Logger) (*Service, error) {
	if manager == nil {
		return nil, errors.New(errors.KindConfig, "sessions.new", "reading manager is required")
	}
	return &Service{manager: manager, logger: logger}, nil
}

// Register 注册会话相关的HTTP路由
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.POST("/sessions", s.handleCreate)
	router.GET("/sessions", s.handleList)

	session := router.Group("/sessions/:id")
	session.GET("", s.handleGet)
	session.DELETE("", s.handleDelete)
	session.POST("/prepare", s.handlePrepare)
	session.POST("/play", s.handlePlay)
	session.POST("/pause", s.handlePause)
	session.POST("/resume", s.handleResume)
	session.POST("/retry", s.handleRetry)
	session.POST("/stop", s.handleStop)
	session.POST("/seek", s.handleSeek)
	session.GET("/units/:granularity", s.handleUnits)
	session.POST("/units/:granularity/:index/seek", s.handleSeekUnit)
	session.GET("/audio", s.handleAudio)

	s.logger.InfoTag("HTTP", "会话服务路由注册完成")
	return nil
}

type playRequest struct {
	StartUnit   *int `json:"start_unit"`
	UserGesture bool `json:"user_gesture"`
}

type resumeRequest struct {
	UserGesture bool `json:"user_gesture"`
}

type seekRequest struct {
	Percent *float64 `json:"percent"`
}

// bindOptional 请求体可以为空
func bindOptional(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}

func (s *Service) engine(c *gin.Context) (*reading.Engine, bool) {
	e, err := s.manager.Get(c.Param("id"))
	if err != nil {
		httptransport.RespondFailure(c, err)
		return nil, false
	}
	return e, true
}

func (s *Service) handleCreate(c *gin.Context) {
	e, err := s.manager.Create()
	if err != nil {
		if stderrors.Is(err, reading.ErrTooManySessions) {
			httptransport.RespondError(c, http.StatusServiceUnavailable, err.Error(), gin.H{"retryable": true})
			return
		}
		httptransport.RespondFailure(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusCreated, e.Snapshot(), "session created")
}

func (s *Service) handleList(c *gin.Context) {
	list := make([]reading.Snapshot, 0, s.manager.Len())
	s.manager.Range(func(e *reading.Engine) bool {
		list = append(list, e.Snapshot())
		return true
	})
	httptransport.RespondSuccess(c, http.StatusOK, list, "")
}

func (s *Service) handleGet(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, e.Snapshot(), "")
}

func (s *Service) handleDelete(c *gin.Context) {
	if err := s.manager.Remove(c.Param("id")); err != nil {
		httptransport.RespondFailure(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, nil, "session closed")
}

// handlePrepare 合成文本并加载音频，直到就绪或失败才返回
func (s *Service) handlePrepare(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	var req reading.PrepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}

	res, err := e.Prepare(c.Request.Context(), req)
	if err != nil {
		httptransport.RespondFailure(c, err)
		return
	}
	if res.Superseded {
		httptransport.RespondSuccess(c, http.StatusOK, res, "superseded by a newer prepare")
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, res, "ready")
}

func (s *Service) handlePlay(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	var req playRequest
	if err := bindOptional(c, &req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}
	start := -1
	if req.StartUnit != nil {
		start = *req.StartUnit
	}
	s.respondControl(c, e, e.Play(start, req.UserGesture))
}

func (s *Service) handlePause(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	s.respondControl(c, e, e.Pause())
}

func (s *Service) handleResume(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	var req resumeRequest
	if err := bindOptional(c, &req); err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}
	s.respondControl(c, e, e.Resume(req.UserGesture))
}

// handleRetry 用户点击后重试被拦截的播放
func (s *Service) handleRetry(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	s.respondControl(c, e, e.RetryAfterGesture())
}

func (s *Service) handleStop(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	s.respondControl(c, e, e.Stop())
}

func (s *Service) handleSeek(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Percent == nil {
		httptransport.RespondError(c, http.StatusBadRequest, "percent is required", nil)
		return
	}
	if *req.Percent < 0 || *req.Percent > 100 {
		httptransport.RespondError(c, http.StatusBadRequest, "percent must be between 0 and 100", nil)
		return
	}
	s.respondControl(c, e, e.Seek(*req.Percent))
}

func (s *Service) handleUnits(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	g, err := highlight.ParseGranularity(c.Param("granularity"))
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	units, err := e.Units(g)
	if err != nil {
		httptransport.RespondFailure(c, err)
		return
	}
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"granularity": g,
		"active":      e.Snapshot().Playback.Active[g],
		"units":       units,
	}, "")
}

func (s *Service) handleSeekUnit(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	g, err := highlight.ParseGranularity(c.Param("granularity"))
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		httptransport.RespondError(c, http.StatusBadRequest, "unit index must be an integer", nil)
		return
	}
	s.respondControl(c, e, e.SeekToUnit(g, index))
}

// handleAudio 下载拼接后的音频，支持 Range 请求
func (s *Service) handleAudio(c *gin.Context) {
	e, ok := s.engine(c)
	if !ok {
		return
	}
	a, name, err := e.DownloadAudio()
	if err != nil {
		httptransport.RespondFailure(c, err)
		return
	}
	c.Header("Content-Type", a.MIMEType)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	http.ServeContent(c.Writer, c.Request, name, a.CreatedAt, a.Reader())
}

// respondControl 返回控制操作后的播放快照；被拦截的自动播放不是错误
func (s *Service) respondControl(c *gin.Context, e *reading.Engine, err error) {
	if err != nil {
		httptransport.RespondFailure(c, err)
		return
	}
	snap := e.Snapshot()
	httptransport.RespondSuccess(c, http.StatusOK, snap.Playback, string(snap.Playback.State))
}
