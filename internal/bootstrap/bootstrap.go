package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"narrator-server-go/internal/domain/audio"
	"narrator-server-go/internal/domain/audiocache"
	"narrator-server-go/internal/domain/reading"
	"narrator-server-go/internal/domain/rewrite"
	"narrator-server-go/internal/domain/tts"
	"narrator-server-go/internal/domain/tts/inter"
	platformconfig "narrator-server-go/internal/platform/config"
	platformerrors "narrator-server-go/internal/platform/errors"
	platformlogging "narrator-server-go/internal/platform/logging"
	platformobservability "narrator-server-go/internal/platform/observability"
	platformstorage "narrator-server-go/internal/platform/storage"
	httptransport "narrator-server-go/internal/transport/http"
	httpsessions "narrator-server-go/internal/transport/http/sessions"
	httpwebapi "narrator-server-go/internal/transport/http/webapi"
	"narrator-server-go/internal/transport/ws"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	slogger               *slog.Logger
	observabilityShutdown platformobservability.ShutdownFunc
	db                    *gorm.DB
	cache                 audiocache.Store
	provider              inter.Provider
	synthesizer           *tts.Synthesizer
	rewriter              rewrite.Rewriter
	manager               *reading.Manager
}

// close 按初始化的逆序释放资源
func (s *appState) close() {
	if s.manager != nil {
		s.manager.Close()
	}
	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.cache.Close(ctx); err != nil {
			s.logger.WarnTag("缓存", "音频缓存未正常关闭: %v", err)
		}
		cancel()
	}
	if s.db != nil {
		if err := platformstorage.CloseDatabase(); err != nil {
			s.logger.WarnTag("引导", "数据库未正常关闭: %v", err)
		}
	}
	if shutdown := s.observabilityShutdown; shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := shutdown(ctx); err != nil {
			s.logger.WarnTag("引导", "可观测性未正常关闭: %v", err)
		}
		cancel()
	}
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context) error {
	state := &appState{}

	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		state.close()
		if state.logger != nil {
			_ = state.logger.Close()
		}
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil || state.manager == nil {
		state.close()
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger/manager not initialised",
		)
	}
	defer logger.Close()
	defer state.close()

	logBootstrapGraph(steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	state.manager.StartReaper(groupCtx)

	if _, err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return fmt.Errorf("启动 Http 服务失败: %w", err)
	}
	logger.InfoTag("引导", "服务已成功启动")

	return waitForShutdown(signalCtx, groupCtx, cancel, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("引导", "初始化依赖关系概览")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("引导", "%s (%s)", step.ID, step.Title)
			continue
		}
		logger.InfoTag("引导", "%s (%s) <- %s", step.ID, step.Title, strings.Join(step.DependsOn, ", "))
	}
	logger.InfoTag("引导", "启动服务")
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph returns the ordered initialisation steps of the server.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Setup observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "cache:init-store",
			Title:     "Initialise audio cache",
			DependsOn: []string{"storage:init-database"},
			Kind:      platformerrors.KindCache,
			Execute:   initCacheStep,
		},
		{
			ID:        "tts:init-provider",
			Title:     "Initialise speech synthesis provider",
			DependsOn: []string{"cache:init-store", "observability:setup-hooks"},
			Kind:      platformerrors.KindSynthesis,
			Execute:   initTTSStep,
		},
		{
			ID:        "rewrite:init-provider",
			Title:     "Initialise rewrite provider",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindConfig,
			Execute:   initRewriteStep,
		},
		{
			ID:        "reading:init-manager",
			Title:     "Initialise reading session manager",
			DependsOn: []string{"tts:init-provider", "rewrite:init-provider"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initReadingStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().Load()
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "config:load", "failed to load config", err)
	}
	state.config = result.Config
	state.configPath = result.Path
	if state.configPath == "" {
		state.configPath = "defaults"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider", "failed to initialize logging provider", err)
	}

	state.logger = logger
	state.slogger = logger.Slog()
	state.logger.InfoTag(
		"引导",
		"日志模块就绪 [%s] %s",
		state.config.Log.Level,
		state.configPath,
	)
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	if state == nil || state.logger == nil || state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"observability:setup-hooks",
			"config/logger not initialised",
		)
	}

	cfg := platformobservability.Config{
		Enabled: strings.EqualFold(state.config.Log.Level, "debug"),
	}

	shutdown, err := platformobservability.Setup(ctx, cfg, state.slogger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "observability:setup-hooks", "failed to setup observability hooks", err)
	}
	state.observabilityShutdown = shutdown
	return nil
}

// initDatabaseStep 仅在缓存使用 sqlite 驱动时打开数据库
func initDatabaseStep(_ context.Context, state *appState) error {
	if !strings.EqualFold(state.config.Cache.Driver, audiocache.DriverSQLite) {
		state.logger.DebugTag("引导", "缓存驱动为 %s，跳过数据库初始化", cacheDriver(state.config))
		return nil
	}

	if err := platformstorage.InitDatabase(state.config.Cache.SQLite.DSN); err != nil {
		return platformerrors.Wrap(platformerrors.KindStorage, "storage:init-database", "failed to initialize database", err)
	}
	state.db = platformstorage.GetDB()
	state.logger.InfoTag("引导", "数据库初始化完成")
	return nil
}

func initCacheStep(_ context.Context, state *appState) error {
	cfg := state.config.Cache
	storeCfg := audiocache.Config{
		Driver:     strings.ToLower(cacheDriver(state.config)),
		MaxEntries: cfg.MaxEntries,
		TTL:        cfg.TTL,
	}
	if storeCfg.Driver == audiocache.DriverRedis {
		if cfg.Redis.Addr == "" {
			return platformerrors.New(platformerrors.KindCache, "cache:init-store", "redis cache addr is required")
		}
		storeCfg.Redis = &audiocache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}
	}

	store, err := audiocache.New(storeCfg, audiocache.Dependencies{SQLiteDB: state.db})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindCache, "cache:init-store", "failed to create audio cache", err)
	}
	state.cache = store
	state.logger.InfoTag("缓存", "音频缓存就绪 driver=%s", storeCfg.Driver)
	return nil
}

func initTTSStep(_ context.Context, state *appState) error {
	provider, err := tts.NewProvider(state.config.TTS, state.logger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindConfig, "tts:init-provider", "failed to create tts provider", err)
	}

	retry := state.config.TTS.Retry
	state.provider = provider
	state.synthesizer = tts.NewSynthesizer(provider, state.cache, tts.Options{
		Retry: tts.RetryPolicy{
			MaxRetries: retry.MaxRetries,
			BaseDelay:  retry.BaseDelay,
			RetryOn429: retry.RetryOn429,
		},
		Timeout: state.config.TTS.Timeout,
	}, state.logger)
	state.logger.InfoTag("TTS", "语音合成提供者就绪 %s (%s)", state.config.TTS.Provider, provider.Name())
	return nil
}

func initRewriteStep(_ context.Context, state *appState) error {
	rewriter, err := rewrite.New(state.config.Rewrite, state.logger)
	if err != nil {
		return err
	}
	state.rewriter = rewriter
	if rewriter != nil {
		state.logger.InfoTag("LLM", "朗读改写已启用 model=%s", state.config.Rewrite.ModelName)
	}
	return nil
}

func initReadingStep(_ context.Context, state *appState) error {
	library := audio.NewLibrary()
	state.manager = reading.NewManager(reading.Dependencies{
		Synthesizer: state.synthesizer,
		Assembler:   audio.NewAssembler(library, audio.MP3Probe{}, state.logger),
		Rewriter:    state.rewriter,
		Defaults:    tts.DefaultSettings(state.config.TTS),
	}, reading.OptionsFromConfig(state.config), state.logger)
	return nil
}

func cacheDriver(cfg *platformconfig.Config) string {
	if cfg.Cache.Driver == "" {
		return audiocache.DriverMemory
	}
	return cfg.Cache.Driver
}

// buildRouter 组装 REST 与 WebSocket 路由，两者共用一个监听端口
func buildRouter(ctx context.Context, state *appState) (*gin.Engine, *ws.Server, error) {
	config := state.config
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config: config,
		Logger: logger,
	})
	if err != nil {
		return nil, nil, err
	}
	router := httpRouter.Engine
	apiGroup := httpRouter.API

	hub := ws.NewHub(logger)
	wsRouter := ws.NewRouter(hub, func(sessionID string) (ws.EventSource, error) {
		engine, err := state.manager.Get(sessionID)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}, logger, ws.RouterOptions{})
	wsServer := ws.NewServer(ws.ServerConfig{}, wsRouter, hub, logger)
	wsServer.Mount(router)

	sessionsService, err := httpsessions.NewService(state.manager, logger)
	if err != nil {
		return nil, nil, platformerrors.Wrap(platformerrors.KindTransport, "sessions:new-service", "failed to create sessions service", err)
	}
	webapiService, err := httpwebapi.NewService(config, state.manager, state.cache, wsServer, logger)
	if err != nil {
		logger.ErrorTag("HTTP", "WebAPI 服务初始化失败: %v", err)
		return nil, nil, platformerrors.Wrap(platformerrors.KindTransport, "webapi:new-service", "failed to create webapi service", err)
	}

	// 注册服务路由
	if err := sessionsService.Register(ctx, apiGroup); err != nil {
		return nil, nil, err
	}
	if err := webapiService.Register(ctx, apiGroup); err != nil {
		return nil, nil, err
	}

	index := filepath.Join(config.Web.StaticDir, "index.html")
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") || !config.Web.Enabled {
			httptransport.RespondError(c, http.StatusNotFound, "api Not found", gin.H{})
			return
		}
		if _, err := os.Stat(index); err != nil {
			httptransport.RespondError(c, http.StatusNotFound, "Not found", gin.H{})
			return
		}
		c.File(index)
	})

	return router, wsServer, nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	config := state.config
	logger := state.logger

	router, wsServer, err := buildRouter(groupCtx, state)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(config.Server.IP, strconv.Itoa(config.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "Gin 服务已启动，访问地址 http://%s", addr)
		logger.InfoTag("WebSocket", "事件流入口: ws://%s%s", addr, ws.DefaultPath)

		go func() {
			<-groupCtx.Done()
			// 先关闭事件流，长连接不会阻塞 Shutdown
			if err := wsServer.Stop(); err != nil {
				logger.ErrorTag("WebSocket", "关闭事件流失败: %v", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP 服务启动失败: %v", err)
			return platformerrors.Wrap(platformerrors.KindTransport, "http:listen", "http server failed", err)
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	signalCtx context.Context,
	groupCtx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	select {
	case <-signalCtx.Done():
		logger.InfoTag("引导", "收到系统信号 %v，正在进行资源清理", context.Cause(signalCtx))
	case <-groupCtx.Done():
		logger.WarnTag("引导", "服务异常退出，正在进行资源清理")
	}

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("引导", "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag("引导", "所有服务已成功关闭")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("引导", "服务关闭超时，已强制退出")
		return platformerrors.New(platformerrors.KindBootstrap, "bootstrap:shutdown", "服务关闭超时")
	}
	return nil
}
