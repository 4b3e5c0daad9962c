package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"act-relay/app/config"
	"act-relay/app/filewatcher"
	"act-relay/app/handler"
	"act-relay/app/hosting"
	"act-relay/app/logger"
	"act-relay/app/middleware"
	"act-relay/app/runway"
	"act-relay/app/service"
	"act-relay/app/store"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器及其后台组件
type Server struct {
	Config *config.Config
	Logger *logger.Logger

	gin     *gin.Engine
	http    *http.Server
	store   *store.JobStore
	jobs    *service.JobService
	monitor *service.StaleJobMonitor
	watcher *filewatcher.FileWatcher
	tunnel  *hosting.Tunnel
}

// New 创建服务器，Runway 客户端和托管解析器在这里构造一次后注入任务服务
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	if err := os.MkdirAll(cfg.Storage.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("创建上传目录失败: %w", err)
	}

	jobStore, err := store.NewJobStore(cfg.Storage.JobsDir, log.Named("store"))
	if err != nil {
		return nil, err
	}

	resolver, tunnel, err := hosting.New(cfg, hosting.ExecLauncher, log)
	if err != nil {
		return nil, err
	}

	client := runway.NewClient(cfg.Runway, log.Named("runway"))
	provider := runway.NewProvider(client, resolver, cfg.Runway.DownloadTimeout, log.Named("runway"))

	jobs, err := service.NewJobService(jobStore, provider, cfg.Storage.UploadDir, log.Named("jobs"))
	if err != nil {
		return nil, err
	}

	watcher, err := filewatcher.NewJobRecordWatcher(jobStore.Dir(), jobStore, store.IDFromFilename, log.Named("watcher"))
	if err != nil {
		return nil, err
	}

	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.MaxMultipartMemory = cfg.Storage.MaxFileSize

	s := &Server{
		Config: cfg,
		Logger: log,
		gin:    router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		store:   jobStore,
		jobs:    jobs,
		monitor: service.NewStaleJobMonitor(jobStore, cfg.Monitor, log.Named("monitor")),
		watcher: watcher,
		tunnel:  tunnel,
	}

	s.setupRoutes()

	return s, nil
}

// Handler 返回路由，测试中直接使用
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Start 启动后台组件并开始监听
func (s *Server) Start() error {
	if err := s.watcher.Start(); err != nil {
		s.Logger.Warnf("启动任务目录监控失败: %v", err)
	}
	if s.Config.Monitor.Enabled {
		if err := s.monitor.Start(); err != nil {
			return err
		}
	}
	if s.Config.Runway.APIKey == "" {
		s.Logger.Warnf("⚠️ 未配置 RUNWAY_API_KEY，任务将在创建 Runway 任务时失败")
	}

	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 先停止接收请求，再等待进行中的任务
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	if jerr := s.jobs.Shutdown(ctx); jerr != nil {
		s.Logger.Errorf("等待任务结束失败: %v", jerr)
		err = errors.Join(err, jerr)
	}

	s.monitor.Stop()
	if werr := s.watcher.Stop(); werr != nil {
		s.Logger.Errorf("停止任务目录监控失败: %v", werr)
	}
	if terr := s.tunnel.Close(); terr != nil {
		s.Logger.Errorf("关闭隧道失败: %v", terr)
	}
	return err
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	jobHandler := handler.NewJobHandler(s.jobs, s.Config.Storage.MaxFileSize, s.Logger.Named("handler"))
	mediaHandler := handler.NewMediaHandler(s.Config.Storage.UploadDir)

	s.gin.Use(
		middleware.RequestID(),
		middleware.Logging(s.Logger.Named("http")),
		middleware.Recovery(s.Logger),
		middleware.CORS(s.Config.Server.AllowedOrigins()),
	)

	s.gin.GET("/", handler.Root)
	s.gin.GET("/health", handler.Health)

	api := s.gin.Group("/api")
	{
		api.POST("/upload", jobHandler.Upload)
		api.POST("/validate-videos", jobHandler.ValidateVideos)
		api.GET("/jobs/:job_id", jobHandler.GetJob)
	}

	// 外部服务通过隧道拉取上传文件
	s.gin.GET("/serve/:filename", middleware.OpenCORS(), mediaHandler.Serve)

	s.gin.Static("/uploads", s.Config.Storage.UploadDir)
	s.gin.Static("/jobs", s.Config.Storage.JobsDir)
}
