package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/absconder01/facefilter/config"
	"github.com/absconder01/facefilter/handler"
	"github.com/absconder01/facefilter/middleware"
	"github.com/absconder01/facefilter/service"
	"github.com/absconder01/facefilter/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg, err := config.New()
	if err != nil {
		_ = utils.InitLogger("debug", config.LogConfig{})
		utils.Logger.Fatal("failed to load config", zap.Error(err))
	}

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode, cfg.Log); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting facefilter server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	// 加载检测模型，缺失时拒绝启动
	models, err := service.LoadModels(&cfg.Models)
	if err != nil {
		utils.Logger.Fatal("failed to load models", zap.Error(err))
	}
	defer models.Close()

	// 初始化Redis
	var redisService *service.RedisService
	if cfg.Redis.Enabled {
		redisService = service.NewRedisService(&cfg.Redis)
		if err := redisService.Ping(context.Background()); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			redisService.Close()
			redisService = nil
		} else {
			utils.Logger.Info("redis connected successfully")
			defer redisService.Close()
		}
	}

	retouchService := service.NewRetouchService(&cfg.Retouch, models)
	retouchHandler := handler.NewRetouchHandler(cfg, redisService, retouchService)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.MaxMultipartMemory = cfg.Upload.MaxSize
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())
	if cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})
	r.GET("/ready", retouchHandler.Ready)

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	r.POST("/smooth", retouchHandler.Smooth)

	// API路由
	api := r.Group("/api/v1")
	{
		api.POST("/retouch", retouchHandler.Retouch)
		api.POST("/smooth", retouchHandler.Smooth)
		api.POST("/analyze", retouchHandler.Analyze)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()
	utils.Logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Error("server forced to shutdown", zap.Error(err))
	}

	utils.Logger.Info("server exiting")
}
