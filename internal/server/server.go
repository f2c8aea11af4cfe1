package server

import (
	"net/http"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"liteproxy/internal/config"
	"liteproxy/internal/proxy"
	"liteproxy/internal/server/middleware"
	"liteproxy/internal/server/validator"
	"liteproxy/internal/store"
)

type Server struct {
	router  *gin.Engine
	config  *config.Config
	logger  *zap.Logger
	service *proxy.Service
	repo    store.Repository
}

func New(cfg *config.Config, logger *zap.Logger, service *proxy.Service, repo store.Repository) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	validator.InitValidator()

	engine := gin.New()

	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(middleware.Logger(logger))

	if cfg.Tracing.Enabled {
		engine.Use(middleware.Tracing("liteproxy"))
	}
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
		engine.Use(limiter.Middleware())
	}

	s := &Server{
		router:  engine,
		config:  cfg,
		logger:  logger,
		service: service,
		repo:    repo,
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}
