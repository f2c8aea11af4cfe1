package server

import (
	"liteproxy/internal/server/admin"
	"liteproxy/internal/server/middleware"
	v1 "liteproxy/internal/server/v1"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.ErrorHandler(s.logger))

	// Health Check (Public)
	healthHandler := v1.NewHealthHandler()
	s.router.GET("/health", healthHandler.Health)

	// Proxy surface
	proxyHandler := v1.NewProxyHandler(s.service, s.logger)
	v1Group := s.router.Group("/v1")
	{
		// Any, not POST: the dispatcher owns the method policy and turns
		// unsupported verbs into a 405.
		v1Group.Any("/chat/completions", proxyHandler.ChatCompletions)
		v1Group.GET("/models", proxyHandler.ListModels)
	}

	// Admin surface
	configHandler := admin.NewConfigHandler(s.repo, s.service)
	logHandler := admin.NewLogHandler(s.repo)
	adminGroup := s.router.Group("/admin")
	{
		adminGroup.GET("/configs", configHandler.List)
		adminGroup.POST("/configs", configHandler.Create)
		adminGroup.PUT("/configs/:name", configHandler.Update)
		adminGroup.DELETE("/configs/:name", configHandler.Delete)

		adminGroup.GET("/logs", logHandler.List)
	}
}
