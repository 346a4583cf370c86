package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/bastion/service"
	"go.uber.org/zap"
)

// RouterConfig holds what the router needs beyond the auth service.
type RouterConfig struct {
	// ServiceAudience is the audience service tokens presented to bastion must carry.
	ServiceAudience string
}

// SetupRouter sets up the Gin router
func SetupRouter(auth *service.AuthService, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(TraceID(), RequestLogger(logger), Recovery(logger))

	handlers := NewAuthHandlers(auth)

	public := router.Group("/")
	public.Use(StepUp(auth))
	{
		public.POST("/auth/challenge", handlers.Challenge)
		public.POST("/auth/login", handlers.Login)
		public.POST("/auth/authenticate", handlers.Authenticate)
		public.POST("/tokens/verify", handlers.VerifyToken)
		public.POST("/tokens/refresh", handlers.RefreshToken)
		public.POST("/service-tokens/verify", handlers.VerifyServiceToken)
	}

	services := router.Group("/")
	services.Use(ServiceAuth(auth, cfg.ServiceAudience), StepUp(auth))
	{
		services.POST("/sessions", handlers.CreateSession)
		services.POST("/tokens", handlers.CreateTokens)
		services.POST("/service-tokens", handlers.GenerateServiceToken)
		services.POST("/step-up/authorize", handlers.AuthorizeStepUp)
	}

	user := router.Group("/sessions")
	user.Use(BearerAuth(auth), StepUp(auth))
	{
		user.GET("/active", handlers.ActiveSessions)
		user.GET("/history", handlers.SessionsHistory)
		user.GET("/until", handlers.SessionsUntil)
		user.POST("/terminate", handlers.TerminateSession)
		user.POST("/terminate-all", handlers.TerminateAllSessions)
	}

	return router
}
