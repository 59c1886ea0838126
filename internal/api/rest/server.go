package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/api/websocket"
	"github.com/KevinKickass/PanelBridge/internal/auth"
	"github.com/KevinKickass/PanelBridge/internal/config"
	"github.com/KevinKickass/PanelBridge/internal/interfaces"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH ENDPOINTS (PUBLIC) ====================
		v1.POST("/auth/login", s.login)

		// ==================== AUTH ENDPOINTS (AUTHENTICATED) ====================
		authProtected := v1.Group("/auth")
		authProtected.Use(s.authService.AuthMiddleware())
		{
			authProtected.GET("/me", s.getCurrentUser)
		}

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== SESSIONS (OPERATOR+) ====================
		sessions := v1.Group("/sessions")
		sessions.Use(s.authService.AuthMiddleware())
		sessions.Use(auth.RequirePermission(auth.PermOperator))
		{
			sessions.GET("", s.listSessions)
			sessions.GET("/:kind", s.getSession)
			sessions.GET("/:kind/:id", s.getSession)
		}

		// ==================== PANELS ====================
		panels := v1.Group("/panels")
		panels.Use(s.authService.AuthMiddleware())
		{
			// Read operations: Operator+
			panels.GET("", auth.RequirePermission(auth.PermOperator), s.listPanels)
			panels.GET("/:id/outputs", auth.RequirePermission(auth.PermOperator), s.getPanelOutputs)

			// Write operations: Technician+
			panels.POST("/:id/resync", auth.RequirePermission(auth.PermTechnician), s.resyncPanel)
		}
		v1.GET("/panel-types", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.listPanelTypes)

		// ==================== VARIABLES ====================
		variables := v1.Group("/variables")
		variables.Use(s.authService.AuthMiddleware())
		{
			variables.GET("", auth.RequirePermission(auth.PermOperator), s.listVariables)
			variables.POST("/write", auth.RequirePermission(auth.PermTechnician), s.writeVariable)
		}

		// ==================== MAPPINGS (OPERATOR+) ====================
		v1.GET("/mappings", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.listMappings)

		// ==================== DIAGNOSTICS JOURNAL (OPERATOR+) ====================
		v1.GET("/diagnostics", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.listDiagnostics)

		// ==================== WEBSOCKET (PUBLIC - Auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"state":     status.State,
		"simulator": status.Simulator,
		"timestamp": time.Now().Unix(),
	})
}
