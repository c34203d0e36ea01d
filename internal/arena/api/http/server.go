// Package http exposes the arena over a JSON API: advance requests,
// auto-run configuration, read models, and investor escrow claims.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/openagora/arena/internal/arena/core"
	"github.com/openagora/arena/internal/arena/economy"
	"github.com/openagora/arena/internal/platform/timeouts"
)

// Server hosts the arena JSON API.
type Server struct {
	engine  *gin.Engine
	arena   *core.Service
	economy *economy.Service
	httpSrv *http.Server
}

// New creates a configured server. The caller owns the listen address.
func New(addr string, arena *core.Service, econ *economy.Service, auth AuthConfig) (*Server, error) {
	if arena == nil || econ == nil {
		return nil, fmt.Errorf("arena and economy services are required")
	}
	if auth.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{engine: engine, arena: arena, economy: econ}

	engine.GET("/healthz", s.handleHealthz)

	api := engine.Group("/api/arena")
	api.GET("/state", s.handleState)
	api.GET("/seasons", s.handleSeasons)
	api.GET("/seasons/:id/leaderboard", s.handleLeaderboard)
	api.GET("/snapshots", s.handleSnapshots)

	authed := api.Group("")
	authed.Use(requireActor(auth))
	authed.POST("/advance", s.handleAdvance)
	authed.PUT("/autorun", s.handleAutoRun)
	authed.POST("/agents/:id/escrow/claim", s.handleEscrowClaim)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks serving requests until the listener fails or
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve arena api: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
