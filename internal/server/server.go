package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	authservice "github.com/EM-ade/realmkin-sub000/internal/application/auth"
	"github.com/EM-ade/realmkin-sub000/internal/application/claimservice"
	"github.com/EM-ade/realmkin-sub000/internal/application/historylog"
	"github.com/EM-ade/realmkin-sub000/internal/application/stakeservice"
	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/database"
	"github.com/EM-ade/realmkin-sub000/internal/server/handlers"
	"github.com/EM-ade/realmkin-sub000/internal/server/middleware"
	"github.com/EM-ade/realmkin-sub000/internal/server/websocket"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
)

type Server struct {
	ClaimSvc   claimservice.IClaimService
	StakeSvc   stakeservice.IStakeService
	HistorySvc historylog.IHistoryService
	AuthSvc    authservice.IAuthService
	DBMgr      *database.DBManager
	Cfg        *config.Config
	Logger     zerolog.Logger
	Router     *gin.Engine
	httpServer *http.Server
	WsHub      *websocket.WsHub
}

func New(
	cfg *config.Config,
	claimSvc claimservice.IClaimService,
	stakeSvc stakeservice.IStakeService,
	historySvc historylog.IHistoryService,
	authSvc authservice.IAuthService,
	dbMgr *database.DBManager,
	logger zerolog.Logger,
	wsHub *websocket.WsHub,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	return &Server{
		Cfg:        cfg,
		ClaimSvc:   claimSvc,
		StakeSvc:   stakeSvc,
		HistorySvc: historySvc,
		AuthSvc:    authSvc,
		DBMgr:      dbMgr,
		Logger:     logger,
		Router:     gin.New(),
		WsHub:      wsHub,
	}
}

func (s *Server) SetupRouter() {
	mw := middleware.NewMiddleware(s.AuthSvc, s.Logger)
	mw.SetupMiddleware(s.Router)

	handler := handlers.New(
		s.ClaimSvc,
		s.StakeSvc,
		s.HistorySvc,
		s.DBMgr,
		s.WsHub,
		s.Logger,
		s.Cfg,
	)
	handler.SetupHandlers(s.Router, mw)
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests. The
// returned cancel of the reconciliation context is the caller's concern.
func (s *Server) Start() {
	s.SetupRouter()

	s.httpServer = &http.Server{
		Addr:         s.Cfg.Server.Host + ":" + s.Cfg.Server.Port,
		Handler:      s.Router,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	s.Logger.Info().Msgf("Starting server on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-stopChan
	s.Logger.Info().Msg("Shutdown signal received, shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	s.Logger.Info().Msg("Server exited gracefully")
}
