package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/EM-ade/realmkin-sub000/internal/application/claimservice"
	"github.com/EM-ade/realmkin-sub000/internal/application/historylog"
	"github.com/EM-ade/realmkin-sub000/internal/application/stakeservice"
	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/database"
	"github.com/EM-ade/realmkin-sub000/internal/server/middleware"
	"github.com/EM-ade/realmkin-sub000/internal/server/websocket"
	"github.com/EM-ade/realmkin-sub000/pkg/config"
)

type Handlers struct {
	ClaimSvc   claimservice.IClaimService
	StakeSvc   stakeservice.IStakeService
	HistorySvc historylog.IHistoryService
	DBMgr      *database.DBManager
	WsHub      *websocket.WsHub
	Logger     zerolog.Logger
	Config     *config.Config
}

func New(
	claimSvc claimservice.IClaimService,
	stakeSvc stakeservice.IStakeService,
	historySvc historylog.IHistoryService,
	dbMgr *database.DBManager,
	wsHub *websocket.WsHub,
	logger zerolog.Logger,
	config *config.Config,
) *Handlers {
	return &Handlers{
		ClaimSvc:   claimSvc,
		StakeSvc:   stakeSvc,
		HistorySvc: historySvc,
		DBMgr:      dbMgr,
		WsHub:      wsHub,
		Logger:     logger,
		Config:     config,
	}
}

func (h *Handlers) SetupHandlers(router *gin.Engine, mw *middleware.Middleware) {
	healthHandler := NewHealthHandler(h.DBMgr)
	wsHandler := NewWebSocketHandler(h.WsHub, h.Config.WebSocket, h.Logger)

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/v1")
	{
		v1.GET("/metrics/staking", h.GetStakingMetrics)

		authed := v1.Group("")
		authed.Use(mw.AuthMiddleware())
		{
			authed.POST("/claims", h.CreateClaim)
			authed.GET("/claims/history", h.GetClaimHistory)
			authed.GET("/balance", h.GetBalance)

			stakes := authed.Group("/stakes")
			{
				stakes.POST("", h.CreateStake)
				stakes.GET("", h.GetUserStakes)
				stakes.POST("/:stake_id/unstake", h.RequestUnstake)
				stakes.POST("/:stake_id/unstake/complete", h.CompleteUnstake)
				stakes.POST("/:stake_id/rewards/update", h.UpdateRewards)
				stakes.POST("/:stake_id/rewards/claim", h.ClaimRewards)
			}

			authed.GET("/history", h.GetHistory)
		}
	}

	ws := router.Group("/ws")
	ws.Use(mw.AuthMiddleware())
	ws.GET("", wsHandler.HandleConnection)
}
