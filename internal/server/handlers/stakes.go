package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/application/stakeservice"
	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

type createStakeRequest struct {
	Amount            string `json:"amount" binding:"required"`
	LockPeriod        string `json:"lock_period" binding:"required"`
	DepositTransferID string `json:"deposit_transfer_id" binding:"required"`
	IdempotencyKey    string `json:"idempotency_key" binding:"required"`
}

func (h *Handlers) CreateStake(c *gin.Context) {
	var req createStakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, domain.NewInvalidArgument("body", err.Error()))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.respondError(c, domain.NewInvalidArgument("amount", "not a decimal"))
		return
	}

	stake, err := h.StakeSvc.CreateStake(c.Request.Context(), ownerID(c), ownerWallet(c), stakeservice.StakeRequest{
		Amount:            amount,
		LockPeriod:        domain.LockPeriod(req.LockPeriod),
		DepositTransferID: req.DepositTransferID,
		IdempotencyKey:    req.IdempotencyKey,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stake)
}

func (h *Handlers) GetUserStakes(c *gin.Context) {
	stakes, err := h.StakeSvc.UserStakes(c.Request.Context(), ownerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stakes": stakes})
}

func (h *Handlers) RequestUnstake(c *gin.Context) {
	if err := h.StakeSvc.RequestUnstake(c.Request.Context(), ownerID(c), c.Param("stake_id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unstaking"})
}

type completeUnstakeRequest struct {
	PayoutTransferID string `json:"payout_transfer_id" binding:"required"`
}

func (h *Handlers) CompleteUnstake(c *gin.Context) {
	var req completeUnstakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, domain.NewInvalidArgument("body", err.Error()))
		return
	}
	err := h.StakeSvc.CompleteUnstake(c.Request.Context(), ownerID(c), ownerWallet(c), c.Param("stake_id"), req.PayoutTransferID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

func (h *Handlers) UpdateRewards(c *gin.Context) {
	banked, err := h.StakeSvc.UpdateRewards(c.Request.Context(), ownerID(c), c.Param("stake_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rewards_earned": banked})
}

type claimRewardsRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

func (h *Handlers) ClaimRewards(c *gin.Context) {
	var req claimRewardsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, domain.NewInvalidArgument("body", err.Error()))
		return
	}
	claimed, err := h.StakeSvc.ClaimRewards(c.Request.Context(), ownerID(c), c.Param("stake_id"), req.IdempotencyKey)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rewards_claimed": claimed})
}

func (h *Handlers) GetStakingMetrics(c *gin.Context) {
	metrics, err := h.StakeSvc.GlobalMetrics(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}
