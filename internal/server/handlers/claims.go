package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/EM-ade/realmkin-sub000/internal/application/claimservice"
	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

type createClaimRequest struct {
	Amount            string `json:"amount" binding:"required"`
	DestinationWallet string `json:"destination_wallet" binding:"required"`
	IdempotencyKey    string `json:"idempotency_key" binding:"required"`
}

func (h *Handlers) CreateClaim(c *gin.Context) {
	var req createClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, domain.NewInvalidArgument("body", err.Error()))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.respondError(c, domain.NewInvalidArgument("amount", "not a decimal"))
		return
	}

	result, err := h.ClaimSvc.Claim(c.Request.Context(), ownerID(c), claimservice.ClaimRequest{
		Amount:            amount,
		DestinationWallet: req.DestinationWallet,
		IdempotencyKey:    req.IdempotencyKey,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) GetClaimHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	claims, err := h.ClaimSvc.ClaimHistory(c.Request.Context(), ownerID(c), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claims": claims})
}

func (h *Handlers) GetBalance(c *gin.Context) {
	balance, err := h.ClaimSvc.Balance(c.Request.Context(), ownerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (h *Handlers) GetHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	entries, err := h.HistorySvc.History(c.Request.Context(), ownerID(c), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
