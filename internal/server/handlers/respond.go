package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/EM-ade/realmkin-sub000/internal/domain"
)

// respondError maps a settlement error to its stable code and a safe message.
// Raw internals are logged upstream, never serialized.
func (h *Handlers) respondError(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	if code == domain.CodeInternal {
		h.Logger.Error().
			Err(err).
			Str("path", c.FullPath()).
			Msg("Request failed with internal error")
	}
	c.JSON(statusFor(code), gin.H{
		"error_code": code,
		"message":    domain.MessageFor(code),
	})
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidArgument, domain.CodeTransferInvalid:
		return http.StatusBadRequest
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInsufficientBalance, domain.CodeStillLocked, domain.CodeWrongStakeStatus:
		return http.StatusConflict
	case domain.CodeLedgerBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ownerID reads the authenticated user id set by the auth middleware.
func ownerID(c *gin.Context) string {
	return c.GetString("user_id")
}

func ownerWallet(c *gin.Context) string {
	return c.GetString("wallet_address")
}
