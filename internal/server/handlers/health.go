package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EM-ade/realmkin-sub000/internal/infrastructure/database"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	dbMgr *database.DBManager
}

func NewHealthHandler(dbMgr *database.DBManager) *HealthHandler {
	return &HealthHandler{dbMgr: dbMgr}
}

// Health returns basic health status
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "rse",
		"version":   "1.0.0",
		"timestamp": time.Now(),
	})
}

// Ready reports whether the ledger store is reachable.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.dbMgr != nil && h.dbMgr.Db != nil {
		if err := h.dbMgr.Db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not ready",
				"service":   "rse",
				"timestamp": time.Now(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"service":   "rse",
		"version":   "1.0.0",
		"timestamp": time.Now(),
	})
}
