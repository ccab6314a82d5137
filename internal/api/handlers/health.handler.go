package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentops/agentops-core/internal/storage"
	"github.com/agentops/agentops-core/pkg/cache"
	"github.com/agentops/agentops-core/pkg/logger"
)

type HealthHandler struct {
	store  storage.Store
	cache  cache.Valkey
	logger logger.Logger
}

func NewHealthHandler(store storage.Store, c cache.Valkey, log logger.Logger) *HealthHandler {
	return &HealthHandler{store: store, cache: c, logger: log}
}

// GET /health - quick liveness check
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "agentops-core",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GET /ready - readiness check against the store and the broker
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true

	// A live store answers the sentinel lookup with not-found; anything else
	// is a connectivity problem.
	if _, err := h.store.GetRCARun(ctx, "readiness-probe"); err != nil && !errors.Is(err, storage.ErrNotFound) {
		checks["store"] = err.Error()
		ready = false
	} else {
		checks["store"] = "ok"
	}

	if err := h.cache.Set(ctx, "readiness:probe", []byte("ok"), time.Minute); err != nil {
		checks["cache"] = err.Error()
		ready = false
	} else {
		checks["cache"] = "ok"
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
		h.logger.Warn("readiness check failed", "checks", checks)
	}
	c.JSON(status, gin.H{"ready": ready, "checks": checks})
}
