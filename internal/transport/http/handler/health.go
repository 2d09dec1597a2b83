package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"legalrag/internal/app"
)

type HealthHandler struct {
	admin     *app.AdminService
	appName   string
	env       string
	startedAt time.Time
}

func NewHealthHandler(admin *app.AdminService, appName, env string, startedAt time.Time) *HealthHandler {
	return &HealthHandler{admin: admin, appName: appName, env: env, startedAt: startedAt}
}

// Check answers 503 when any enabled component is unhealthy.
func (h *HealthHandler) Check(c *gin.Context) {
	report := h.admin.HealthCheck(c.Request.Context())

	statusCode := http.StatusOK
	if !report.Healthy() {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"status":     report.Status,
		"app":        h.appName,
		"env":        h.env,
		"uptime_sec": int(time.Since(h.startedAt).Seconds()),
		"components": report.Components,
		"timestamp":  report.Timestamp,
	})
}
