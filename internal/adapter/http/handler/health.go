package handler

import (
	"net/http"

	"clinic-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
)

const serviceName = "clinic-ledger"

// HealthCheck handles GET /health. The ledger is only usable when both its
// stores answer: postgres holds the transaction log, redis the idempotency
// fast path. Any failing dependency degrades the whole service to 503.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type dependencyStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]dependencyStatus)
		healthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = dependencyStatus{Status: "unhealthy", Error: err.Error()}
				healthy = false
			} else {
				deps[checker.Name()] = dependencyStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !healthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"service":      serviceName,
			"status":       status,
			"dependencies": deps,
		})
	}
}
