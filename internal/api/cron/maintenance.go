package cron

import (
	"net/http"
	"time"

	"github.com/elementojuris/billing/internal/logger"
	"github.com/elementojuris/billing/internal/service"
	"github.com/gin-gonic/gin"
)

// MaintenanceCronHandler lets an external scheduler trigger the billing sweep
type MaintenanceCronHandler struct {
	billingService service.BillingService
	logger         *logger.Logger
}

func NewMaintenanceCronHandler(billingService service.BillingService, logger *logger.Logger) *MaintenanceCronHandler {
	return &MaintenanceCronHandler{
		billingService: billingService,
		logger:         logger,
	}
}

// @Summary Run billing maintenance
// @Description Expire annual plans, cancel lapsed grace periods and send reminders
// @Tags Platform
// @Produce json
// @Security PlatformKey
// @Success 200 {object} dto.MaintenanceResponse
// @Router /platform/billing/maintenance [post]
func (h *MaintenanceCronHandler) RunMaintenance(c *gin.Context) {
	now := time.Now().UTC()
	h.logger.Infow("starting billing maintenance cron job", "time", now.Format(time.RFC3339))

	resp, err := h.billingService.RunScheduledMaintenance(c.Request.Context(), now)
	if err != nil {
		h.logger.Errorw("failed to run billing maintenance", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("completed billing maintenance cron job")
	c.JSON(http.StatusOK, resp)
}
