package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/models"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/repository"
	"github.com/kinetic-apps/automation-platform/setup-service/internal/service"
)

type Handler struct {
	setupService *service.SetupService
	batchService *service.BatchService
	logs         *repository.LogRepository
}

func NewHandler(setupService *service.SetupService, batchService *service.BatchService, logs *repository.LogRepository) *Handler {
	return &Handler{
		setupService: setupService,
		batchService: batchService,
		logs:         logs,
	}
}

// ==================== Internal API Handlers ====================

// SetupCredentials runs a credential-login setup for one account
func (h *Handler) SetupCredentials(c *gin.Context) {
	var req models.SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req.Mode = models.ModeCredentialLogin

	// Steps carry the failure detail; a failed setup is still a 200.
	resp := h.setupService.Run(c.Request.Context(), &req)
	c.JSON(http.StatusOK, resp)
}

// SetupSMS runs a number-rental setup. quantity > 1 routes through the
// batch runner and returns the batch summary instead.
func (h *Handler) SetupSMS(c *gin.Context) {
	var req models.SetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req.Mode = models.ModeNumberRental

	if req.Quantity > 1 {
		summary, err := h.batchService.Run(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	resp := h.setupService.Run(c.Request.Context(), &req)
	c.JSON(http.StatusOK, resp)
}

// Engagement triggers a manual warmup run on an already set-up account
func (h *Handler) Engagement(c *gin.Context) {
	var req models.EngagementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.setupService.GetAccountStatus(c.Request.Context(), req.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if status.ProfileID == nil || *status.ProfileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account has no profile"})
		return
	}

	opts := &models.EngagementOptions{
		DurationMinutes: req.DurationMinutes,
		Action:          req.Action,
		Keywords:        req.Keywords,
	}
	if err := h.setupService.StartEngagement(c.Request.Context(), req.AccountID, *status.ProfileID, opts); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "account_id": req.AccountID})
}

// ==================== Dashboard Read Handlers ====================

// GetAccount returns the status snapshot for one account
func (h *Handler) GetAccount(c *gin.Context) {
	accountID := c.Param("id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account id required"})
		return
	}

	resp, err := h.setupService.GetAccountStatus(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ListAccounts returns the most recent accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		limit = 50
	}

	accounts, err := h.setupService.ListAccounts(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accounts, "count": len(accounts)})
}

// GetAccountLogs returns the setup log trail for one account
func (h *Handler) GetAccountLogs(c *gin.Context) {
	accountID := c.Param("id")
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account id required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > 500 {
		limit = 100
	}

	entries, err := h.logs.GetByAccountID(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "logs": entries})
}
