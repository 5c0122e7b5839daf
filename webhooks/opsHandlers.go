package webhooks

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/restaurant_backend/models"
	"github.com/mmdatafocus/restaurant_backend/utils"
	"github.com/mmdatafocus/restaurant_backend/workflow"
	"gorm.io/gorm"
)

// PaymentSettler re-runs settlement for a payment without a webhook delivery.
type PaymentSettler interface {
	Settle(ctx context.Context, paymentId string) *workflow.DispatchOutcome
}

type outboxReplayRequest struct {
	EventId int `json:"event_id" validate:"required,gt=0"`
}

// OutboxReplayHandler requeues a FAILED or DEAD settlement event.
func OutboxReplayHandler(getDB func() *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}

		db := getDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}
		status, err := models.ReplaySettlementEvent(c.Request.Context(), db, req.EventId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no FAILED or DEAD event with that id"})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "replay failed"})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// OutboxStatusHandler reports the publish state of one settlement event.
func OutboxStatusHandler(getDB func() *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventId, err := strconv.Atoi(c.Param("id"))
		if err != nil || eventId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
			return
		}
		db := getDB()
		if db == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}
		status, err := models.GetSettlementEventStatus(c.Request.Context(), db, eventId)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

type settleResponse struct {
	PaymentId      string `json:"payment_id"`
	TenantId       string `json:"tenant_id,omitempty"`
	Branch         string `json:"branch,omitempty"`
	ReleaseOutcome string `json:"release_outcome,omitempty"`
	LedgerOutcome  string `json:"ledger_outcome,omitempty"`
	AuditOutcome   string `json:"audit_outcome,omitempty"`
	Regressed      bool   `json:"regressed"`
	Error          string `json:"error,omitempty"`
}

// SettlePaymentHandler re-runs settlement for the payment id in the path.
func SettlePaymentHandler(settler func() PaymentSettler) gin.HandlerFunc {
	return func(c *gin.Context) {
		paymentId := strings.TrimSpace(c.Param("id"))
		if paymentId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payment id is required"})
			return
		}
		s := settler()
		if s == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
			return
		}
		out := s.Settle(c.Request.Context(), paymentId)
		c.JSON(http.StatusOK, newSettleResponse(out))
	}
}

func newSettleResponse(out *workflow.DispatchOutcome) settleResponse {
	resp := settleResponse{
		PaymentId: out.PaymentId,
		TenantId:  out.TenantId,
		Branch:    string(out.Branch),
		Regressed: out.Regressed,
	}
	if out.Release != nil {
		resp.ReleaseOutcome = string(out.Release.Outcome)
	}
	if out.Ledger != nil {
		resp.LedgerOutcome = workflow.StepOutcome(out.Ledger.Err, out.Ledger.Duplicate)
	}
	if out.Audit != nil {
		resp.AuditOutcome = workflow.StepOutcome(out.Audit.Err, out.Audit.Skipped)
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return resp
}
