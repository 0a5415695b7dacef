package handler

import (
	"errors"
	"net/http"
	"time"

	"loyaltysystem/internal/service"
	"loyaltysystem/pkg/response"

	"github.com/gin-gonic/gin"
)

// Stats GET /api/v1/loyalty/admin/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, stats)
}

// Reconcile GET /api/v1/loyalty/admin/reconcile/:account_id
func (h *Handler) Reconcile(c *gin.Context) {
	res, err := h.engine.Reconcile(c.Request.Context(), c.Param("account_id"))
	if errors.Is(err, service.ErrDataIntegrity) && res != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
			Data:  res,
			Error: err.Error(),
			Code:  response.CodeDataIntegrity,
		})
		return
	}
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, res)
}

// Adjust POST /api/v1/loyalty/admin/adjust
func (h *Handler) Adjust(c *gin.Context) {
	var req service.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.engine.AdjustPoints(c.Request.Context(), req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, res)
}

type AwardRequest struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Points    int64  `json:"points" binding:"required"`
	Reason    string `json:"reason"`
	OrderID   string `json:"order_id"`
}

// Award POST /api/v1/loyalty/admin/award
// Unlike adjust, awarded points are multiplied by the member's tier.
func (h *Handler) Award(c *gin.Context) {
	var req AwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	id, err := h.engine.ResolveAccountID(c.Request.Context(), req.AccountID, req.Email)
	if err != nil {
		response.FromError(c, err)
		return
	}
	res, err := h.engine.EarnPoints(c.Request.Context(), service.EarnRequest{
		AccountID:  id,
		BasePoints: req.Points,
		Reason:     req.Reason,
		OrderID:    req.OrderID,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, res)
}

type BirthdayRequest struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
}

// Birthday POST /api/v1/loyalty/admin/birthday
func (h *Handler) Birthday(c *gin.Context) {
	var req BirthdayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	id, err := h.engine.ResolveAccountID(c.Request.Context(), req.AccountID, req.Email)
	if err != nil {
		response.FromError(c, err)
		return
	}
	res, err := h.engine.AwardBirthdayBonus(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, res)
}

// Expire POST /api/v1/loyalty/admin/expire
// Runs the expiry pass now instead of waiting for the schedule.
func (h *Handler) Expire(c *gin.Context) {
	report, err := h.engine.ExpirePoints(c.Request.Context(), time.Time{})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, report)
}

// Audit POST /api/v1/loyalty/admin/audit
func (h *Handler) Audit(c *gin.Context) {
	report, err := h.engine.AuditLedger(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, report)
}
