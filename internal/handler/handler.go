package handler

import (
	"net/http"
	"strconv"
	"strings"

	"loyaltysystem/internal/model"
	"loyaltysystem/internal/service"
	"loyaltysystem/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handler serves the loyalty program API.
type Handler struct {
	engine *service.Engine
}

func NewHandler(engine *service.Engine) *Handler {
	return &Handler{engine: engine}
}

// account loads the member a request is about: the account_id query
// parameter, then the X-User-Email header set by the storefront's auth layer,
// then the email query parameter.
func (h *Handler) account(c *gin.Context) (*model.Account, bool) {
	var (
		acc *model.Account
		err error
	)
	email := c.GetHeader("X-User-Email")
	if email == "" {
		email = c.Query("email")
	}
	switch accountID := c.Query("account_id"); {
	case accountID != "":
		acc, err = h.engine.GetAccount(c.Request.Context(), accountID)
	case email != "":
		acc, err = h.engine.GetAccountByEmail(c.Request.Context(), email)
	default:
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "email or account_id required")
		return nil, false
	}
	if err != nil {
		response.FromError(c, err)
		return nil, false
	}
	return acc, true
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// GetAccount GET /api/v1/loyalty/account
func (h *Handler) GetAccount(c *gin.Context) {
	acc, ok := h.account(c)
	if !ok {
		return
	}
	response.Success(c, acc)
}

// GetStatus GET /api/v1/loyalty/status
func (h *Handler) GetStatus(c *gin.Context) {
	acc, ok := h.account(c)
	if !ok {
		return
	}
	status, err := h.engine.Status(c.Request.Context(), acc.ID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, status)
}

// ListTransactions GET /api/v1/loyalty/transactions?page=&page_size=
func (h *Handler) ListTransactions(c *gin.Context) {
	acc, ok := h.account(c)
	if !ok {
		return
	}
	page, pageSize := queryInt(c, "page", 1), queryInt(c, "page_size", 20)
	rows, total, err := h.engine.ListTransactions(c.Request.Context(), acc.ID, page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"transactions": rows,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
	})
}

// ListRedemptions GET /api/v1/loyalty/redemptions
func (h *Handler) ListRedemptions(c *gin.Context) {
	acc, ok := h.account(c)
	if !ok {
		return
	}
	page, pageSize := queryInt(c, "page", 1), queryInt(c, "page_size", 20)
	rows, total, err := h.engine.ListRedemptions(c.Request.Context(), acc.ID, page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"redemptions": rows,
		"total":       total,
	})
}

func (h *Handler) ListRewards(c *gin.Context) {
	response.Success(c, gin.H{
		"rewards":           h.engine.Rewards(),
		"min_redeem_points": h.engine.Settings().MinRedeemPoints,
	})
}

func (h *Handler) ListTiers(c *gin.Context) {
	response.Success(c, h.engine.Tiers())
}

// GetSettings returns the public program rules.
func (h *Handler) GetSettings(c *gin.Context) {
	s := h.engine.Settings()
	response.Success(c, gin.H{
		"points_per_unit":         s.PointsPerUnit,
		"signup_bonus":            s.SignupBonus,
		"referral_bonus_referrer": s.ReferrerBonus,
		"referral_bonus_referred": s.ReferredBonus,
		"review_bonus":            s.ReviewBonus,
		"birthday_bonus":          s.BirthdayBonus,
		"min_redeem_points":       s.MinRedeemPoints,
		"points_expire_months":    s.PointsExpireMonths,
	})
}

type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	Name           string `json:"name"`
	LifetimePoints int64  `json:"lifetime_points"`
	Tier           string `json:"tier"`
}

// displayName shortens a member's name to "First L." for public pages.
func displayName(first, last string) string {
	if first == "" {
		return "Plant Lover"
	}
	if last == "" {
		return first + "."
	}
	return first + " " + strings.ToUpper(string([]rune(last)[:1])) + "."
}

// Leaderboard GET /api/v1/loyalty/leaderboard?limit=
func (h *Handler) Leaderboard(c *gin.Context) {
	accounts, err := h.engine.Leaderboard(c.Request.Context(), queryInt(c, "limit", 10))
	if err != nil {
		response.FromError(c, err)
		return
	}
	entries := make([]LeaderboardEntry, 0, len(accounts))
	for i, acc := range accounts {
		entries = append(entries, LeaderboardEntry{
			Rank:           i + 1,
			Name:           displayName(acc.FirstName, acc.LastName),
			LifetimePoints: acc.PointsLifetime,
			Tier:           acc.Tier,
		})
	}
	response.Success(c, entries)
}

// Join POST /api/v1/loyalty/join
func (h *Handler) Join(c *gin.Context) {
	var req service.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	res, err := h.engine.Join(c.Request.Context(), req)
	if err != nil {
		response.FromError(c, err)
		return
	}

	data := gin.H{
		"outcome": res.Outcome,
		"account": res.Account,
	}
	if res.Referral != nil {
		data["referral"] = res.Referral
	}
	if res.ReferralError != nil {
		data["referral_error"] = res.ReferralError.Error()
	}
	if res.Outcome == service.JoinCreated {
		response.Created(c, data)
		return
	}
	response.Success(c, data)
}

// Redeem POST /api/v1/loyalty/redeem
func (h *Handler) Redeem(c *gin.Context) {
	var req service.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	if req.Email == "" {
		req.Email = c.GetHeader("X-User-Email")
	}

	id, err := h.engine.ResolveAccountID(c.Request.Context(), req.AccountID, req.Email)
	if err != nil {
		response.FromError(c, err)
		return
	}
	res, err := h.engine.RedeemPoints(c.Request.Context(), id, req.OptionID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, res)
}

type ReviewRequest struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	ProductID string `json:"product_id"`
}

// EarnReview POST /api/v1/loyalty/earn-review
func (h *Handler) EarnReview(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	if req.Email == "" {
		req.Email = c.GetHeader("X-User-Email")
	}

	id, err := h.engine.ResolveAccountID(c.Request.Context(), req.AccountID, req.Email)
	if err != nil {
		response.FromError(c, err)
		return
	}
	res, err := h.engine.EarnForReview(c.Request.Context(), id, req.ProductID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, res)
}

type ValidateReferralRequest struct {
	Code string `json:"code" binding:"required"`
}

// ValidateReferral POST /api/v1/loyalty/validate-referral
func (h *Handler) ValidateReferral(c *gin.Context) {
	var req ValidateReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	acc, err := h.engine.ValidateReferralCode(c.Request.Context(), req.Code)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, gin.H{
		"valid":         true,
		"referrer_name": displayName(acc.FirstName, acc.LastName),
	})
}

type OrderCompleteRequest struct {
	AccountID  string          `json:"account_id"`
	Email      string          `json:"email"`
	OrderID    string          `json:"order_id" binding:"required"`
	OrderTotal decimal.Decimal `json:"order_total"`
}

// CompleteOrder POST /api/v1/loyalty/orders/complete
// Called by checkout once an order is paid.
func (h *Handler) CompleteOrder(c *gin.Context) {
	var req OrderCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.engine.EarnForOrder(c.Request.Context(), service.OrderEarnRequest{
		AccountID:  req.AccountID,
		Email:      req.Email,
		OrderID:    req.OrderID,
		OrderTotal: req.OrderTotal,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, res)
}
