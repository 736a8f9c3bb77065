package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"cashqueue/internal/middleware"
	"cashqueue/internal/model"
	"cashqueue/internal/settlement"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultOrigin is the origin context of HTTP callers that do not name one.
const DefaultOrigin = "api"

// Notifier is told about every settled deposit so payees on other surfaces
// hear about it.
type Notifier interface {
	NotifySettled(ctx context.Context, out *settlement.Outcome)
}

// Handler exposes the settlement engine over HTTP
type Handler struct {
	engine   *settlement.Engine
	log      *zap.Logger
	notifier Notifier
}

// NewHandler creates a Handler. notifier may be nil.
func NewHandler(engine *settlement.Engine, log *zap.Logger, notifier Notifier) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		engine:   engine,
		log:      log,
		notifier: notifier,
	}
}

// RegisterRoutes mounts the API on v1. The group must run
// middleware.Privilege first.
func (h *Handler) RegisterRoutes(v1 *gin.RouterGroup) {
	v1.GET("/methods", h.ListMethods)
	v1.GET("/summary", h.Summary)
	v1.GET("/settlements", h.ListSettlements)

	withdrawals := v1.Group("/withdrawals")
	{
		withdrawals.POST("", h.SubmitWithdrawal)
		withdrawals.GET("", h.ListWithdrawals)
		withdrawals.GET("/active", h.ActiveWithdrawal)
		withdrawals.POST("/add", h.AddToWithdrawal)
		withdrawals.POST("/subtract", h.SubtractFromWithdrawal)
		withdrawals.POST("/filled", h.MarkOldestFilled)
		withdrawals.DELETE("/:id", h.DeleteWithdrawal)
	}

	deposits := v1.Group("/deposits")
	{
		deposits.POST("", h.SubmitDeposit)
		deposits.GET("", h.ListDeposits)
		deposits.POST("/complete", h.CompleteOldestDeposit)
		deposits.GET("/:id/preview", h.PreviewDeposit)
		deposits.POST("/:id/confirm", h.ConfirmDeposit)
	}
}

func caller(c *gin.Context, origin string) settlement.Caller {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		origin = DefaultOrigin
	}
	return settlement.Caller{
		Privileged:    middleware.IsPrivileged(c),
		OriginContext: origin,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidMethod),
		errors.Is(err, model.ErrInvalidDestination),
		errors.Is(err, model.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrEmptyQueue):
		return http.StatusNotFound
	case errors.Is(err, model.ErrAlreadyConfirmed),
		errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		msg = "internal error"
	}
	c.JSON(status, model.Response{
		Success: false,
		Error:   msg,
	})
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, model.Response{
		Success: true,
		Data:    data,
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, model.Response{
		Success: false,
		Error:   msg,
	})
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

type methodInfo struct {
	Method   model.Method `json:"method"`
	Fallback string       `json:"fallback,omitempty"`
}

// ListMethods returns the accepted payment methods and their fallback contacts
func (h *Handler) ListMethods(c *gin.Context) {
	methods := make([]methodInfo, 0, len(model.Methods))
	for _, m := range model.Methods {
		methods = append(methods, methodInfo{Method: m, Fallback: h.engine.Fallback(m)})
	}
	ok(c, http.StatusOK, methods)
}

// SubmitWithdrawal queues a withdrawal request (cashier only)
func (h *Handler) SubmitWithdrawal(c *gin.Context) {
	var req model.SubmitWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	w, err := h.engine.SubmitWithdrawal(c.Request.Context(), caller(c, req.OriginContext), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, w)
}

func (h *Handler) ListWithdrawals(c *gin.Context) {
	var f model.WithdrawalFilter
	if m := c.Query("method"); m != "" {
		method, err := model.ParseMethod(m)
		if err != nil {
			h.fail(c, err)
			return
		}
		f.Method = method
	}
	f.OriginContext = c.Query("origin")
	openOnly, err := strconv.ParseBool(c.DefaultQuery("open", "false"))
	if err != nil {
		badRequest(c, "invalid open flag")
		return
	}
	f.OpenOnly = openOnly

	withdrawals, err := h.engine.ListWithdrawals(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, withdrawals)
}

// ActiveWithdrawal returns the newest open withdrawal for ?origin=
func (h *Handler) ActiveWithdrawal(c *gin.Context) {
	w, err := h.engine.ResolveActive(c.Request.Context(), caller(c, c.Query("origin")).OriginContext)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, w)
}

type adjustFunc func(context.Context, settlement.Caller, model.AdjustWithdrawalRequest) (*model.WithdrawalRequest, error)

func (h *Handler) adjust(c *gin.Context, fn adjustFunc) {
	var req model.AdjustWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	w, err := fn(c.Request.Context(), caller(c, req.OriginContext), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, w)
}

func (h *Handler) AddToWithdrawal(c *gin.Context) {
	h.adjust(c, h.engine.ApplyAdd)
}

func (h *Handler) SubtractFromWithdrawal(c *gin.Context) {
	h.adjust(c, h.engine.ApplySubtract)
}

// MarkOldestFilled zeroes the oldest open withdrawal
func (h *Handler) MarkOldestFilled(c *gin.Context) {
	w, err := h.engine.MarkOldestFilled(c.Request.Context(), caller(c, ""))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, w)
}

func (h *Handler) DeleteWithdrawal(c *gin.Context) {
	id, valid := idParam(c)
	if !valid {
		return
	}

	if err := h.engine.DeleteWithdrawal(c.Request.Context(), caller(c, ""), id); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": id})
}

// SubmitDeposit records a pending deposit and returns the advisory preview
func (h *Handler) SubmitDeposit(c *gin.Context) {
	var req model.SubmitDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	receipt, err := h.engine.SubmitDeposit(c.Request.Context(), caller(c, req.OriginContext), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, receipt)
}

func (h *Handler) ListDeposits(c *gin.Context) {
	var f model.DepositFilter
	if m := c.Query("method"); m != "" {
		method, err := model.ParseMethod(m)
		if err != nil {
			h.fail(c, err)
			return
		}
		f.Method = method
	}
	switch s := model.DepositStatus(c.Query("status")); s {
	case "", model.DepositPending, model.DepositConfirmed:
		f.Status = s
	default:
		badRequest(c, "invalid status")
		return
	}

	deposits, err := h.engine.ListDeposits(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, deposits)
}

func (h *Handler) PreviewDeposit(c *gin.Context) {
	id, valid := idParam(c)
	if !valid {
		return
	}

	preview, err := h.engine.PreviewMatch(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, preview)
}

// ConfirmDeposit settles a pending deposit (cashier only). An unmatched
// outcome is still a 200; the body says what happened.
func (h *Handler) ConfirmDeposit(c *gin.Context) {
	id, valid := idParam(c)
	if !valid {
		return
	}

	out, err := h.engine.ConfirmDeposit(c.Request.Context(), caller(c, ""), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	if out.Kind == settlement.OutcomeSettled && h.notifier != nil {
		h.notifier.NotifySettled(context.WithoutCancel(c.Request.Context()), out)
	}
	ok(c, http.StatusOK, out)
}

// CompleteOldestDeposit removes the oldest deposit record
func (h *Handler) CompleteOldestDeposit(c *gin.Context) {
	dep, err := h.engine.DequeueOldestDeposit(c.Request.Context(), caller(c, ""))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, dep)
}

// ListSettlements returns the settlement journal, newest first
func (h *Handler) ListSettlements(c *gin.Context) {
	page := 1
	pageSize := 10

	if pageStr := c.Query("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}

	history, err := h.engine.ListSettlements(c.Request.Context(), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, history)
}

func (h *Handler) Summary(c *gin.Context) {
	sum, err := h.engine.QueueSummary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, sum)
}
