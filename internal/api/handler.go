package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"tradesim/internal/core"
	"tradesim/internal/schema"
	"tradesim/pkg/exception"
)

// Handler exposes engine commands over HTTP.
type Handler struct {
	engine *core.Engine
}

func NewHandler(engine *core.Engine) *Handler {
	return &Handler{engine: engine}
}

// fail writes err with the status of the sentinel it wraps.
func fail(c *gin.Context, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		logs.Errorf("%s %s, err: %+v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, exception.ErrAssetNotFound),
		errors.Is(err, exception.ErrOrderNotFound),
		errors.Is(err, exception.ErrPositionNotFound),
		errors.Is(err, exception.ErrBotNotFound),
		errors.Is(err, exception.ErrAlertNotFound):
		return http.StatusNotFound
	case errors.Is(err, exception.ErrOrderNotPending):
		return http.StatusConflict
	case errors.Is(err, exception.ErrRiskRejected),
		errors.Is(err, exception.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exception.ErrInvalidInput),
		errors.Is(err, exception.ErrInvalidSpeed):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Snapshot())
}

func (h *Handler) Notifications(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	c.JSON(http.StatusOK, h.engine.Notifications(limit))
}

func (h *Handler) ListOrders(c *gin.Context) {
	v := h.engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{"pending": v.Orders, "history": v.OrderHistory})
}

func (h *Handler) SubmitOrder(c *gin.Context) {
	var req core.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := h.engine.SubmitOrder(req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (h *Handler) CancelOrder(c *gin.Context) {
	o, err := h.engine.CancelOrder(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *Handler) ListPositions(c *gin.Context) {
	v := h.engine.Snapshot()
	c.JSON(http.StatusOK, gin.H{"positions": v.Positions, "portfolio": v.Portfolio})
}

func (h *Handler) ClosePosition(c *gin.Context) {
	tr, err := h.engine.ClosePosition(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}

func (h *Handler) SetPositionLimits(c *gin.Context) {
	var req struct {
		StopLoss   *decimal.Decimal `json:"stopLoss"`
		TakeProfit *decimal.Decimal `json:"takeProfit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.engine.SetPositionLimits(c.Param("id"), req.StopLoss, req.TakeProfit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) ListBots(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.Snapshot().Bots)
}

func (h *Handler) CreateBot(c *gin.Context) {
	var req struct {
		Symbol   string          `json:"symbol"`
		Strategy schema.Strategy `json:"strategy"`
		Capital  decimal.Decimal `json:"capital"`
		// Interval is in milliseconds.
		Interval int64 `json:"interval"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	b, err := h.engine.CreateBot(req.Symbol, req.Strategy, req.Capital, time.Duration(req.Interval)*time.Millisecond)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) ToggleBot(c *gin.Context) {
	b, err := h.engine.ToggleBot(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBot(c *gin.Context) {
	if err := h.engine.DeleteBot(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SetSpeed(c *gin.Context) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.SetSpeed(req.Speed); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"speed": h.engine.Speed(), "period": h.engine.Period().String()})
}

func (h *Handler) Play(c *gin.Context) {
	h.engine.Play()
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (h *Handler) Pause(c *gin.Context) {
	h.engine.Pause()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (h *Handler) SetCondition(c *gin.Context) {
	var cond schema.MarketCondition
	if err := c.ShouldBindJSON(&cond); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.engine.SetMarketCondition(cond))
}

func (h *Handler) AddAlert(c *gin.Context) {
	var req struct {
		Symbol    string                `json:"symbol"`
		Condition schema.AlertCondition `json:"condition"`
		Target    decimal.Decimal       `json:"target"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.engine.AddPriceAlert(req.Symbol, req.Condition, req.Target)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *Handler) RemoveAlert(c *gin.Context) {
	if err := h.engine.RemovePriceAlert(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
