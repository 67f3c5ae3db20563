// Package api exposes the reconciler, planner and sweeper over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/card-ledger-reconciler/internal/billing"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/installments"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/ledger"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/logger"
	"github.com/sheikh-saqib/card-ledger-reconciler/internal/models"
)

// Reconciler is the ledger surface used by the handlers.
type Reconciler interface {
	Recompute(ctx context.Context, accountID string) (decimal.Decimal, error)
	RecomputeCardUsage(ctx context.Context, cardID string) (decimal.Decimal, error)
	RecomputeAll(ctx context.Context, userID string) (ledger.BatchResult, error)
}

type DueProcessor interface {
	ProcessDue(ctx context.Context, userID string) (int, error)
}

type PurchaseRecorder interface {
	Record(ctx context.Context, cardID string, purchase installments.Purchase) ([]models.Transaction, error)
}

type Handler struct {
	ledger  Reconciler
	sweeper DueProcessor
	planner PurchaseRecorder
	log     zerolog.Logger
}

func NewHandler(rec Reconciler, sweeper DueProcessor, planner PurchaseRecorder, log zerolog.Logger) *Handler {
	return &Handler{ledger: rec, sweeper: sweeper, planner: planner, log: log}
}

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log := logger.FromContext(c.Request.Context(), h.log)
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) RecomputeAccount(c *gin.Context) {
	id := c.Param("id")
	balance, err := h.ledger.Recompute(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "balance": balance})
}

func (h *Handler) RecomputeCard(c *gin.Context) {
	id := c.Param("id")
	used, err := h.ledger.RecomputeCardUsage(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"card_id": id, "used_limit": used})
}

func (h *Handler) RecomputeUser(c *gin.Context) {
	res, err := h.ledger.RecomputeAll(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ProcessDue reports partial failures alongside the count; only a sweep
// that updated nothing and failed is an error response.
func (h *Handler) ProcessDue(c *gin.Context) {
	n, err := h.sweeper.ProcessDue(c.Request.Context(), c.Param("id"))
	if err != nil && n == 0 {
		h.fail(c, err)
		return
	}
	body := gin.H{"accounts_updated": n}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

type splitRequest struct {
	Total      decimal.Decimal `json:"total"`
	Count      int             `json:"count"`
	Date       civil.Date      `json:"date"`
	ClosingDay int             `json:"closing_day"`
	DueDay     int             `json:"due_day"`
}

type installmentView struct {
	Index  int             `json:"index"`
	Count  int             `json:"count"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
	Date   civil.Date      `json:"date"`
	Cycle  string          `json:"cycle"`
	Bill   string          `json:"bill,omitempty"`
	Due    *civil.Date     `json:"due_date,omitempty"`
}

// SplitInstallments previews a split without recording anything. With a
// due day the bill of each installment is resolved too.
func (h *Handler) SplitInstallments(c *gin.Context) {
	var req splitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.DueDay == 0 {
		parts, err := installments.Split(req.Total, req.Count, req.Date, req.ClosingDay)
		if err != nil {
			h.fail(c, err)
			return
		}
		out := make([]installmentView, len(parts))
		for i, p := range parts {
			out[i] = viewOf(p)
		}
		c.JSON(http.StatusOK, gin.H{"installments": out})
		return
	}

	planned, err := installments.Plan(req.Total, req.Count, req.Date, billing.Schedule{ClosingDay: req.ClosingDay, DueDay: req.DueDay})
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]installmentView, len(planned))
	for i, p := range planned {
		v := viewOf(p.Installment)
		due := p.Bill.Due
		v.Bill, v.Due = p.Bill.Label(), &due
		out[i] = v
	}
	c.JSON(http.StatusOK, gin.H{"installments": out})
}

func viewOf(p installments.Installment) installmentView {
	return installmentView{
		Index:  p.Index,
		Count:  p.Count,
		Label:  p.Label(),
		Amount: p.Amount,
		Date:   p.Date,
		Cycle:  p.Cycle.String(),
	}
}

type purchaseRequest struct {
	UserID      string          `json:"user_id"`
	Description string          `json:"description"`
	Total       decimal.Decimal `json:"total"`
	Count       int             `json:"count"`
	Date        civil.Date      `json:"date"`
}

func (h *Handler) RecordPurchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	txs, err := h.planner.Record(c.Request.Context(), c.Param("id"), installments.Purchase{
		UserID:      req.UserID,
		Description: req.Description,
		Total:       req.Total,
		Count:       req.Count,
		Date:        req.Date,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transactions": txs})
}

// Cycle resolves the bill a purchase on ?date= lands on.
func (h *Handler) Cycle(c *gin.Context) {
	date, err := civil.ParseDate(c.Query("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	closing, err1 := strconv.Atoi(c.Query("closing_day"))
	due, err2 := strconv.Atoi(c.Query("due_day"))
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "closing_day and due_day must be integers"})
		return
	}
	schedule := billing.Schedule{ClosingDay: closing, DueDay: due}
	if err := schedule.Validate(); err != nil {
		h.fail(c, err)
		return
	}

	bill := schedule.BillFor(date)
	c.JSON(http.StatusOK, gin.H{
		"cycle":        bill.Cycle.String(),
		"closing_date": bill.Closing,
		"due_date":     bill.Due,
		"bill":         bill.Label(),
	})
}
