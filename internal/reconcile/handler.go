package reconcile

import (
	"context"
	"net/http"
	"strings"
	"time"

	"salesops_backend/internal/kiwify"
	"salesops_backend/internal/ledger"
	"salesops_backend/internal/webhook"
	"salesops_backend/platform/apperr"
	"salesops_backend/platform/httpkit"
	"salesops_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MaxSyncRangeDays bounds a single manual sync.
const MaxSyncRangeDays = 31

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"
)

// Reconciler is what the handler needs from the service.
type Reconciler interface {
	IngestEvent(ctx context.Context, ev PurchaseEvent) (ledger.Entry, error)
	SyncRange(ctx context.Context, start, end time.Time) (SyncResult, error)
	Reprocess(ctx context.Context, emails []string) (SyncResult, error)
	OrderEntries(ctx context.Context, orderID string) ([]ledger.Entry, error)
}

// SyncQuery is the query string of POST /reconcile/sync.
type SyncQuery struct {
	StartDate string `form:"start_date" validate:"required,ymd"`
	EndDate   string `form:"end_date" validate:"required,ymd"`
}

// ReprocessRequest lists emails whose leads should be marked purchased.
type ReprocessRequest struct {
	Emails []string `json:"emails" validate:"required,min=1,max=500,dive,required,max=320"`
}

// PurchaseEventResponse reports the ledger outcome of one webhook delivery.
type PurchaseEventResponse struct {
	Outcome ledger.Outcome `json:"outcome"`
	Reason  string         `json:"reason,omitempty"`
	LeadID  *uuid.UUID     `json:"leadId,omitempty"`
	OrderID string         `json:"orderId,omitempty"`
}

// OrderEntryView is one ledger entry of an order's audit trail.
type OrderEntryView struct {
	ID        uuid.UUID      `json:"id"`
	LeadID    *uuid.UUID     `json:"leadId,omitempty"`
	Outcome   ledger.Outcome `json:"outcome"`
	Reason    string         `json:"reason,omitempty"`
	Trigger   ledger.Trigger `json:"trigger"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// SyncErrorResponse is returned when a sync aborts after processing pages.
type SyncErrorResponse struct {
	httpkit.ErrorResponse
	Partial *SyncResult `json:"partial,omitempty"`
}

type Handler struct {
	svc Reconciler
	val *validator.Validator
}

func NewHandler(svc Reconciler, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// HandlePurchaseEvent merges one provider webhook delivery. An order another
// invocation is still merging is answered 409 so the provider redelivers.
// POST /api/v1/reconcile/purchase-event
func (h *Handler) HandlePurchaseEvent(c *gin.Context) {
	body := webhook.RawBody(c)
	if len(body) == 0 {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, "empty body")
		return
	}

	order, err := kiwify.DecodeOrder(body)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}

	entry, err := h.svc.IngestEvent(c.Request.Context(), EventFromOrder(order))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, PurchaseEventResponse{
		Outcome: entry.Outcome,
		Reason:  entry.Reason,
		LeadID:  entry.LeadID,
		OrderID: entry.CorrelationID,
	})
}

// HandleSync pulls approved orders for a date range.
// POST /api/v1/reconcile/sync?start_date=YYYY-MM-DD&end_date=YYYY-MM-DD
func (h *Handler) HandleSync(c *gin.Context) {
	var q SyncQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.Describe(err))
		return
	}

	start, end, err := ParseRange(q.StartDate, q.EndDate)
	if httpkit.HandleError(c, err) {
		return
	}

	result, err := h.svc.SyncRange(c.Request.Context(), start, end)
	if err != nil {
		if e, ok := apperr.As(err); ok && result.Pages > 0 {
			c.JSON(e.HTTPStatus(), SyncErrorResponse{
				ErrorResponse: httpkit.ErrorResponse{Error: e.Message, Kind: e.Kind.String(), Details: e.Details},
				Partial:       &result,
			})
			return
		}
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, result)
}

// HandleReprocess marks the leads for a list of emails as purchased.
// POST /api/v1/reconcile/reprocess
func (h *Handler) HandleReprocess(c *gin.Context) {
	var req ReprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.Describe(err))
		return
	}

	result, err := h.svc.Reprocess(c.Request.Context(), req.Emails)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// HandleOrderEntries lists every purchase ledger entry for one order.
// GET /api/v1/reconcile/orders/:orderId/entries
func (h *Handler) HandleOrderEntries(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("orderId"))
	if orderID == "" || len(orderID) > 128 {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, "invalid order id")
		return
	}

	entries, err := h.svc.OrderEntries(c.Request.Context(), orderID)
	if httpkit.HandleError(c, err) {
		return
	}

	views := make([]OrderEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, OrderEntryView{
			ID:        e.ID,
			LeadID:    e.LeadID,
			Outcome:   e.Outcome,
			Reason:    e.Reason,
			Trigger:   e.Trigger,
			Error:     e.Error,
			CreatedAt: e.CreatedAt,
		})
	}
	httpkit.OK(c, views)
}

// ParseRange parses two calendar dates and checks their order and span.
func ParseRange(startRaw, endRaw string) (time.Time, time.Time, error) {
	start, err := time.Parse(validator.DateLayout, startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validation("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse(validator.DateLayout, endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Validation("end_date must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, apperr.Validation("start_date must not be after end_date")
	}
	if end.Sub(start) > (MaxSyncRangeDays-1)*24*time.Hour {
		return time.Time{}, time.Time{}, apperr.Validation("date range must not exceed 31 days")
	}
	return start, end, nil
}
