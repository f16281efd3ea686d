package outreach

import (
	"context"
	"net/http"
	"time"

	"salesops_backend/internal/ledger"
	"salesops_backend/platform/apperr"
	"salesops_backend/platform/httpkit"
	"salesops_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest = "invalid request body"
	errValidation     = "validation error"

	defaultAttemptLimit = 50
	maxAttemptLimit     = 200
)

// Runner is what the handler needs from the dispatcher.
type Runner interface {
	Run(ctx context.Context, trigger ledger.Trigger) (RunSummary, error)
	SendOne(ctx context.Context, leadID uuid.UUID, requester uuid.UUID) (Attempt, error)
}

// AttemptLister lists recent ledger entries.
type AttemptLister interface {
	ListRecent(ctx context.Context, action ledger.Action, limit int) ([]ledger.Entry, error)
}

// TemplateStore reads and writes a user's saved template.
type TemplateStore interface {
	TemplateSource
	Save(ctx context.Context, ownerID uuid.UUID, templateContext, body string) error
}

// SendOneRequest is the body of POST /dispatch/send-one.
type SendOneRequest struct {
	LeadID string `json:"leadId" validate:"required,uuid"`
}

// AttemptsQuery is the query string of GET /dispatch/attempts.
type AttemptsQuery struct {
	Limit int `form:"limit" validate:"omitempty,min=1,max=200"`
}

// TemplateRequest is the body of PUT /dispatch/template.
type TemplateRequest struct {
	Body string `json:"body" validate:"required,max=2000"`
}

// TemplateResponse returns the effective template of the caller.
type TemplateResponse struct {
	Body    string `json:"body"`
	Default bool   `json:"default"`
}

// RunErrorResponse is returned when the provider ends a run after it
// started sending.
type RunErrorResponse struct {
	httpkit.ErrorResponse
	Partial *RunSummary `json:"partial,omitempty"`
	Attempt *Attempt    `json:"attempt,omitempty"`
}

// AttemptView is a ledger entry without its request and response payloads.
type AttemptView struct {
	ID             uuid.UUID      `json:"id"`
	LeadID         *uuid.UUID     `json:"leadId,omitempty"`
	Outcome        ledger.Outcome `json:"outcome"`
	Reason         string         `json:"reason,omitempty"`
	Trigger        ledger.Trigger `json:"trigger"`
	HTTPStatus     *int           `json:"httpStatus,omitempty"`
	MessagePreview string         `json:"messagePreview,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

type Handler struct {
	runner    Runner
	attempts  AttemptLister
	templates TemplateStore
	val       *validator.Validator
}

func NewHandler(runner Runner, attempts AttemptLister, templates TemplateStore, val *validator.Validator) *Handler {
	return &Handler{runner: runner, attempts: attempts, templates: templates, val: val}
}

// HandleRun starts a manual dispatch invocation.
// POST /api/v1/dispatch/run
func (h *Handler) HandleRun(c *gin.Context) {
	summary, err := h.runner.Run(c.Request.Context(), ledger.TriggerManual)
	if err != nil {
		if e, ok := apperr.As(err); ok && summary.Processed > 0 {
			c.JSON(e.HTTPStatus(), RunErrorResponse{
				ErrorResponse: httpkit.ErrorResponse{Error: e.Message, Kind: e.Kind.String(), Details: e.Details},
				Partial:       &summary,
			})
			return
		}
		httpkit.HandleError(c, err)
		return
	}
	httpkit.OK(c, summary)
}

// HandleSendOne messages a single lead with the caller's template.
// POST /api/v1/dispatch/send-one
func (h *Handler) HandleSendOne(c *gin.Context) {
	var req SendOneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.Describe(err))
		return
	}
	leadID, err := uuid.Parse(req.LeadID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, "leadId must be a uuid")
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	attempt, err := h.runner.SendOne(c.Request.Context(), leadID, identity.UserID())
	if err != nil {
		if e, ok := apperr.As(err); ok && attempt.Outcome != "" {
			c.JSON(e.HTTPStatus(), RunErrorResponse{
				ErrorResponse: httpkit.ErrorResponse{Error: e.Message, Kind: e.Kind.String(), Details: e.Details},
				Attempt:       &attempt,
			})
			return
		}
		httpkit.HandleError(c, err)
		return
	}

	switch attempt.Outcome {
	case ledger.OutcomeSent:
		httpkit.OK(c, attempt)
	case ledger.OutcomeFailed:
		httpkit.JSON(c, http.StatusBadGateway, attempt)
	default:
		httpkit.JSON(c, http.StatusUnprocessableEntity, attempt)
	}
}

// HandleListAttempts returns recent dispatch attempts without payloads.
// GET /api/v1/dispatch/attempts?limit=50
func (h *Handler) HandleListAttempts(c *gin.Context) {
	var q AttemptsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.Describe(err))
		return
	}
	limit := q.Limit
	if limit == 0 {
		limit = defaultAttemptLimit
	}

	entries, err := h.attempts.ListRecent(c.Request.Context(), ledger.ActionDispatch, min(limit, maxAttemptLimit))
	if httpkit.HandleError(c, err) {
		return
	}

	views := make([]AttemptView, 0, len(entries))
	for _, e := range entries {
		views = append(views, AttemptView{
			ID:             e.ID,
			LeadID:         e.LeadID,
			Outcome:        e.Outcome,
			Reason:         e.Reason,
			Trigger:        e.Trigger,
			HTTPStatus:     e.HTTPStatus,
			MessagePreview: e.MessagePreview,
			Error:          e.Error,
			CreatedAt:      e.CreatedAt,
		})
	}
	httpkit.OK(c, views)
}

// HandleGetTemplate returns the caller's template or the default.
// GET /api/v1/dispatch/template
func (h *Handler) HandleGetTemplate(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	body, ok, err := h.templates.Find(c.Request.Context(), identity.UserID(), TemplateContextPartnerLeads)
	if httpkit.HandleError(c, err) {
		return
	}
	if !ok {
		httpkit.OK(c, TemplateResponse{Body: DefaultTemplate, Default: true})
		return
	}
	httpkit.OK(c, TemplateResponse{Body: body})
}

// HandleSaveTemplate stores the caller's template.
// PUT /api/v1/dispatch/template
func (h *Handler) HandleSaveTemplate(c *gin.Context) {
	var req TemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, validator.Describe(err))
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	if err := h.templates.Save(c.Request.Context(), identity.UserID(), TemplateContextPartnerLeads, req.Body); httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, TemplateResponse{Body: req.Body})
}
