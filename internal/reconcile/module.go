package reconcile

import (
	apphttp "salesops_backend/internal/http"
	"salesops_backend/internal/webhook"
	"salesops_backend/platform/httpkit"
	"salesops_backend/platform/logger"
	"salesops_backend/platform/validator"
)

// Module is the purchase reconciliation bounded context implementing http.Module.
type Module struct {
	handler      *Handler
	webhookToken string
	log          *logger.Logger
}

// NewModule wires the reconcile HTTP surface around an existing service.
func NewModule(svc *Service, webhookToken string, val *validator.Validator, log *logger.Logger) *Module {
	return &Module{
		handler:      NewHandler(svc, val),
		webhookToken: webhookToken,
		log:          log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "reconcile"
}

// RegisterRoutes mounts reconcile routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Provider webhook (shared token or signature, no JWT)
	hooks := ctx.V1.Group("/reconcile")
	if ctx.WebhookRateLimiter != nil {
		hooks.Use(ctx.WebhookRateLimiter.RateLimit())
	}
	hooks.POST("/purchase-event", webhook.PurchaseAuthMiddleware(m.webhookToken, m.log), m.handler.HandlePurchaseEvent)

	// Operator endpoints
	ops := ctx.Protected.Group("/reconcile")
	ops.POST("/sync", httpkit.RequireAnyRole(httpkit.RoleAdmin, httpkit.RoleManager), m.handler.HandleSync)
	ops.POST("/reprocess", httpkit.RequireAnyRole(httpkit.RoleAdmin), m.handler.HandleReprocess)
	ops.GET("/orders/:orderId/entries", httpkit.RequireAnyRole(httpkit.RoleAdmin, httpkit.RoleManager), m.handler.HandleOrderEntries)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
