package outreach

import (
	apphttp "salesops_backend/internal/http"
	"salesops_backend/platform/httpkit"
	"salesops_backend/platform/validator"
)

// Module is the outreach dispatch bounded context implementing http.Module.
type Module struct {
	handler *Handler
}

// NewModule wires the dispatch HTTP surface around an existing dispatcher.
func NewModule(runner Runner, attempts AttemptLister, templates TemplateStore, val *validator.Validator) *Module {
	return &Module{handler: NewHandler(runner, attempts, templates, val)}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "outreach"
}

// RegisterRoutes mounts dispatch routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	dispatch := ctx.Protected.Group("/dispatch")
	dispatch.POST("/run", httpkit.RequireAnyRole(httpkit.RoleAdmin, httpkit.RoleManager), m.handler.HandleRun)
	dispatch.POST("/send-one", m.handler.HandleSendOne)
	dispatch.GET("/template", m.handler.HandleGetTemplate)
	dispatch.PUT("/template", m.handler.HandleSaveTemplate)

	// Audit
	dispatch.GET("/attempts", httpkit.RequireAnyRole(httpkit.RoleAdmin), m.handler.HandleListAttempts)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
