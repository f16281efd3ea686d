package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"salesops_backend/internal/leads/domain"
	"salesops_backend/internal/ledger"
	"salesops_backend/internal/webhook"
	"salesops_backend/platform/apperr"
	"salesops_backend/platform/httpkit"
	"salesops_backend/platform/logger"
	"salesops_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const testWebhookToken = "hook-secret"

func newTestRouter(svc Reconciler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h := NewHandler(svc, validator.New())
	engine.POST("/reconcile/purchase-event", webhook.PurchaseAuthMiddleware(testWebhookToken, logger.Discard()), h.HandlePurchaseEvent)
	engine.GET("/reconcile/orders/:orderId/entries", h.HandleOrderEntries)
	return engine
}

func deliver(engine *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/reconcile/purchase-event", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.TokenHeader, testWebhookToken)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestHandlePurchaseEventAsksForRedeliveryWhileInFlight(t *testing.T) {
	leads := newFakeLeads()
	leads.add("gil@x.com", domain.StatusLead, false)
	claims := newTestClaims(t)
	svc := New(leads, &fakeLedger{}, nil, nil, claims, &recordingBus{}, logger.Discard(), Options{})
	engine := newTestRouter(svc)

	key := ledger.ClaimKey(ledger.ActionPurchaseSync, "o-20")
	if ok, err := claims.Acquire(context.Background(), key); err != nil || !ok {
		t.Fatalf("pre-claim: ok=%v err=%v", ok, err)
	}

	body := `{"order_id":"o-20","order_status":"paid","Customer":{"email":"gil@x.com"}}`
	w := deliver(engine, body)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var got httpkit.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != apperr.KindConflict.String() {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	if err := claims.Release(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	w = deliver(engine, body)
	if w.Code != http.StatusOK {
		t.Fatalf("redelivery: status = %d body=%s", w.Code, w.Body.String())
	}
	var ok PurchaseEventResponse
	if err := json.Unmarshal(w.Body.Bytes(), &ok); err != nil {
		t.Fatal(err)
	}
	if ok.Outcome != ledger.OutcomeUpdated || ok.OrderID != "o-20" {
		t.Fatalf("unexpected response %+v", ok)
	}
}

func TestHandleOrderEntries(t *testing.T) {
	leads := newFakeLeads()
	leads.add("hugo@x.com", domain.StatusLead, false)
	svc, _ := newTestService(leads, &fakeLedger{}, nil, Options{})
	if _, err := svc.IngestEvent(context.Background(), EventFromOrder(order("o-21", "hugo@x.com"))); err != nil {
		t.Fatal(err)
	}
	engine := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/reconcile/orders/o-21/entries", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	var views []OrderEntryView
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].Outcome != ledger.OutcomeUpdated || views[0].LeadID == nil {
		t.Fatalf("unexpected entries %+v", views)
	}
	if strings.Contains(w.Body.String(), `"id":"o-21"`) {
		t.Fatalf("raw payload leaked: %s", w.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/reconcile/orders/o-404/entries", nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown order: status = %d", w.Code)
	}
}
