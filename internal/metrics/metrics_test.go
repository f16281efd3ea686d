package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"salesops_backend/internal/events"
	pevents "salesops_backend/platform/events"
	"salesops_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEventsFeedCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	bus := pevents.NewInMemoryBus(logger.Discard())
	m.Subscribe(bus)
	ctx := context.Background()

	_ = bus.PublishSync(ctx, events.OutreachAttempted{LeadID: uuid.New(), Outcome: "sent", Trigger: "auto"})
	_ = bus.PublishSync(ctx, events.OutreachAttempted{LeadID: uuid.New(), Outcome: "skipped", Reason: "no_phone", Trigger: "auto"})
	_ = bus.PublishSync(ctx, events.PurchaseSyncCompleted{Source: "kiwify", TotalFetched: 3, Updated: 2, Failed: 1})
	_ = bus.PublishSync(ctx, events.PurchaseSyncAborted{Source: "kiwify", ErrorKind: "unauthorized"})

	if got := testutil.ToFloat64(m.outreachAttempts.WithLabelValues("sent", "", "auto")); got != 1 {
		t.Errorf("sent attempts = %v", got)
	}
	if got := testutil.ToFloat64(m.outreachAttempts.WithLabelValues("skipped", "no_phone", "auto")); got != 1 {
		t.Errorf("skipped attempts = %v", got)
	}
	if got := testutil.ToFloat64(m.purchaseSyncOrders.WithLabelValues("fetched")); got != 3 {
		t.Errorf("fetched orders = %v", got)
	}
	if got := testutil.ToFloat64(m.purchaseSyncRuns.WithLabelValues("aborted", "unauthorized")); got != 1 {
		t.Errorf("aborted runs = %v", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/leads/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/leads/42", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `salesops_http_requests_total{method="GET",path="/leads/:id",status="204"} 1`) {
		t.Fatalf("route template not recorded:\n%s", body)
	}
}
