package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"salesops_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

func newTestRouter(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/hook", PurchaseAuthMiddleware(token, logger.Discard()), func(c *gin.Context) {
		c.String(http.StatusOK, string(RawBody(c)))
	})
	return r
}

func TestPurchaseAuthAcceptsHeaderToken(t *testing.T) {
	r := newTestRouter("s3cret")
	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{"order_id":"1"}`))
	req.Header.Set(TokenHeader, "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() != `{"order_id":"1"}` {
		t.Fatalf("body not passed through: %q", w.Body.String())
	}
}

func TestPurchaseAuthAcceptsSignature(t *testing.T) {
	r := newTestRouter("s3cret")
	body := `{"order_id":"2"}`
	req := httptest.NewRequest(http.MethodPost, "/hook?signature="+Sign("s3cret", []byte(body)), strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestPurchaseAuthRejects(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		header string
		query  string
		status int
	}{
		{"missing credentials", "s3cret", "", "", http.StatusUnauthorized},
		{"wrong token", "s3cret", "nope", "", http.StatusUnauthorized},
		{"bad signature", "s3cret", "", "?signature=abcdef", http.StatusUnauthorized},
		{"not configured", "", "anything", "", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		r := newTestRouter(tc.token)
		req := httptest.NewRequest(http.MethodPost, "/hook"+tc.query, strings.NewReader(`{}`))
		if tc.header != "" {
			req.Header.Set(TokenHeader, tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.status, w.Code)
		}
	}
}
