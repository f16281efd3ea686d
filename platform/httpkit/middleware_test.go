package httpkit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"salesops_backend/platform/apperr"
	"salesops_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type testJWTConfig struct{}

func (testJWTConfig) GetJWTAccessSecret() string { return "test-secret" }

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.GET("/admin", AuthRequired(testJWTConfig{}), RequireAnyRole("admin", "manager"), func(c *gin.Context) {
		id := GetIdentity(c)
		OK(c, gin.H{"user": id.UserID().String(), "email": id.Email()})
	})
	return engine
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestEngine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthRequiredAcceptsAccessTokenWithRole(t *testing.T) {
	userID := uuid.New()
	token := signToken(t, jwt.MapClaims{
		"sub":   userID.String(),
		"type":  "access",
		"roles": []string{"manager"},
		"email": "gestor@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	newTestEngine().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequireAnyRoleForbidsSeller(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":   uuid.NewString(),
		"type":  "access",
		"roles": []any{"seller"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	newTestEngine().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAuthRequiredRejectsRefreshToken(t *testing.T) {
	token := signToken(t, jwt.MapClaims{
		"sub":  uuid.NewString(),
		"type": "refresh",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	newTestEngine().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestIPRateLimiterBlocksBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewIPRateLimiter(rate.Limit(0.001), 1, logger.Discard())
	engine := gin.New()
	engine.POST("/hook", limiter.RateLimit(), func(c *gin.Context) { c.Status(http.StatusAccepted) })

	first := httptest.NewRecorder()
	engine.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/hook", nil))
	second := httptest.NewRecorder()
	engine.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/hook", nil))

	if first.Code != http.StatusAccepted || second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 202 then 429, got %d then %d", first.Code, second.Code)
	}
}

func TestHandleErrorMapsUpstreamKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err  error
		want int
	}{
		{apperr.Upstream(apperr.KindUnauthorized, "kiwify", 401, "invalid client"), http.StatusUnauthorized},
		{apperr.Upstream(apperr.KindRateLimited, "kiwify", 429, ""), http.StatusTooManyRequests},
		{apperr.Upstream(apperr.KindUpstream, "kiwify", 500, ""), http.StatusBadGateway},
		{errors.New("pgx: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		HandleError(c, tc.err)
		if rec.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}
