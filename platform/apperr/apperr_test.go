package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapsProviderKinds(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:     http.StatusNotFound,
		KindValidation:   http.StatusBadRequest,
		KindUnauthorized: http.StatusUnauthorized,
		KindRateLimited:  http.StatusTooManyRequests,
		KindUpstream:     http.StatusBadGateway,
		KindUnknown:      http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := New(kind, "x").HTTPStatus(); got != want {
			t.Errorf("kind %s: expected %d, got %d", kind, want, got)
		}
	}
}

func TestGetKindFindsWrappedError(t *testing.T) {
	base := Upstream(KindRateLimited, "kiwify", 429, "slow down")
	wrapped := fmt.Errorf("list orders page 3: %w", base)

	if !Is(wrapped, KindRateLimited) {
		t.Fatalf("expected wrapped error to keep rate limited kind")
	}
	e, ok := As(wrapped)
	if !ok {
		t.Fatalf("expected As to find *Error")
	}
	details, ok := e.Details.(UpstreamDetails)
	if !ok || details.Status != 429 || details.Body != "slow down" {
		t.Fatalf("unexpected details: %#v", e.Details)
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(KindInternal, "append ledger entry", errors.New("connection reset")).WithOp("reconcile")
	if got := err.Error(); got != "reconcile: append ledger entry: connection reset" {
		t.Fatalf("unexpected message %q", got)
	}
}
