package httpadapter

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

func TestEmbeddedContractLoads(t *testing.T) {
	if _, err := newRequestValidator(); err != nil {
		t.Fatalf("newRequestValidator() error = %v", err)
	}
}

func TestValidatorPassesUnknownRoutesThrough(t *testing.T) {
	validator, err := newRequestValidator()
	if err != nil {
		t.Fatalf("newRequestValidator() error = %v", err)
	}
	called := false
	handler := validator.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !called || res.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got called=%v code=%d", called, res.Code)
	}
}

func TestRootCauseFollowsWrappedKinds(t *testing.T) {
	err := wrapForTest()
	if got := rootCause(err).Error(); got != "only PDF files are supported" {
		t.Fatalf("unexpected root cause %q", got)
	}
}

func wrapForTest() error {
	return fmt.Errorf("ingest: %w", domain.WrapError(domain.ErrInvalidInput, "read upload", errors.New("only PDF files are supported")))
}
