package httpadapter

import (
	"errors"
	"net/http"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
	"github.com/kirillkom/policy-analyzer/internal/infrastructure/resilience"
)

func mapErrorToHTTPStatus(err error) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr), domain.IsKind(err, domain.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrDocumentNotFound), domain.IsKind(err, domain.ErrFindingNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrUnavailable), resilience.IsCircuitOpen(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage keeps internal error chains out of 5xx responses.
func publicMessage(status int, err error) string {
	switch status {
	case http.StatusNotFound:
		if domain.IsKind(err, domain.ErrFindingNotFound) {
			return "Finding not found."
		}
		return "Document not found."
	case http.StatusRequestEntityTooLarge, http.StatusBadRequest:
		return rootCause(err).Error()
	case http.StatusServiceUnavailable:
		return "Analysis service is temporarily unavailable. Please retry."
	default:
		return "An unexpected error occurred."
	}
}

// rootCause follows the cause side of wrapped errors, including the
// kind-then-cause pairs built by domain.WrapError.
func rootCause(err error) error {
	for {
		switch e := err.(type) {
		case interface{ Unwrap() []error }:
			errs := e.Unwrap()
			if len(errs) == 0 {
				return err
			}
			err = errs[len(errs)-1]
		case interface{ Unwrap() error }:
			next := e.Unwrap()
			if next == nil {
				return err
			}
			err = next
		default:
			return err
		}
	}
}
