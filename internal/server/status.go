package server

import (
	"net/http"

	"github.com/quantmind-br/docbundle/internal/domain"
)

// StatusClientClosedRequest is the non-standard status for a caller that
// went away before the build finished
const StatusClientClosedRequest = 499

// StatusFor maps a bundle to its HTTP status
func StatusFor(b *domain.Bundle) int {
	if b == nil {
		return http.StatusInternalServerError
	}
	if b.Error == nil {
		return http.StatusOK
	}
	return StatusForCode(b.Error.Code)
}

// StatusForCode maps an error code to its HTTP status
func StatusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.CodeBadRequest:
		return http.StatusBadRequest
	case domain.CodeRefNotFound, domain.CodeContentNotFound:
		return http.StatusNotFound
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeMalformedContent, domain.CodeMalformedFrontmatter:
		return http.StatusUnprocessableEntity
	case domain.CodeCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}
