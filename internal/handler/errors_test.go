package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrRequestNotFound, http.StatusNotFound},
		{domain.ErrValidationFailed, http.StatusBadRequest},
		{domain.ErrMissingComment, http.StatusBadRequest},
		{domain.ErrNotCurrentApprover, http.StatusForbidden},
		{domain.ErrNotAuthorized, http.StatusForbidden},
		{domain.ErrBranchFrozen, http.StatusForbidden},
		{domain.ErrRequestAlreadyFinalized, http.StatusConflict},
		{domain.ErrUnknownRequestType, http.StatusInternalServerError},
		{domain.ErrNoApplicableThreshold, http.StatusInternalServerError},
		{domain.ErrDependencyUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("something else entirely"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			// Обернутая ошибка мапится так же, как голый sentinel
			writeError(rec, fmt.Errorf("context: %w", tc.err))

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}
