package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

// writeError мапит типизированные ошибки движка в HTTP-коды.
// Ошибки актора отдаются в UI дословно — оператор должен видеть,
// почему именно отказано.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRequestNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrValidationFailed),
		errors.Is(err, domain.ErrMissingComment):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotCurrentApprover),
		errors.Is(err, domain.ErrNotAuthorized),
		errors.Is(err, domain.ErrBranchFrozen):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrRequestAlreadyFinalized):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrUnknownRequestType),
		errors.Is(err, domain.ErrNoApplicableThreshold):
		// Конфигурационный дефект, дошедший до request-time — это 500
		status = http.StatusInternalServerError
	case errors.Is(err, domain.ErrDependencyUnavailable):
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
