package handler

import (
	"encoding/json"
	"net/http"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/workflow"
)

// DenominationHandler — сверка кассовых раскладок. Не зависит от
// State Machine: вызывается всякий раз, когда кассиру нужно проверить
// пару сумма/раскладка.
type DenominationHandler struct {
	reconciler *workflow.Reconciler
}

func NewDenominationHandler(r *workflow.Reconciler) *DenominationHandler {
	return &DenominationHandler{reconciler: r}
}

type ValidateRequest struct {
	Breakdown domain.DenominationBreakdown `json:"breakdown"`
	Target    domain.Money                 `json:"target"`
}

type ValidateResponse struct {
	Matches    bool         `json:"matches"`
	Difference domain.Money `json:"difference"`
}

// Validate сверяет раскладку с целевой суммой. Расхождение — warning-уровень:
// возвращаем 200 с matches=false и разницей, а не ошибку.
func (h *DenominationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	matches, diff, err := h.reconciler.Validate(req.Breakdown, req.Target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Matches: matches, Difference: diff})
}

type AutoCalculateRequest struct {
	Target     domain.Money `json:"target"`
	FaceValues []int        `json:"face_values,omitempty"` // пусто = штатный набор валюты
}

func (h *DenominationHandler) AutoCalculate(w http.ResponseWriter, r *http.Request) {
	var req AutoCalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	breakdown, err := h.reconciler.AutoCalculate(req.Target, req.FaceValues)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}
