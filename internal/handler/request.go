package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/infra/auth"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/service"
)

// RequestWorkflow Описываем, что нам нужно от сервиса
type RequestWorkflow interface {
	CreateDraft(ctx context.Context, in service.DraftInput) (*domain.Request, error)
	Submit(ctx context.Context, id, actorID string) (*domain.Request, error)
	Decide(ctx context.Context, id, actorID string, decision domain.Decision, comment, delegateID string) (*domain.Request, error)
	Escalate(ctx context.Context, id, actorID string, roles []string) (*domain.Request, error)
	Cancel(ctx context.Context, id, actorID, reason string) (*domain.Request, error)
	Get(ctx context.Context, id string) (service.RequestView, error)
	List(ctx context.Context, status domain.RequestStatus, branch string, limit int) ([]service.RequestView, error)
	ApplyBulk(ctx context.Context, ids []string, action service.BulkAction, actorID, comment, delegateID string) ([]domain.BulkActionResult, error)
	FreezeBranch(ctx context.Context, code string, frozen bool) error
}

type RequestHandler struct {
	service RequestWorkflow
}

func NewRequestHandler(s RequestWorkflow) *RequestHandler {
	return &RequestHandler{service: s}
}

// Create принимает черновик заявки. Податель — авторизованный оператор.
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var in service.DraftInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	in.Submitter = actor.ID

	req, err := h.service.CreateDraft(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// Submit подает черновик на согласование.
func (h *RequestHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	req, err := h.service.Submit(r.Context(), chi.URLParam(r, "id"), actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// List — снапшот очереди с остатками SLA (?status=&branch=&limit=).
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.RequestStatus(r.URL.Query().Get("status"))
	branch := r.URL.Query().Get("branch")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	views, err := h.service.List(r.Context(), status, branch, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type DecideRequest struct {
	Decision   domain.Decision `json:"decision"`
	Comment    string          `json:"comment"`
	DelegateID string          `json:"delegate_id,omitempty"`
}

// Decide фиксирует решение оператора на текущем этапе заявки.
func (h *RequestHandler) Decide(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.service.Decide(r.Context(), chi.URLParam(r, "id"), actor.ID, req.Decision, req.Comment, req.DelegateID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type EscalateRequest struct {
	Roles []string `json:"roles,omitempty"` // пусто = роли эскалации из конфига
}

func (h *RequestHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req EscalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.service.Escalate(r.Context(), chi.URLParam(r, "id"), actor.ID, req.Roles)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

func (h *RequestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), actor.ID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type BulkActionRequest struct {
	IDs        []string           `json:"ids"`
	Action     service.BulkAction `json:"action"`
	Comment    string             `json:"comment"`
	DelegateID string             `json:"delegate_id,omitempty"`
}

// ApplyBulk — массовое действие. Ответ всегда поштучный:
// вызывающий обязан просмотреть каждый результат.
func (h *RequestHandler) ApplyBulk(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req BulkActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	results, err := h.service.ApplyBulk(r.Context(), req.IDs, req.Action, actor.ID, req.Comment, req.DelegateID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// Freeze / Unfreeze — заморозка отделения (только операторы с override).
func (h *RequestHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.setFreeze(w, r, true)
}

func (h *RequestHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	h.setFreeze(w, r, false)
}

func (h *RequestHandler) setFreeze(w http.ResponseWriter, r *http.Request, frozen bool) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok || !actor.CanOverride {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if err := h.service.FreezeBranch(r.Context(), chi.URLParam(r, "code"), frozen); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
