package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/audit"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/notify"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/policy"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/workflow"
)

// RequestRepository описывает требования движка к хранилищу заявок.
// Вызовы Save идемпотентно-безопасны: условие по updated_at не даст
// ретраю примениться дважды.
type RequestRepository interface {
	Create(ctx context.Context, req *domain.Request) error
	GetByID(ctx context.Context, id string) (*domain.Request, error)
	Save(ctx context.Context, req *domain.Request, prevUpdatedAt time.Time) error
	Find(ctx context.Context, status domain.RequestStatus, branch string, limit int) ([]*domain.Request, error)
	FindActive(ctx context.Context) ([]*domain.Request, error)
	GetQueueStats(ctx context.Context) (*domain.QueueStats, error)
	SetBranchFrozen(ctx context.Context, code string, frozen bool) error
}

// RequestService — оркестратор движка: per-request блокировки, повторная
// авторитетная проверка под замком, персистентность, аудит и уведомления.
// Сами правила переходов живут в workflow.Machine и остаются чистыми.
type RequestService struct {
	repo      RequestRepository
	machine   *workflow.Machine
	sla       *workflow.SLATracker
	directory policy.Directory
	notifier  notify.Notifier
	trail     audit.Recorder
	metrics   *workflow.Metrics
	freeze    *FreezeManager
	locks     *requestLocks
	logger    *zap.Logger

	bulkWorkers     int
	escalationRoles []string
}

func NewRequestService(
	repo RequestRepository,
	machine *workflow.Machine,
	directory policy.Directory,
	notifier notify.Notifier,
	trail audit.Recorder,
	metrics *workflow.Metrics,
	freeze *FreezeManager,
	logger *zap.Logger,
	bulkWorkers int,
	escalationRoles []string,
) *RequestService {
	if bulkWorkers <= 0 {
		bulkWorkers = 8
	}
	return &RequestService{
		repo:            repo,
		machine:         machine,
		sla:             workflow.NewSLATracker(),
		directory:       directory,
		notifier:        notifier,
		trail:           trail,
		metrics:         metrics,
		freeze:          freeze,
		locks:           newRequestLocks(),
		logger:          logger.Named("request-service"),
		bulkWorkers:     bulkWorkers,
		escalationRoles: escalationRoles,
	}
}

// DraftInput — поля новой заявки. Остальное (ID, статус, этапы) назначает движок.
type DraftInput struct {
	Type      domain.RequestType `json:"type"`
	Money     domain.Money       `json:"money"`
	Branch    string             `json:"branch"`
	Submitter string             `json:"submitter"`
	Reason    string             `json:"reason"`
	Priority  domain.Priority    `json:"priority"`
}

// CreateDraft сохраняет черновик. Черновик мутабелен и не имеет цепочки —
// валидация полей откладывается до Submit.
func (s *RequestService) CreateDraft(ctx context.Context, in DraftInput) (*domain.Request, error) {
	now := time.Now().UTC()
	if in.Priority == "" {
		in.Priority = domain.PriorityNormal
	}
	req := &domain.Request{
		ID:                uuid.New().String(),
		Type:              in.Type,
		Money:             in.Money.Round(),
		Branch:            in.Branch,
		Submitter:         in.Submitter,
		Reason:            in.Reason,
		Priority:          in.Priority,
		Status:            domain.StatusDraft,
		CurrentStageIndex: -1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	return req, nil
}

// Submit подает черновик на согласование: строит цепочку и активирует
// первый этап.
func (s *RequestService) Submit(ctx context.Context, id, actorID string) (*domain.Request, error) {
	return s.transition(ctx, id, "submit", actorID, func(req *domain.Request, _ domain.Actor, now time.Time) (*domain.Request, error) {
		if s.freeze.IsFrozen(req.Branch) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBranchFrozen, req.Branch)
		}
		return s.machine.Submit(req, now)
	})
}

// Decide фиксирует решение актора на текущем этапе заявки.
func (s *RequestService) Decide(ctx context.Context, id, actorID string, decision domain.Decision, comment, delegateID string) (*domain.Request, error) {
	req, err := s.transition(ctx, id, "decide", actorID, func(req *domain.Request, actor domain.Actor, now time.Time) (*domain.Request, error) {
		if s.freeze.IsFrozen(req.Branch) {
			return nil, fmt.Errorf("%w: %s", domain.ErrBranchFrozen, req.Branch)
		}
		return s.machine.Decide(req, actor, decision, comment, delegateID, now)
	})
	if err == nil {
		s.metrics.DecisionsTotal.WithLabelValues(string(req.Type), string(decision)).Inc()
	}
	return req, err
}

// Escalate расширяет цепочку заявки дополнительными ролями
// (ручной override или авто-эскалация по прорыву SLA из slawatch).
func (s *RequestService) Escalate(ctx context.Context, id, actorID string, roles []string) (*domain.Request, error) {
	if len(roles) == 0 {
		roles = s.escalationRoles
	}
	return s.transition(ctx, id, "escalate", actorID, func(req *domain.Request, _ domain.Actor, now time.Time) (*domain.Request, error) {
		return s.machine.Escalate(req, roles, now)
	})
}

// AutoEscalate — системная эскалация по прорыву SLA, вызывается из slawatch.
// Просрочка перепроверяется под замком: снапшот планировщика мог устареть.
// Роли эскалации, уже присутствующие в цепочке, не добавляются повторно —
// иначе каждый тик планировщика наращивал бы цепочку заново.
// Возвращает nil, nil если эскалировать нечего.
func (s *RequestService) AutoEscalate(ctx context.Context, id string) (*domain.Request, error) {
	release := s.locks.Acquire(id)
	defer release()

	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !req.Status.IsActive() || !s.sla.IsOverdue(req, now) {
		return nil, nil // Кто-то успел решить заявку между опросом и замком
	}

	present := make(map[string]struct{}, len(req.Stages))
	for _, stage := range req.Stages {
		present[stage.Role] = struct{}{}
	}
	roles := make([]string, 0, len(s.escalationRoles))
	for _, role := range s.escalationRoles {
		if _, ok := present[role]; !ok {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return nil, nil // Цепочка уже расширена, дальше эскалировать некуда
	}

	next, err := s.machine.Escalate(req, roles, now)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, next, req.UpdatedAt); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}

	systemActor := domain.Actor{ID: "system:slawatch", Role: "system"}
	start := now
	s.audit(ctx, next, systemActor, "escalate", "", "APPLIED", nil, start)
	s.emit(next, systemActor, "escalate")
	s.logger.Warn("request auto-escalated on SLA breach",
		zap.String("request_id", id),
		zap.Strings("roles", roles))
	return next, nil
}

// ActiveOverdue возвращает ID активных заявок с просроченным текущим этапом.
func (s *RequestService) ActiveOverdue(ctx context.Context) ([]string, error) {
	active, err := s.repo.FindActive(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	ids := make([]string, 0)
	for _, req := range active {
		if s.sla.IsOverdue(req, now) {
			ids = append(ids, req.ID)
		}
	}
	s.metrics.OverdueRequests.Set(float64(len(ids)))
	return ids, nil
}

// Cancel отменяет заявку от имени подателя или актора с правом override.
func (s *RequestService) Cancel(ctx context.Context, id, actorID, reason string) (*domain.Request, error) {
	return s.transition(ctx, id, "cancel", actorID, func(req *domain.Request, actor domain.Actor, now time.Time) (*domain.Request, error) {
		return s.machine.Cancel(req, actor, reason, now)
	})
}

// transition — общий каркас перехода: замок заявки, свежая загрузка,
// чистый переход, атомарное сохранение, аудит. Критическая секция
// ограничена: внутри нее только load + transition + save.
func (s *RequestService) transition(
	ctx context.Context,
	id, operation, actorID string,
	fn func(req *domain.Request, actor domain.Actor, now time.Time) (*domain.Request, error),
) (*domain.Request, error) {
	start := time.Now()

	actor, err := s.resolveActor(ctx, actorID)
	if err != nil {
		s.observe(operation, "unauthorized", start)
		return nil, err
	}

	release := s.locks.Acquire(id)
	defer release()

	// Авторитетная проверка — только по свежему состоянию под замком.
	// Снапшоту из UI не верим: он мог устареть.
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.observe(operation, s.classify(err), start)
		return nil, err
	}

	now := time.Now().UTC()
	next, err := fn(req, actor, now)
	if err != nil {
		s.observe(operation, s.classify(err), start)
		s.audit(ctx, req, actor, operation, "", "FAILED", err, start)
		return nil, err
	}

	if err := s.repo.Save(ctx, next, req.UpdatedAt); err != nil {
		// In-memory результат отбрасывается целиком, заявка не повреждена.
		// Ретрай — забота вызывающего.
		s.observe(operation, "dependency", start)
		s.audit(ctx, req, actor, operation, "", "FAILED", err, start)
		if errors.Is(err, domain.ErrRequestAlreadyFinalized) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}

	s.observe(operation, "ok", start)
	s.audit(ctx, next, actor, operation, "", "APPLIED", nil, start)
	s.emit(next, actor, operation)
	return next, nil
}

func (s *RequestService) resolveActor(ctx context.Context, actorID string) (domain.Actor, error) {
	role, err := s.directory.RoleOf(ctx, actorID)
	if err != nil {
		return domain.Actor{}, err
	}
	override, err := s.directory.CanOverride(ctx, actorID)
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{ID: actorID, Role: role, CanOverride: override}, nil
}

func (s *RequestService) observe(operation, status string, start time.Time) {
	s.metrics.TransitionDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
	if status != "ok" {
		s.metrics.ErrorTotal.WithLabelValues(status).Inc()
	}
}

// classify мапит типизированные ошибки в лейбл метрики.
func (s *RequestService) classify(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotCurrentApprover):
		return "not_current_approver"
	case errors.Is(err, domain.ErrRequestAlreadyFinalized):
		return "finalized"
	case errors.Is(err, domain.ErrMissingComment):
		return "missing_comment"
	case errors.Is(err, domain.ErrValidationFailed):
		return "validation"
	case errors.Is(err, domain.ErrNotAuthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrBranchFrozen):
		return "branch_frozen"
	case errors.Is(err, domain.ErrRequestNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnknownRequestType), errors.Is(err, domain.ErrNoApplicableThreshold):
		return "config_defect"
	default:
		return "dependency"
	}
}

func (s *RequestService) audit(ctx context.Context, req *domain.Request, actor domain.Actor, operation, decision, status string, opErr error, start time.Time) {
	event := audit.DecisionEvent{
		ID:         uuid.New().String(),
		TraceID:    TraceIDFromContext(ctx),
		RequestID:  req.ID,
		Branch:     req.Branch,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Operation:  operation,
		Decision:   decision,
		Status:     status,
		Timestamp:  start,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if stage := req.CurrentStage(); stage != nil {
		event.StageSequence = stage.Sequence
		event.StageRole = stage.Role
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	s.trail.Log(event)
	s.metrics.AuditBufferFill.Set(float64(s.trailDepth()))
}

func (s *RequestService) trailDepth() int {
	if t, ok := s.trail.(*audit.Trail); ok {
		return t.Depth()
	}
	return 0
}

func (s *RequestService) emit(req *domain.Request, actor domain.Actor, operation string) {
	event := notify.Event{
		RequestID: req.ID,
		Branch:    req.Branch,
		Type:      req.Type,
		Status:    req.Status,
		ActorID:   actor.ID,
		Operation: operation,
	}
	if stage := req.CurrentStage(); stage != nil {
		event.StageRole = stage.Role
	}
	s.notifier.Notify(event)
}

// ---------- Read-side (снапшоты, без блокировок) ----------

// RequestView — проекция заявки для списков back-office: заявка плюс
// посчитанный остаток SLA текущего этапа.
type RequestView struct {
	*domain.Request
	SLARemainingMinutes *int `json:"sla_remaining_minutes,omitempty"`
	Overdue             bool `json:"overdue"`
}

func (s *RequestService) project(req *domain.Request, now time.Time) RequestView {
	view := RequestView{Request: req}
	if stage := req.CurrentStage(); stage != nil {
		mins := s.sla.RemainingMinutes(*stage, now)
		view.SLARemainingMinutes = &mins
		view.Overdue = mins < 0
	}
	return view
}

func (s *RequestService) Get(ctx context.Context, id string) (RequestView, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	return s.project(req, time.Now().UTC()), nil
}

func (s *RequestService) List(ctx context.Context, status domain.RequestStatus, branch string, limit int) ([]RequestView, error) {
	reqs, err := s.repo.Find(ctx, status, branch, limit)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	views := make([]RequestView, 0, len(reqs))
	for _, req := range reqs {
		views = append(views, s.project(req, now))
	}
	return views, nil
}

func (s *RequestService) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	stats, err := s.repo.GetQueueStats(ctx)
	if err != nil {
		return nil, err
	}
	// Просрочку считаем по активным заявкам в памяти: SQL не знает SLA ролей
	active, err := s.repo.FindActive(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, req := range active {
		if s.sla.IsOverdue(req, now) {
			stats.OverdueRequests++
		}
	}
	s.metrics.OverdueRequests.Set(float64(stats.OverdueRequests))
	return stats, nil
}

// FreezeBranch замораживает/размораживает отделение: база, локальный кэш,
// сигнал остальным инстансам.
func (s *RequestService) FreezeBranch(ctx context.Context, code string, frozen bool) error {
	if err := s.repo.SetBranchFrozen(ctx, code, frozen); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDependencyUnavailable, err)
	}
	if err := s.freeze.Signal(ctx, code, frozen); err != nil {
		// Сигнал не критичен: локально уже применено, база — истина
		s.logger.Warn("freeze signal delivery failed", zap.String("branch", code), zap.Error(err))
	}
	return nil
}
