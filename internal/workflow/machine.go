package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

// Машина состояний заявки. Все переходы — чистые функции: принимают заявку,
// возвращают новую копию или типизированную ошибку. Частичной мутации на
// ошибке не бывает, исходное значение не трогается. Сериализацию конкурентных
// переходов по одной заявке обеспечивает слой выше (per-request lock в
// service), здесь только правила переходов.

// minReasonLen — обоснование заявки, как и в формах отделений,
// не короче 20 символов. Проверяется централизованно при Submit.
const minReasonLen = 20

// Machine инкапсулирует переходы жизненного цикла заявки.
// Таблица порогов нужна только на Submit (построение цепочки).
type Machine struct {
	table *ThresholdTable
}

func NewMachine(table *ThresholdTable) *Machine {
	return &Machine{table: table}
}

// Submit переводит черновик в pending: валидирует поля, строит цепочку
// согласования через ThresholdTable и назначает первый этап текущим.
func (m *Machine) Submit(req *domain.Request, now time.Time) (*domain.Request, error) {
	if req.Status != domain.StatusDraft {
		if req.Status.IsTerminal() {
			return nil, domain.ErrRequestAlreadyFinalized
		}
		return nil, fmt.Errorf("%w: only draft can be submitted, got %q", domain.ErrValidationFailed, req.Status)
	}
	if req.Money.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidationFailed)
	}
	if req.Branch == "" {
		return nil, fmt.Errorf("%w: branch is required", domain.ErrValidationFailed)
	}
	if len(strings.TrimSpace(req.Reason)) < minReasonLen {
		return nil, fmt.Errorf("%w: reason must be at least %d characters", domain.ErrValidationFailed, minReasonLen)
	}

	stages, err := m.table.ResolveChain(req.Type, req.Money, now)
	if err != nil {
		return nil, err
	}

	next := req.Clone()
	next.Money = next.Money.Round()
	next.Stages = stages
	next.CurrentStageIndex = 0
	next.Status = domain.StatusPending
	next.UpdatedAt = now
	return next, nil
}

// Decide фиксирует решение актора на текущем этапе.
// approve последнего этапа делает заявку терминально approved;
// reject на любом этапе терминален, оставшиеся этапы получают skipped;
// delegate заменяет исполнителя этапа, не сбрасывая SLA-часы.
func (m *Machine) Decide(
	req *domain.Request,
	actor domain.Actor,
	decision domain.Decision,
	comment string,
	delegateID string,
	now time.Time,
) (*domain.Request, error) {
	if req.Status.IsTerminal() {
		return nil, domain.ErrRequestAlreadyFinalized
	}
	stage := req.CurrentStage()
	if stage == nil {
		return nil, fmt.Errorf("%w: request %q has no active stage", domain.ErrValidationFailed, req.ID)
	}
	// Каждое решение должно быть обосновано — в том числе делегирование.
	if strings.TrimSpace(comment) == "" {
		return nil, domain.ErrMissingComment
	}
	// Право голоса: роль совпадает с ролью этапа, либо актор — назначенный
	// делегат этого этапа (делегат действует от имени роли).
	if actor.Role != stage.Role && (stage.ApproverID == nil || *stage.ApproverID != actor.ID) {
		return nil, fmt.Errorf("%w: stage %d requires role %q", domain.ErrNotCurrentApprover, stage.Sequence, stage.Role)
	}

	next := req.Clone()
	cur := &next.Stages[next.CurrentStageIndex]
	decided := now
	c := comment

	switch decision {
	case domain.DecisionApprove:
		cur.Status = domain.StageApproved
		cur.DecidedAt = &decided
		cur.Comment = &c
		if actorID := actor.ID; cur.ApproverID == nil {
			cur.ApproverID = &actorID
		}
		if next.CurrentStageIndex == len(next.Stages)-1 {
			next.Status = domain.StatusApproved
		} else {
			next.CurrentStageIndex++
			entered := now
			next.Stages[next.CurrentStageIndex].Status = domain.StageCurrent
			next.Stages[next.CurrentStageIndex].EnteredAt = &entered
			next.Status = domain.StatusInReview
		}

	case domain.DecisionReject:
		cur.Status = domain.StageRejected
		cur.DecidedAt = &decided
		cur.Comment = &c
		if actorID := actor.ID; cur.ApproverID == nil {
			cur.ApproverID = &actorID
		}
		// Reject терминален на любом этапе: дальше заявка не идет
		for i := next.CurrentStageIndex + 1; i < len(next.Stages); i++ {
			next.Stages[i].Status = domain.StageSkipped
		}
		next.Status = domain.StatusRejected

	case domain.DecisionDelegate:
		if delegateID == "" {
			return nil, fmt.Errorf("%w: delegate_id is required", domain.ErrValidationFailed)
		}
		// Административная замена исполнителя. EnteredAt не сбрасываем:
		// делегирование не продлевает SLA этапа.
		cur.ApproverID = &delegateID
		cur.Comment = &c
		next.Status = domain.StatusInReview

	default:
		return nil, fmt.Errorf("%w: unknown decision %q", domain.ErrValidationFailed, decision)
	}

	next.UpdatedAt = now
	return next, nil
}

// Escalate расширяет цепочку согласования дополнительными этапами
// (SLA-прорыв или ручной вывод на CBSO). Эскалация — событие расширения
// цепочки, не тупик: статус проходит через escalated и сразу возвращается
// в pending, как только новый текущий этап определен.
func (m *Machine) Escalate(req *domain.Request, extraRoles []string, now time.Time) (*domain.Request, error) {
	if req.Status.IsTerminal() {
		return nil, domain.ErrRequestAlreadyFinalized
	}
	if !req.Status.IsActive() {
		return nil, fmt.Errorf("%w: cannot escalate request in status %q", domain.ErrValidationFailed, req.Status)
	}
	if len(extraRoles) == 0 {
		return nil, fmt.Errorf("%w: escalation requires at least one role", domain.ErrValidationFailed)
	}

	next := req.Clone()
	next.Status = domain.StatusEscalated

	appended := m.table.EscalationStages(extraRoles, len(next.Stages))
	next.Stages = append(next.Stages, appended...)

	// Текущий этап не меняется: новые роли встают в хвост цепочки.
	// Если текущего этапа вдруг нет (защита), активируем первый добавленный.
	if next.CurrentStage() == nil {
		idx := len(next.Stages) - len(appended)
		entered := now
		next.Stages[idx].Status = domain.StageCurrent
		next.Stages[idx].EnteredAt = &entered
		next.CurrentStageIndex = idx
	}

	next.Status = domain.StatusPending
	next.UpdatedAt = now
	return next, nil
}

// Cancel отменяет заявку. Разрешено только подателю либо актору с правом
// override (проверка полномочий — наверху, через Identity/Policy).
func (m *Machine) Cancel(req *domain.Request, actor domain.Actor, reason string, now time.Time) (*domain.Request, error) {
	if req.Status.IsTerminal() {
		return nil, domain.ErrRequestAlreadyFinalized
	}
	if actor.ID != req.Submitter && !actor.CanOverride {
		return nil, fmt.Errorf("%w: only submitter or override role may cancel", domain.ErrNotAuthorized)
	}

	next := req.Clone()
	for i := range next.Stages {
		if next.Stages[i].Status == domain.StageCurrent || next.Stages[i].Status == domain.StagePending {
			next.Stages[i].Status = domain.StageSkipped
		}
	}
	next.Status = domain.StatusCancelled
	next.UpdatedAt = now
	return next, nil
}
