package domain

import (
	"time"
)

// RequestStatus — статусы жизненного цикла заявки (State Machine).
type RequestStatus string

const (
	StatusDraft     RequestStatus = "draft"
	StatusPending   RequestStatus = "pending"   // цепочка назначена, первое решение еще не принято
	StatusInReview  RequestStatus = "in_review" // хотя бы одно решение уже зафиксировано
	StatusApproved  RequestStatus = "approved"
	StatusRejected  RequestStatus = "rejected"
	StatusEscalated RequestStatus = "escalated" // транзитный: цепочка расширена, вернется в pending
	StatusCancelled RequestStatus = "cancelled"
)

// IsTerminal — терминальные статусы. Заявка в них неизменяема.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// IsActive — заявка имеет текущий этап и ждет решения.
func (s RequestStatus) IsActive() bool {
	return s == StatusPending || s == StatusInReview
}

// RequestType — типы перемещения наличности между отделением и CMC.
type RequestType string

const (
	TypeBranchToCMC RequestType = "branch-to-cmc"
	TypeCMCToBranch RequestType = "cmc-to-branch"
	TypeOverLimit   RequestType = "over-limit"
)

// Priority — приоритет заявки, влияет только на отображение и очередность
// в back-office, на цепочку согласования не влияет.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// StageStatus — статусы отдельного этапа согласования.
type StageStatus string

const (
	StagePending  StageStatus = "pending"
	StageCurrent  StageStatus = "current"
	StageApproved StageStatus = "approved"
	StageRejected StageStatus = "rejected"
	StageSkipped  StageStatus = "skipped" // этапы после reject не проходятся
)

// Decision — действие согласующего на текущем этапе.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionDelegate Decision = "delegate"
)

// ApprovalStage — один этап цепочки согласования.
// Инвариант: пока заявка не терминальна, ровно один этап имеет статус current;
// все этапы до него approved/skipped, все после — pending.
type ApprovalStage struct {
	Sequence   int         `json:"sequence"`
	Role       string      `json:"role"`
	ApproverID *string     `json:"approver_id,omitempty"` // назначается при делегировании
	Status     StageStatus `json:"status"`
	EnteredAt  *time.Time  `json:"entered_at,omitempty"`
	DecidedAt  *time.Time  `json:"decided_at,omitempty"`
	Comment    *string     `json:"comment,omitempty"`
	SLAMinutes int         `json:"sla_minutes"`
}

// Request — заявка на перемещение наличности или превышение лимита.
// После Submit содержимое заявки неизменяемо, меняются только этапы и статус.
// Движок владеет заявкой эксклюзивно, UI держит read-only проекции.
type Request struct {
	ID                string          `json:"id"`
	Type              RequestType     `json:"type"`
	Money             Money           `json:"money"`
	Branch            string          `json:"branch"`
	Submitter         string          `json:"submitter"`
	Reason            string          `json:"reason"`
	Priority          Priority        `json:"priority"`
	Stages            []ApprovalStage `json:"stages"`
	Status            RequestStatus   `json:"status"`
	CurrentStageIndex int             `json:"current_stage_index"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CurrentStage возвращает текущий этап или nil, если заявка не активна.
func (r *Request) CurrentStage() *ApprovalStage {
	if !r.Status.IsActive() {
		return nil
	}
	if r.CurrentStageIndex < 0 || r.CurrentStageIndex >= len(r.Stages) {
		return nil
	}
	return &r.Stages[r.CurrentStageIndex]
}

// Clone делает глубокую копию заявки. Переходы State Machine работают
// только с копией: при любой ошибке исходная заявка остается нетронутой.
func (r *Request) Clone() *Request {
	cp := *r
	cp.Stages = make([]ApprovalStage, len(r.Stages))
	copy(cp.Stages, r.Stages)
	for i := range cp.Stages {
		if s := r.Stages[i].ApproverID; s != nil {
			v := *s
			cp.Stages[i].ApproverID = &v
		}
		if s := r.Stages[i].Comment; s != nil {
			v := *s
			cp.Stages[i].Comment = &v
		}
		if t := r.Stages[i].EnteredAt; t != nil {
			v := *t
			cp.Stages[i].EnteredAt = &v
		}
		if t := r.Stages[i].DecidedAt; t != nil {
			v := *t
			cp.Stages[i].DecidedAt = &v
		}
	}
	return &cp
}

// BulkOutcome — результат применения bulk-действия к одной заявке.
type BulkOutcome string

const (
	BulkApplied BulkOutcome = "applied"
	BulkFailed  BulkOutcome = "failed"
)

// BulkActionResult отдается по каждой заявке пачки отдельно.
// Координатор никогда не схлопывает пачку в один bool: частичный
// провал должен быть виден вызывающему поштучно.
type BulkActionResult struct {
	RequestID string      `json:"request_id"`
	Outcome   BulkOutcome `json:"outcome"`
	Reason    *string     `json:"reason,omitempty"`
}

// DenominationBreakdown — раскладка суммы по номиналам: номинал -> количество купюр.
type DenominationBreakdown map[int]int

// Total возвращает сумму раскладки.
func (b DenominationBreakdown) Total() float64 {
	var total float64
	for face, count := range b {
		total += float64(face) * float64(count)
	}
	return total
}
