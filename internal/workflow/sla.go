package workflow

import (
	"time"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

// SLATracker — read-only арифметика дедлайнов этапов. Никаких переходов:
// решение «эскалировать по прорыву SLA» принимает внешний планировщик
// (cmd/slawatch), трекер только считает остаток времени.
type SLATracker struct{}

func NewSLATracker() *SLATracker {
	return &SLATracker{}
}

// Remaining возвращает остаток времени этапа. Отрицательное значение —
// этап просрочен. Для этапа без EnteredAt (не активирован) остаток
// равен полному SLA.
func (t *SLATracker) Remaining(stage domain.ApprovalStage, now time.Time) time.Duration {
	budget := time.Duration(stage.SLAMinutes) * time.Minute
	if stage.EnteredAt == nil {
		return budget
	}
	return budget - now.Sub(*stage.EnteredAt)
}

// RemainingMinutes — то же в минутах, для JSON-проекций списков.
func (t *SLATracker) RemainingMinutes(stage domain.ApprovalStage, now time.Time) int {
	return int(t.Remaining(stage, now) / time.Minute)
}

// IsOverdue — просрочен ли текущий этап заявки.
func (t *SLATracker) IsOverdue(req *domain.Request, now time.Time) bool {
	stage := req.CurrentStage()
	if stage == nil {
		return false
	}
	return t.Remaining(*stage, now) < 0
}
