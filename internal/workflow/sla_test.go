package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

func TestRemaining_CountsFromEnteredAt(t *testing.T) {
	tr := NewSLATracker()
	entered := time.Now()
	stage := domain.ApprovalStage{SLAMinutes: 240, EnteredAt: &entered, Status: domain.StageCurrent}

	assert.Equal(t, 4*time.Hour, tr.Remaining(stage, entered))
	assert.Equal(t, 3*time.Hour, tr.Remaining(stage, entered.Add(time.Hour)))
	assert.Equal(t, 180, tr.RemainingMinutes(stage, entered.Add(time.Hour)))
}

func TestRemaining_NegativeWhenOverdue(t *testing.T) {
	tr := NewSLATracker()
	entered := time.Now()
	stage := domain.ApprovalStage{SLAMinutes: 240, EnteredAt: &entered, Status: domain.StageCurrent}

	// Минута за дедлайном — этап просрочен
	rem := tr.Remaining(stage, entered.Add(241*time.Minute))
	assert.Equal(t, -time.Minute, rem)
}

func TestRemaining_UnenteredStageHasFullBudget(t *testing.T) {
	tr := NewSLATracker()
	stage := domain.ApprovalStage{SLAMinutes: 480, Status: domain.StagePending}

	assert.Equal(t, 8*time.Hour, tr.Remaining(stage, time.Now()))
}

func TestIsOverdue(t *testing.T) {
	m := NewMachine(testTable(t))
	tr := NewSLATracker()
	now := time.Now()
	req := submitted(t, m, 1000, now)

	assert.False(t, tr.IsOverdue(req, now.Add(239*time.Minute)))
	assert.True(t, tr.IsOverdue(req, now.Add(241*time.Minute)))

	// У терминальной заявки нет текущего этапа — просрочки нет
	cancelled, err := m.Cancel(req, domain.Actor{ID: "teller-7"}, "no longer needed", now)
	require.NoError(t, err)
	assert.False(t, tr.IsOverdue(cancelled, now.Add(10*time.Hour)))
}

func TestIsOverdue_ClockResetsOnAdvance(t *testing.T) {
	m := NewMachine(testTable(t))
	tr := NewSLATracker()
	now := time.Now()
	req := submitted(t, m, 1000, now)

	// Первый этап закрыт на грани дедлайна; часы второго идут заново
	later := now.Add(239 * time.Minute)
	req, err := m.Decide(req, domain.Actor{ID: "u1", Role: "Teller Supervisor"},
		domain.DecisionApprove, "Approved just in time", "", later)
	require.NoError(t, err)

	assert.False(t, tr.IsOverdue(req, later.Add(239*time.Minute)))
	assert.True(t, tr.IsOverdue(req, later.Add(241*time.Minute)))
}
