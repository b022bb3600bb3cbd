package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/audit"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/notify"
	"github.com/keovoin/wing-cash-movement-system-sub000/internal/workflow"
)

// ---------- Фейки границ: хранилище, identity, уведомления, аудит ----------

// fakeRepo — in-memory хранилище с тем же оптимистичным условием Save,
// что и у боевого Postgres-репозитория.
type fakeRepo struct {
	mu       sync.Mutex
	requests map[string]*domain.Request
	frozen   map[string]bool
	saveErr  error // подмена для имитации отказа базы
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		requests: make(map[string]*domain.Request),
		frozen:   make(map[string]bool),
	}
}

func (f *fakeRepo) Create(_ context.Context, req *domain.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[req.ID] = req.Clone()
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (*domain.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRequestNotFound, id)
	}
	return req.Clone(), nil
}

func (f *fakeRepo) Save(_ context.Context, req *domain.Request, prevUpdatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	stored, ok := f.requests[req.ID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRequestNotFound, req.ID)
	}
	if !stored.UpdatedAt.Equal(prevUpdatedAt) {
		return fmt.Errorf("%w: request was concurrently modified", domain.ErrRequestAlreadyFinalized)
	}
	f.requests[req.ID] = req.Clone()
	return nil
}

func (f *fakeRepo) Find(_ context.Context, status domain.RequestStatus, branch string, _ int) ([]*domain.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Request
	for _, req := range f.requests {
		if status != "" && req.Status != status {
			continue
		}
		if branch != "" && req.Branch != branch {
			continue
		}
		out = append(out, req.Clone())
	}
	return out, nil
}

func (f *fakeRepo) FindActive(_ context.Context) ([]*domain.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Request
	for _, req := range f.requests {
		if req.Status.IsActive() {
			out = append(out, req.Clone())
		}
	}
	return out, nil
}

func (f *fakeRepo) GetQueueStats(_ context.Context) (*domain.QueueStats, error) {
	return &domain.QueueStats{}, nil
}

func (f *fakeRepo) SetBranchFrozen(_ context.Context, code string, frozen bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frozen[code] = frozen
	return nil
}

func (f *fakeRepo) GetFrozenBranches(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for code, frozen := range f.frozen {
		if frozen {
			out = append(out, code)
		}
	}
	return out, nil
}

// mutate правит сохраненную заявку напрямую, минуя движок (для подготовки сцен)
func (f *fakeRepo) mutate(t *testing.T, id string, fn func(req *domain.Request)) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	require.True(t, ok, "request %s not seeded", id)
	fn(req)
}

type fakeDirectory struct {
	actors map[string]domain.Actor
}

func (d *fakeDirectory) RoleOf(_ context.Context, actorID string) (string, error) {
	a, ok := d.actors[actorID]
	if !ok {
		return "", fmt.Errorf("%w: unknown actor %q", domain.ErrNotAuthorized, actorID)
	}
	return a.Role, nil
}

func (d *fakeDirectory) CanOverride(_ context.Context, actorID string) (bool, error) {
	a, ok := d.actors[actorID]
	if !ok {
		return false, fmt.Errorf("%w: unknown actor %q", domain.ErrNotAuthorized, actorID)
	}
	return a.CanOverride, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *fakeNotifier) Notify(event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type fakeTrail struct {
	mu     sync.Mutex
	events []audit.DecisionEvent
}

func (t *fakeTrail) Log(event audit.DecisionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, event)
}

func (t *fakeTrail) byStatus(status string) []audit.DecisionEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []audit.DecisionEvent
	for _, e := range t.events {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// ---------- Сборка сервиса ----------

type fixture struct {
	svc      *RequestService
	repo     *fakeRepo
	notifier *fakeNotifier
	trail    *fakeTrail
	freeze   *FreezeManager
}

func serviceTable(t *testing.T) *workflow.ThresholdTable {
	t.Helper()
	table, err := workflow.NewThresholdTable(
		[]domain.ThresholdRule{
			{RequestType: domain.TypeBranchToCMC, Currency: domain.CurrencyUSD, MinAmount: 0, RequiredRole: "Branch Manager"},
			{RequestType: domain.TypeBranchToCMC, Currency: domain.CurrencyUSD, MinAmount: 50000, RequiredRole: "CMC Supervisor"},
		},
		[]domain.WorkflowTemplate{
			{RequestType: domain.TypeBranchToCMC, Roles: []string{"Teller Supervisor", "Branch Manager"}},
		},
		map[string]int{"Teller Supervisor": 240, "Branch Manager": 240, "CMC Supervisor": 480, "CBSO": 2880},
		240,
	)
	require.NoError(t, err)
	return table
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeRepo()
	notifier := &fakeNotifier{}
	trail := &fakeTrail{}
	logger := zap.NewNop()
	freeze := NewFreezeManager(nil, repo, logger)

	dir := &fakeDirectory{actors: map[string]domain.Actor{
		"ts-1":   {ID: "ts-1", Role: "Teller Supervisor"},
		"bm-1":   {ID: "bm-1", Role: "Branch Manager"},
		"cmc-1":  {ID: "cmc-1", Role: "CMC Supervisor"},
		"cbso-1": {ID: "cbso-1", Role: "CBSO", CanOverride: true},
	}}

	svc := NewRequestService(
		repo,
		workflow.NewMachine(serviceTable(t)),
		dir,
		notifier,
		trail,
		workflow.NewMetrics(nil),
		freeze,
		logger,
		4,
		[]string{"CBSO"},
	)
	return &fixture{svc: svc, repo: repo, notifier: notifier, trail: trail, freeze: freeze}
}

func (f *fixture) seedPending(t *testing.T, amount float64) *domain.Request {
	t.Helper()
	ctx := context.Background()
	draft, err := f.svc.CreateDraft(ctx, DraftInput{
		Type:      domain.TypeBranchToCMC,
		Money:     domain.Money{Amount: amount, Currency: domain.CurrencyUSD},
		Branch:    "PNH-001",
		Submitter: "ts-1",
		Reason:    "Vault replenishment before the weekend rush",
	})
	require.NoError(t, err)
	req, err := f.svc.Submit(ctx, draft.ID, "ts-1")
	require.NoError(t, err)
	return req
}

// ---------- Тесты ----------

func TestSubmitThenApproveChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.seedPending(t, 1000)
	assert.Equal(t, domain.StatusPending, req.Status)
	require.Len(t, req.Stages, 2)

	req, err := f.svc.Decide(ctx, req.ID, "ts-1", domain.DecisionApprove, "Counted and verified", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInReview, req.Status)

	req, err = f.svc.Decide(ctx, req.ID, "bm-1", domain.DecisionApprove, "Approved for transfer", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, req.Status)

	// Все успешные переходы ушли в аудит и уведомления
	assert.Len(t, f.trail.byStatus("APPLIED"), 3)
	assert.Equal(t, 3, f.notifier.count())

	stored, err := f.repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, stored.Status)
}

func TestDecide_UnknownActorDenied(t *testing.T) {
	f := newFixture(t)
	req := f.seedPending(t, 1000)

	_, err := f.svc.Decide(context.Background(), req.ID, "ghost", domain.DecisionApprove, "Sneaking in", "")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestDecide_WrongRoleLeavesRequestUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.seedPending(t, 1000)

	_, err := f.svc.Decide(ctx, req.ID, "bm-1", domain.DecisionApprove, "Jumping the queue", "")
	assert.ErrorIs(t, err, domain.ErrNotCurrentApprover)

	stored, err := f.repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Equal(t, 0, stored.CurrentStageIndex)
	// Отказ тоже фиксируется в аудите
	assert.Len(t, f.trail.byStatus("FAILED"), 1)
}

func TestFrozenBranchBlocksTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.seedPending(t, 1000)

	f.freeze.apply("PNH-001", true)

	_, err := f.svc.Decide(ctx, req.ID, "ts-1", domain.DecisionApprove, "Counted and verified", "")
	assert.ErrorIs(t, err, domain.ErrBranchFrozen)

	f.freeze.apply("PNH-001", false)
	_, err = f.svc.Decide(ctx, req.ID, "ts-1", domain.DecisionApprove, "Counted and verified", "")
	assert.NoError(t, err)
}

func TestTransition_SaveFailureDiscardsResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.seedPending(t, 1000)

	f.repo.saveErr = fmt.Errorf("connection reset")
	_, err := f.svc.Decide(ctx, req.ID, "ts-1", domain.DecisionApprove, "Counted and verified", "")
	assert.ErrorIs(t, err, domain.ErrDependencyUnavailable)

	// In-memory результат отброшен, заявка не повреждена
	f.repo.saveErr = nil
	stored, err := f.repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
}

func TestTransition_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Decide(context.Background(), "missing", "ts-1", domain.DecisionApprove, "Counted", "")
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestCancel_OverrideActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.seedPending(t, 1000)

	// Чужой актор без override отменить не может
	_, err := f.svc.Cancel(ctx, req.ID, "bm-1", "wrong paperwork")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	cancelled, err := f.svc.Cancel(ctx, req.ID, "cbso-1", "policy stop")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
}

func TestAutoEscalate_OverdueAddsEscalationRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.seedPending(t, 1000)

	// Текущий этап просрочен: входная отметка далеко в прошлом
	f.repo.mutate(t, req.ID, func(r *domain.Request) {
		stale := time.Now().UTC().Add(-10 * time.Hour)
		r.Stages[0].EnteredAt = &stale
	})

	next, err := f.svc.AutoEscalate(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.Len(t, next.Stages, 3)
	assert.Equal(t, "CBSO", next.Stages[2].Role)
	assert.Equal(t, domain.StatusPending, next.Status)

	// Повторный тик планировщика: роль уже в цепочке, эскалировать нечего
	again, err := f.svc.AutoEscalate(ctx, req.ID)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestAutoEscalate_NotOverdueIsNoop(t *testing.T) {
	f := newFixture(t)
	req := f.seedPending(t, 1000)

	next, err := f.svc.AutoEscalate(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestActiveOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fresh := f.seedPending(t, 1000)
	stale := f.seedPending(t, 2000)
	f.repo.mutate(t, stale.ID, func(r *domain.Request) {
		past := time.Now().UTC().Add(-10 * time.Hour)
		r.Stages[0].EnteredAt = &past
	})

	ids, err := f.svc.ActiveOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, ids)
	assert.NotContains(t, ids, fresh.ID)
}

func TestGet_ProjectsSLARemaining(t *testing.T) {
	f := newFixture(t)
	req := f.seedPending(t, 1000)

	view, err := f.svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	require.NotNil(t, view.SLARemainingMinutes)
	assert.InDelta(t, 240, *view.SLARemainingMinutes, 1)
	assert.False(t, view.Overdue)
}
