package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

// Таблица, близкая к боевому configs/config.yaml.
func testTable(t *testing.T) *ThresholdTable {
	t.Helper()
	table, err := NewThresholdTable(
		[]domain.ThresholdRule{
			{RequestType: domain.TypeBranchToCMC, Currency: domain.CurrencyUSD, MinAmount: 0, RequiredRole: "Branch Manager"},
			{RequestType: domain.TypeBranchToCMC, Currency: domain.CurrencyUSD, MinAmount: 50000, RequiredRole: "CMC Supervisor"},
			{RequestType: domain.TypeBranchToCMC, Currency: domain.CurrencyUSD, MinAmount: 200000, RequiredRole: "Head of Banking Operations"},
			{RequestType: domain.TypeBranchToCMC, Currency: domain.CurrencyUSD, MinAmount: 500000, RequiredRole: "CBSO"},
			{RequestType: domain.TypeBranchToCMC, Currency: domain.CurrencyKHR, MinAmount: 0, RequiredRole: "Branch Manager"},
			{RequestType: domain.TypeBranchToCMC, Currency: domain.CurrencyKHR, MinAmount: 200000000, RequiredRole: "CMC Supervisor"},
			{RequestType: domain.TypeOverLimit, Currency: domain.CurrencyUSD, MinAmount: 0, RequiredRole: "Branch Manager"},
			{RequestType: domain.TypeOverLimit, Currency: domain.CurrencyUSD, MinAmount: 100000, RequiredRole: "Regional Manager"},
			{RequestType: domain.TypeOverLimit, Currency: domain.CurrencyUSD, MinAmount: 500000, RequiredRole: "CBSO"},
		},
		[]domain.WorkflowTemplate{
			{RequestType: domain.TypeBranchToCMC, Roles: []string{"Teller Supervisor", "Branch Manager"}},
			{RequestType: domain.TypeOverLimit, Roles: []string{"Branch Manager", "Head of Banking Operations"}},
		},
		map[string]int{
			"Teller Supervisor":          240,
			"Branch Manager":             240,
			"CMC Supervisor":             480,
			"Head of Banking Operations": 480,
			"CBSO":                       2880,
		},
		240,
	)
	require.NoError(t, err)
	return table
}

func stageRoles(stages []domain.ApprovalStage) []string {
	roles := make([]string, len(stages))
	for i, s := range stages {
		roles[i] = s.Role
	}
	return roles
}

func TestNewThresholdTable_RejectsGapFromZero(t *testing.T) {
	_, err := NewThresholdTable(
		[]domain.ThresholdRule{
			{RequestType: domain.TypeBranchToCMC, Currency: domain.CurrencyUSD, MinAmount: 1000, RequiredRole: "Branch Manager"},
		},
		[]domain.WorkflowTemplate{
			{RequestType: domain.TypeBranchToCMC, Roles: []string{"Teller Supervisor"}},
		},
		nil, 240,
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoApplicableThreshold)
}

func TestNewThresholdTable_RejectsOverlappingRules(t *testing.T) {
	_, err := NewThresholdTable(
		[]domain.ThresholdRule{
			{RequestType: domain.TypeBranchToCMC, Currency: domain.CurrencyUSD, MinAmount: 0, RequiredRole: "Branch Manager"},
			{RequestType: domain.TypeBranchToCMC, Currency: domain.CurrencyUSD, MinAmount: 50000, RequiredRole: "CMC Supervisor"},
			{RequestType: domain.TypeBranchToCMC, Currency: domain.CurrencyUSD, MinAmount: 50000, RequiredRole: "Regional Manager"},
		},
		[]domain.WorkflowTemplate{
			{RequestType: domain.TypeBranchToCMC, Roles: []string{"Teller Supervisor"}},
		},
		nil, 240,
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoApplicableThreshold)
}

func TestNewThresholdTable_RejectsEmptyTemplate(t *testing.T) {
	_, err := NewThresholdTable(nil,
		[]domain.WorkflowTemplate{{RequestType: domain.TypeBranchToCMC}},
		nil, 240,
	)
	require.Error(t, err)
}

func TestResolveChain_MidTierAmount(t *testing.T) {
	table := testTable(t)
	now := time.Now()

	// 75 000 USD branch-to-cmc: шаблон + порог 50 000, без ролей верхних порогов
	stages, err := table.ResolveChain(domain.TypeBranchToCMC,
		domain.Money{Amount: 75000, Currency: domain.CurrencyUSD}, now)
	require.NoError(t, err)

	assert.Equal(t, []string{"Teller Supervisor", "Branch Manager", "CMC Supervisor"}, stageRoles(stages))
	assert.Equal(t, domain.StageCurrent, stages[0].Status)
	require.NotNil(t, stages[0].EnteredAt)
	assert.Equal(t, now, *stages[0].EnteredAt)
	for _, s := range stages[1:] {
		assert.Equal(t, domain.StagePending, s.Status)
		assert.Nil(t, s.EnteredAt)
	}
}

func TestResolveChain_SmallAmountTemplateOnly(t *testing.T) {
	table := testTable(t)

	stages, err := table.ResolveChain(domain.TypeBranchToCMC,
		domain.Money{Amount: 500, Currency: domain.CurrencyUSD}, time.Now())
	require.NoError(t, err)

	// Branch Manager из правила min=0 схлопывается с шаблонным
	assert.Equal(t, []string{"Teller Supervisor", "Branch Manager"}, stageRoles(stages))
}

func TestResolveChain_BoundaryInclusive(t *testing.T) {
	table := testTable(t)

	// MinAmount включителен: ровно на пороге роль уже требуется
	stages, err := table.ResolveChain(domain.TypeBranchToCMC,
		domain.Money{Amount: 50000, Currency: domain.CurrencyUSD}, time.Now())
	require.NoError(t, err)
	assert.Contains(t, stageRoles(stages), "CMC Supervisor")

	stages, err = table.ResolveChain(domain.TypeBranchToCMC,
		domain.Money{Amount: 49999.99, Currency: domain.CurrencyUSD}, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, stageRoles(stages), "CMC Supervisor")
}

func TestResolveChain_ExecutiveThreshold(t *testing.T) {
	table := testTable(t)

	stages, err := table.ResolveChain(domain.TypeOverLimit,
		domain.Money{Amount: 600000, Currency: domain.CurrencyUSD}, time.Now())
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"Branch Manager", "Head of Banking Operations", "Regional Manager", "CBSO"},
		stageRoles(stages))
	// SLA этапа берется из конфигурации роли
	assert.Equal(t, 2880, stages[3].SLAMinutes)
}

func TestResolveChain_ChainMonotonicByAmount(t *testing.T) {
	table := testTable(t)
	now := time.Now()

	prev := 0
	for _, amount := range []float64{1, 49999, 50000, 199999, 200000, 499999, 500000, 1000000} {
		stages, err := table.ResolveChain(domain.TypeBranchToCMC,
			domain.Money{Amount: amount, Currency: domain.CurrencyUSD}, now)
		require.NoError(t, err)
		// Большая сумма никогда не дает более короткую цепочку
		assert.GreaterOrEqual(t, len(stages), prev, "amount %.2f", amount)
		prev = len(stages)
	}
}

func TestResolveChain_UnknownTypeAndCurrency(t *testing.T) {
	table := testTable(t)
	now := time.Now()

	_, err := table.ResolveChain("vault-transfer",
		domain.Money{Amount: 100, Currency: domain.CurrencyUSD}, now)
	assert.ErrorIs(t, err, domain.ErrUnknownRequestType)

	// over-limit/KHR в таблице не настроен — защитный отказ вместо неполной цепочки
	_, err = table.ResolveChain(domain.TypeOverLimit,
		domain.Money{Amount: 100, Currency: domain.CurrencyKHR}, now)
	assert.ErrorIs(t, err, domain.ErrNoApplicableThreshold)

	_, err = table.ResolveChain(domain.TypeBranchToCMC,
		domain.Money{Amount: 100, Currency: "EUR"}, now)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestEscalationStages_ContinuesSequence(t *testing.T) {
	table := testTable(t)

	stages := table.EscalationStages([]string{"CBSO"}, 3)
	require.Len(t, stages, 1)
	assert.Equal(t, 3, stages[0].Sequence)
	assert.Equal(t, domain.StagePending, stages[0].Status)
	assert.Equal(t, 2880, stages[0].SLAMinutes)
}

func TestSLAFor_FallsBackToDefault(t *testing.T) {
	table := testTable(t)

	assert.Equal(t, 480, table.SLAFor("CMC Supervisor"))
	assert.Equal(t, 240, table.SLAFor("Unknown Role"))
}
