package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

// ThresholdTable — валидированный набор пороговых правил и шаблонов.
// Собирается один раз при загрузке конфигурации, после этого read-only.
// Все обращения из ChainResolver идут к памяти, без похода в БД (Hot Path).
type ThresholdTable struct {
	// Правила сгруппированы по (тип заявки, валюта), отсортированы по MinAmount
	rules map[ruleKey][]domain.ThresholdRule
	// Обязательные роли шаблона по типу заявки
	templates map[domain.RequestType][]string
	// SLA в минутах на роль; DefaultSLAMinutes — для ролей без явной настройки
	slaMinutes map[string]int
	defaultSLA int
}

type ruleKey struct {
	reqType  domain.RequestType
	currency domain.Currency
}

// NewThresholdTable строит таблицу и проверяет конфигурационные инварианты:
// для каждой известной пары (тип, валюта) правила обязаны покрывать суммы
// от нуля без разрывов и перекрытий. Дефектный конфиг отвергается целиком —
// лучше не подняться, чем молча собрать неполную цепочку.
func NewThresholdTable(
	rules []domain.ThresholdRule,
	templates []domain.WorkflowTemplate,
	slaMinutes map[string]int,
	defaultSLA int,
) (*ThresholdTable, error) {
	t := &ThresholdTable{
		rules:      make(map[ruleKey][]domain.ThresholdRule),
		templates:  make(map[domain.RequestType][]string),
		slaMinutes: slaMinutes,
		defaultSLA: defaultSLA,
	}
	if t.defaultSLA <= 0 {
		t.defaultSLA = 240 // Branch Level, 4 часа
	}

	for _, tpl := range templates {
		if len(tpl.Roles) == 0 {
			return nil, fmt.Errorf("workflow template %q has no roles", tpl.RequestType)
		}
		t.templates[tpl.RequestType] = tpl.Roles
	}

	for _, r := range rules {
		if !r.Currency.IsValid() {
			return nil, fmt.Errorf("threshold rule for %q: unsupported currency %q", r.RequestType, r.Currency)
		}
		if r.MinAmount < 0 {
			return nil, fmt.Errorf("threshold rule for %q/%s: negative min_amount", r.RequestType, r.Currency)
		}
		if r.RequiredRole == "" {
			return nil, fmt.Errorf("threshold rule for %q/%s: empty required_role", r.RequestType, r.Currency)
		}
		k := ruleKey{r.RequestType, r.Currency}
		t.rules[k] = append(t.rules[k], r)
	}

	for k, list := range t.rules {
		sort.SliceStable(list, func(i, j int) bool { return list[i].MinAmount < list[j].MinAmount })

		// Покрытие от нуля: первое правило обязано начинаться с 0
		if list[0].MinAmount != 0 {
			return nil, fmt.Errorf("%w: %s/%s rules start at %.2f, not 0",
				domain.ErrNoApplicableThreshold, k.reqType, k.currency, list[0].MinAmount)
		}
		// Перекрытия: два правила с одинаковым MinAmount неоднозначны
		for i := 1; i < len(list); i++ {
			if list[i].MinAmount == list[i-1].MinAmount {
				return nil, fmt.Errorf("%w: %s/%s has overlapping rules at %.2f",
					domain.ErrNoApplicableThreshold, k.reqType, k.currency, list[i].MinAmount)
			}
		}
		t.rules[k] = list
	}

	return t, nil
}

// SLAFor возвращает SLA этапа для роли.
func (t *ThresholdTable) SLAFor(role string) int {
	if m, ok := t.slaMinutes[role]; ok && m > 0 {
		return m
	}
	return t.defaultSLA
}

// ResolveChain строит конкретную цепочку этапов для новой заявки.
// Детерминированная чистая функция от таблицы: роли шаблона в порядке
// старшинства, затем роли сработавших порогов (MinAmount <= сумма),
// дубликаты схлопываются в одно вхождение на первой позиции.
// Этап 0 становится current с EnteredAt=now, остальные pending.
func (t *ThresholdTable) ResolveChain(reqType domain.RequestType, money domain.Money, now time.Time) ([]domain.ApprovalStage, error) {
	tplRoles, ok := t.templates[reqType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRequestType, reqType)
	}
	if err := money.Validate(); err != nil {
		return nil, err
	}

	list, ok := t.rules[ruleKey{reqType, money.Currency}]
	// Защитная проверка: валидация покрытия уже прошла при загрузке таблицы,
	// но собрать неполную цепочку молча — хуже, чем отказать.
	if !ok || len(list) == 0 || list[0].MinAmount > money.Amount {
		return nil, fmt.Errorf("%w: %s/%s amount %.2f", domain.ErrNoApplicableThreshold,
			reqType, money.Currency, money.Amount)
	}

	roles := make([]string, 0, len(tplRoles)+len(list))
	seen := make(map[string]struct{}, len(tplRoles)+len(list))
	appendRole := func(role string) {
		if _, dup := seen[role]; dup {
			return
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}

	for _, role := range tplRoles {
		appendRole(role)
	}
	for _, r := range list {
		if r.MinAmount <= money.Amount {
			appendRole(r.RequiredRole)
		}
	}

	stages := make([]domain.ApprovalStage, len(roles))
	for i, role := range roles {
		stages[i] = domain.ApprovalStage{
			Sequence:   i,
			Role:       role,
			Status:     domain.StagePending,
			SLAMinutes: t.SLAFor(role),
		}
	}
	entered := now
	stages[0].Status = domain.StageCurrent
	stages[0].EnteredAt = &entered

	return stages, nil
}

// EscalationStages строит дополнительные этапы для ручной эскалации
// (например, вывод на CBSO). Нумерация продолжается с nextSeq.
func (t *ThresholdTable) EscalationStages(roles []string, nextSeq int) []domain.ApprovalStage {
	stages := make([]domain.ApprovalStage, len(roles))
	for i, role := range roles {
		stages[i] = domain.ApprovalStage{
			Sequence:   nextSeq + i,
			Role:       role,
			Status:     domain.StagePending,
			SLAMinutes: t.SLAFor(role),
		}
	}
	return stages
}
