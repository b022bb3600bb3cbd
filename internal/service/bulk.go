package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

// BulkAction — что применяем ко всем выбранным заявкам.
type BulkAction string

const (
	BulkApprove  BulkAction = "approve"
	BulkReject   BulkAction = "reject"
	BulkDelegate BulkAction = "delegate"
)

// ApplyBulk применяет одно действие с одним комментарием к N заявкам.
//
// Гарантии:
//   - поштучная атомарность: каждая заявка либо полностью перешла, либо
//     отмечена failed с причиной, частично примененной заявки не бывает;
//   - межпозиционной атомарности НЕТ намеренно: провал позиции 7 не
//     откатывает позиции 1-6, вызывающий обязан просмотреть все результаты;
//   - дубликаты ID в одной пачке отклоняются сразу, чтобы исключить
//     двойное применение и самоблокировку;
//   - разные заявки обрабатываются параллельно, по одной заявке переходы
//     сериализует per-request lock внутри Decide.
//
// Выделение/снятие выделения — забота UI, движок selection не трогает.
func (s *RequestService) ApplyBulk(
	ctx context.Context,
	ids []string,
	action BulkAction,
	actorID, comment, delegateID string,
) ([]domain.BulkActionResult, error) {
	if len(ids) == 0 {
		return []domain.BulkActionResult{}, nil
	}

	// Дубликаты отклоняем до начала обработки
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate request id %q in bulk batch", domain.ErrValidationFailed, id)
		}
		seen[id] = struct{}{}
	}

	var decision domain.Decision
	switch action {
	case BulkApprove:
		decision = domain.DecisionApprove
	case BulkReject:
		decision = domain.DecisionReject
	case BulkDelegate:
		decision = domain.DecisionDelegate
		if delegateID == "" {
			return nil, fmt.Errorf("%w: delegate_id is required for bulk delegate", domain.ErrValidationFailed)
		}
	default:
		return nil, fmt.Errorf("%w: unknown bulk action %q", domain.ErrValidationFailed, action)
	}

	results := make([]domain.BulkActionResult, len(ids))

	// Ограниченный пул воркеров: пачки бывают большими, базу не заливаем
	sem := make(chan struct{}, s.bulkWorkers)
	var wg sync.WaitGroup

	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			_, err := s.Decide(ctx, id, actorID, decision, comment, delegateID)
			if err != nil {
				reason := err.Error()
				results[i] = domain.BulkActionResult{
					RequestID: id,
					Outcome:   domain.BulkFailed,
					Reason:    &reason,
				}
				s.metrics.BulkItemsTotal.WithLabelValues(string(action), "failed").Inc()
				return
			}
			results[i] = domain.BulkActionResult{RequestID: id, Outcome: domain.BulkApplied}
			s.metrics.BulkItemsTotal.WithLabelValues(string(action), "applied").Inc()
		}(i, id)
	}
	wg.Wait()

	applied := 0
	for _, r := range results {
		if r.Outcome == domain.BulkApplied {
			applied++
		}
	}
	s.logger.Info("bulk action completed",
		zap.String("action", string(action)),
		zap.String("actor_id", actorID),
		zap.Int("total", len(ids)),
		zap.Int("applied", applied))

	return results, nil
}
