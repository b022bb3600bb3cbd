package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/audit"
)

// WriteBatch сохраняет пачку событий аудита одной вставкой.
func (r *RequestRepo) WriteBatch(ctx context.Context, events []audit.DecisionEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице decision_audit
	numFields := 15
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11, p+12, p+13, p+14, p+15)

		vals = append(vals,
			e.ID, e.TraceID, e.RequestID, e.Branch,
			e.ActorID, e.ActorRole,
			e.Operation, e.Decision, e.StageSequence, e.StageRole, e.Comment,
			e.Status, e.Error, e.Timestamp, e.DurationMs,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO decision_audit (id, trace_id, request_id, branch, actor_id, actor_role, operation, decision, stage_sequence, stage_role, comment, status, error, timestamp, duration_ms) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	return err
}
