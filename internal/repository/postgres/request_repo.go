package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

// RequestRepo — хранилище заявок. Этапы цепочки лежат в JSONB-колонке:
// цепочкой владеет движок целиком, построчный доступ к этапам из SQL не нужен.
type RequestRepo struct {
	pool *pgxpool.Pool
}

// NewRequestRepo создает пул соединений. Доступность базы проверяется
// в main через Ping, здесь только конфигурация пула.
func NewRequestRepo(ctx context.Context, connString string, maxConns, minConns int32) (*RequestRepo, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid conn string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool init failed: %w", err)
	}
	return &RequestRepo{pool: pool}, nil
}

// Ping проверяет доступность базы при старте
func (r *RequestRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *RequestRepo) Close() {
	r.pool.Close()
}

// Create сохраняет новую заявку (черновик или уже поданную).
func (r *RequestRepo) Create(ctx context.Context, req *domain.Request) error {
	stages, err := json.Marshal(req.Stages)
	if err != nil {
		return fmt.Errorf("postgres: marshal stages: %w", err)
	}

	query := `INSERT INTO requests
		(id, type, amount, currency, branch, submitter, reason, priority, status, current_stage_index, stages, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.pool.Exec(ctx, query,
		req.ID, req.Type, req.Money.Amount, req.Money.Currency,
		req.Branch, req.Submitter, req.Reason, req.Priority,
		req.Status, req.CurrentStageIndex, stages, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create request: %w", err)
	}
	return nil
}

const requestColumns = `id, type, amount, currency, branch, submitter, reason, priority, status, current_stage_index, stages, created_at, updated_at`

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var req domain.Request
	var stages []byte
	var reason sql.NullString

	err := row.Scan(
		&req.ID, &req.Type, &req.Money.Amount, &req.Money.Currency,
		&req.Branch, &req.Submitter, &reason, &req.Priority,
		&req.Status, &req.CurrentStageIndex, &stages, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason.Valid {
		req.Reason = reason.String
	}
	if len(stages) > 0 {
		if err := json.Unmarshal(stages, &req.Stages); err != nil {
			return nil, fmt.Errorf("postgres: corrupt stages json: %w", err)
		}
	}
	return &req, nil
}

// GetByID загружает заявку целиком, вместе с цепочкой этапов.
func (r *RequestRepo) GetByID(ctx context.Context, id string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRequestNotFound, id)
		}
		return nil, fmt.Errorf("postgres: failed to load request: %w", err)
	}
	return req, nil
}

// Save атомарно записывает результат перехода State Machine.
// Условие WHERE по прежнему updated_at защищает от Double Decision между
// инстансами движка: проигравший конкурент получает 0 строк и конфликт.
func (r *RequestRepo) Save(ctx context.Context, req *domain.Request, prevUpdatedAt time.Time) error {
	stages, err := json.Marshal(req.Stages)
	if err != nil {
		return fmt.Errorf("postgres: marshal stages: %w", err)
	}

	query := `UPDATE requests
		SET status = $1, current_stage_index = $2, stages = $3, updated_at = $4
		WHERE id = $5 AND updated_at = $6`

	tag, err := r.pool.Exec(ctx, query,
		req.Status, req.CurrentStageIndex, stages, req.UpdatedAt, req.ID, prevUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to save request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Либо заявки нет, либо (что чаще) ее уже успел изменить другой инстанс
		return fmt.Errorf("%w: request %s was concurrently modified", domain.ErrRequestAlreadyFinalized, req.ID)
	}
	return nil
}

// Find выбирает проекцию очереди для back-office. Снапшот без блокировок:
// списки могут отставать, авторитетная проверка всегда делается под
// per-request lock при переходе.
func (r *RequestRepo) Find(ctx context.Context, status domain.RequestStatus, branch string, limit int) ([]*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests`

	var args []interface{}
	where := ""
	if status != "" {
		args = append(args, status)
		where = fmt.Sprintf(" WHERE status = $%d", len(args))
	}
	if branch != "" {
		args = append(args, branch)
		if where == "" {
			where = fmt.Sprintf(" WHERE branch = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND branch = $%d", len(args))
		}
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query requests: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan request: %w", err)
		}
		results = append(results, req)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// FindActive возвращает все активные заявки — вход для SLA-обхода в slawatch.
func (r *RequestRepo) FindActive(ctx context.Context) ([]*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE status IN ('pending', 'in_review')`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query active requests: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.Request, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan request: %w", err)
		}
		results = append(results, req)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return results, nil
}

// GetQueueStats собирает счетчики очереди для дашборда за один проход.
func (r *RequestRepo) GetQueueStats(ctx context.Context) (*domain.QueueStats, error) {
	stats := &domain.QueueStats{
		ByStatus:   make(map[string]int64),
		ByPriority: make(map[string]int64),
	}

	rows, err := r.pool.Query(ctx, `SELECT status, priority, COUNT(*) FROM requests GROUP BY status, priority`)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, priority string
		var count int64
		if err := rows.Scan(&status, &priority, &count); err != nil {
			return nil, fmt.Errorf("postgres: stats scan failed: %w", err)
		}
		stats.ByStatus[status] += count
		stats.ByPriority[priority] += count
		stats.TotalRequests += count
		if status == string(domain.StatusPending) || status == string(domain.StatusInReview) {
			stats.PendingRequests += count
		}
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: stats iteration error: %w", err)
	}

	// Активность по дням за последнюю неделю
	aRows, err := r.pool.Query(ctx, `
		SELECT TO_CHAR(created_at, 'YYYY-MM-DD') AS day, COUNT(*)
		FROM requests
		WHERE created_at > NOW() - INTERVAL '7 days'
		GROUP BY day ORDER BY day`)
	if err != nil {
		return nil, fmt.Errorf("postgres: activity query failed: %w", err)
	}
	defer aRows.Close()

	for aRows.Next() {
		var p domain.ActivityPoint
		if err := aRows.Scan(&p.Day, &p.Count); err != nil {
			return nil, fmt.Errorf("postgres: activity scan failed: %w", err)
		}
		stats.DailyActivity = append(stats.DailyActivity, p)
	}
	return stats, aRows.Err()
}

// GetFrozenBranches возвращает коды замороженных отделений.
// Используется для прогрева L1 (RAM) кэша FreezeManager при старте.
func (r *RequestRepo) GetFrozenBranches(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT code FROM branches WHERE frozen = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch frozen branches: %w", err)
	}
	defer rows.Close()

	codes := make([]string, 0)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("postgres: scan branch code error: %w", err)
		}
		codes = append(codes, code)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return codes, nil
}

// SetBranchFrozen включает/выключает заморозку отделения.
func (r *RequestRepo) SetBranchFrozen(ctx context.Context, code string, frozen bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE branches SET frozen = $1, updated_at = NOW() WHERE code = $2`, frozen, code)
	if err != nil {
		return fmt.Errorf("postgres: failed to update branch freeze: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: branch %s not found", code)
	}
	return nil
}
