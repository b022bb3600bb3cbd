package audit

import "time"

// DecisionEvent — запись аудита одного действия над заявкой.
// Пишется на каждый переход State Machine, включая отказные
// (кто пытался, что не получилось).
type DecisionEvent struct {
	ID        string `json:"id"`         // UUID события
	TraceID   string `json:"trace_id"`   // Сквозной ID запроса
	RequestID string `json:"request_id"` // Заявка
	Branch    string `json:"branch"`     // Отделение заявки

	ActorID   string `json:"actor_id"`  // Кто действовал
	ActorRole string `json:"actor_role"`

	// Что именно произошло
	Operation     string `json:"operation"` // submit / decide / escalate / cancel / bulk
	Decision      string `json:"decision"`  // approve / reject / delegate (для decide)
	StageSequence int    `json:"stage_sequence"`
	StageRole     string `json:"stage_role"`
	Comment       string `json:"comment"`

	// Результат
	Status     string    `json:"status"` // "APPLIED" или "FAILED"
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
}
