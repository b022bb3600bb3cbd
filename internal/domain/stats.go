package domain

// QueueStats — счетчики очереди согласования для back-office дашборда.
type QueueStats struct {
	TotalRequests   int64            `json:"total_requests"`
	PendingRequests int64            `json:"pending_requests"`
	OverdueRequests int64            `json:"overdue_requests"` // текущий этап просрочен по SLA
	ByStatus        map[string]int64 `json:"by_status"`
	ByPriority      map[string]int64 `json:"by_priority"`
	DailyActivity   []ActivityPoint  `json:"daily_activity"`
}

type ActivityPoint struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}
