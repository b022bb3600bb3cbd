package domain

// ThresholdRule — пороговое правило: начиная с какой суммы (включительно)
// в цепочку согласования добавляется роль RequiredRole.
// Инвариант набора правил для пары (тип, валюта): отсортированы по MinAmount
// по возрастанию, не перекрываются и покрывают суммы от нуля без разрывов.
type ThresholdRule struct {
	RequestType  RequestType `json:"request_type" mapstructure:"request_type"`
	Currency     Currency    `json:"currency" mapstructure:"currency"`
	MinAmount    float64     `json:"min_amount" mapstructure:"min_amount"`
	RequiredRole string      `json:"required_role" mapstructure:"required_role"`
}

// WorkflowTemplate — обязательные роли для типа заявки независимо от суммы
// (например, Teller Supervisor -> Branch Manager). Пороговые правила
// добавляют роли сверху для крупных сумм. Читается только из конфигурации.
type WorkflowTemplate struct {
	RequestType RequestType `json:"request_type" mapstructure:"request_type"`
	Roles       []string    `json:"roles" mapstructure:"roles"`
}

// Actor — согласующий, каким его видит движок. Полная модель пользователя
// живет в Identity-сервисе, движку достаточно роли и права override.
type Actor struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	CanOverride bool   `json:"can_override"`
}
