package domain

import "errors"

// Типизированные ошибки движка. Хендлеры мапят их в HTTP-коды,
// BulkActionCoordinator превращает в поштучные результаты.
var (
	// Конфигурационные дефекты. Ловятся при загрузке таблиц,
	// на request-time означают фатальную рассинхронизацию конфига.
	ErrUnknownRequestType    = errors.New("unknown request type")
	ErrNoApplicableThreshold = errors.New("threshold rules do not cover amount")

	// Ошибки действий актора — возвращаются в UI как есть.
	ErrValidationFailed        = errors.New("request validation failed")
	ErrNotCurrentApprover      = errors.New("actor is not the current stage approver")
	ErrRequestAlreadyFinalized = errors.New("request already finalized")
	ErrMissingComment          = errors.New("decision comment is required")
	ErrNotAuthorized           = errors.New("actor is not authorized for this operation")

	// Инфраструктура. Внутреннее состояние заявки при этом не повреждено:
	// переход либо полностью применен до вызова зависимости, либо откатан.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	ErrRequestNotFound = errors.New("request not found")
	ErrBranchFrozen    = errors.New("branch is frozen by back office")
)
