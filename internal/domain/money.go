package domain

import (
	"fmt"
	"math"
)

// Currency — валюты, с которыми работают отделения Wing.
// KHR (риель) не имеет дробной части, USD считается до цента.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyKHR Currency = "KHR"
)

// Epsilon возвращает допустимую погрешность сверки для валюты.
// Для риеля любое расхождение — ошибка, для доллара допускаем цент
// (плавающая арифметика при пересчете номиналов).
func (c Currency) Epsilon() float64 {
	if c == CurrencyUSD {
		return 0.01
	}
	return 0
}

// FractionDigits количество знаков после запятой в валюте.
func (c Currency) FractionDigits() int {
	if c == CurrencyUSD {
		return 2
	}
	return 0
}

// IsValid проверяет, что валюта нам известна.
func (c Currency) IsValid() bool {
	return c == CurrencyUSD || c == CurrencyKHR
}

// Money — денежная сумма в конкретной валюте.
// Инвариант: Amount >= 0. Отрицательные суммы в заявках не существуют,
// направление движения наличности задается типом заявки, а не знаком.
type Money struct {
	Amount   float64  `json:"amount"`
	Currency Currency `json:"currency"`
}

// Round приводит сумму к точности валюты (2 знака USD, 0 знаков KHR).
func (m Money) Round() Money {
	shift := math.Pow(10, float64(m.Currency.FractionDigits()))
	m.Amount = math.Round(m.Amount*shift) / shift
	return m
}

// Validate проверяет базовые инварианты суммы.
func (m Money) Validate() error {
	if !m.Currency.IsValid() {
		return fmt.Errorf("%w: unsupported currency %q", ErrValidationFailed, m.Currency)
	}
	if m.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrValidationFailed)
	}
	return nil
}

func (m Money) String() string {
	if m.Currency == CurrencyKHR {
		return fmt.Sprintf("%.0f KHR", m.Amount)
	}
	return fmt.Sprintf("%.2f USD", m.Amount)
}
