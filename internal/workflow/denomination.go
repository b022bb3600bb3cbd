package workflow

import (
	"fmt"
	"math"
	"sort"

	"github.com/keovoin/wing-cash-movement-system-sub000/internal/domain"
)

// Reconciler сверяет раскладку наличности по номиналам с целевой суммой
// и умеет строить раскладку автоматически.
//
// Автораскладка — жадный алгоритм «от крупного номинала к мелкому».
// Для произвольных наборов номиналов жадность не оптимальна, но реальные
// наборы купюр USD и KHR канонические, для них результат корректен и
// минимален по числу купюр. Это НЕ общий решатель coin change.
type Reconciler struct{}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Наборы купюр, с которыми физически работают кассы.
var (
	USDFaceValues = []int{100, 50, 20, 10, 5, 1}
	KHRFaceValues = []int{100000, 50000, 20000, 10000, 5000, 2000, 1000, 500}
)

// FaceValuesFor возвращает штатный набор номиналов валюты.
func FaceValuesFor(currency domain.Currency) []int {
	if currency == domain.CurrencyKHR {
		return KHRFaceValues
	}
	return USDFaceValues
}

// Validate сверяет раскладку с целевой суммой. Расхождение — не ошибка,
// а предупреждение кассиру: возвращаем флаг и разницу (цель минус раскладка).
func (r *Reconciler) Validate(breakdown domain.DenominationBreakdown, target domain.Money) (bool, domain.Money, error) {
	if err := target.Validate(); err != nil {
		return false, domain.Money{}, err
	}
	for face, count := range breakdown {
		if face <= 0 {
			return false, domain.Money{}, fmt.Errorf("%w: invalid face value %d", domain.ErrValidationFailed, face)
		}
		if count < 0 {
			return false, domain.Money{}, fmt.Errorf("%w: negative note count for face %d", domain.ErrValidationFailed, face)
		}
	}

	diff := domain.Money{
		Amount:   target.Amount - breakdown.Total(),
		Currency: target.Currency,
	}.Round()

	matches := math.Abs(diff.Amount) <= target.Currency.Epsilon()
	if matches {
		diff.Amount = 0
	}
	return matches, diff, nil
}

// AutoCalculate строит раскладку жадно: floor(остаток/номинал) купюр
// самого крупного номинала, затем следующий. Для USD остаток после
// каждого шага перезаокругляется до 2 знаков, чтобы не копить
// плавающий дрейф.
func (r *Reconciler) AutoCalculate(target domain.Money, faceValues []int) (domain.DenominationBreakdown, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if len(faceValues) == 0 {
		faceValues = FaceValuesFor(target.Currency)
	}

	faces := make([]int, len(faceValues))
	copy(faces, faceValues)
	sort.Sort(sort.Reverse(sort.IntSlice(faces)))
	for _, f := range faces {
		if f <= 0 {
			return nil, fmt.Errorf("%w: invalid face value %d", domain.ErrValidationFailed, f)
		}
	}

	breakdown := make(domain.DenominationBreakdown, len(faces))
	remaining := target.Round().Amount

	for _, face := range faces {
		if remaining <= 0 {
			break
		}
		count := int(math.Floor(remaining / float64(face)))
		if count <= 0 {
			continue
		}
		breakdown[face] = count
		remaining -= float64(count) * float64(face)
		remaining = domain.Money{Amount: remaining, Currency: target.Currency}.Round().Amount
	}

	return breakdown, nil
}
