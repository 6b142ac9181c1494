package licensekey

import (
	"time"

	"github.com/google/uuid"
)

// DefaultEvaluationDays is the length of a self-registered evaluation.
const DefaultEvaluationDays = 45

// NewEvaluation builds an unsigned evaluation license for product with a fresh
// GUID identity, valid from the day of now for the given number of days.
// A non-positive days uses DefaultEvaluationDays.
func NewEvaluation(product Product, now time.Time, days int) (*Record, error) {
	if days <= 0 {
		days = DefaultEvaluationDays
	}
	return NewBuilder(TypeEvaluation, product).
		WithGUID(uuid.New()).
		SetValidFrom(now).
		SetValidTo(now.AddDate(0, 0, days)).
		SetIssuedAt(now).
		Build()
}
