package ledger

import "math"

const (
	// Epsilon is the smallest amount the ledger tracks. Anything below is zero.
	Epsilon = 0.001

	// DefaultExpiration is the age, in periods, at which a batch expires when
	// no commodity specific threshold applies.
	DefaultExpiration = 1.0

	// DefaultMergeThreshold is the age difference (in periods) under which two
	// batches are considered the same batch. 0.01 periods is roughly 7 in-game hours.
	DefaultMergeThreshold = 0.01
)

// Batch is a quantity of one commodity sharing a single age.
type Batch struct {
	// Amount is the quantity held by this batch, in fill units (litres).
	Amount float64 `json:"amount"`

	// AgeInPeriods is how long the batch has existed, in in-game months.
	AgeInPeriods float64 `json:"age"`

	// ExpiredLogged is set once the batch has been written to the loss log.
	// It is transient and never replicated.
	ExpiredLogged bool `json:"-"`
}

// Finite reports whether x is neither NaN nor infinite.
func Finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// New creates a batch of the given amount and age.
func New(amount, age float64) Batch {
	if amount < 0 {
		amount = 0
	}
	if age < 0 {
		age = 0
	}
	return Batch{Amount: amount, AgeInPeriods: age}
}

// Age advances the batch by delta periods.
func (b *Batch) Age(delta float64) {
	b.AgeInPeriods += delta
	if b.AgeInPeriods < 0 {
		b.AgeInPeriods = 0
	}
}

// IsExpired reports whether the batch age has reached threshold.
// A non-positive threshold falls back to DefaultExpiration.
func (b Batch) IsExpired(threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultExpiration
	}
	return b.AgeInPeriods >= threshold
}

// HoursRemaining returns the in-game hours left before the batch expires.
// The result is negative for batches that are already past their threshold.
func (b Batch) HoursRemaining(threshold, daysPerPeriod float64) float64 {
	if threshold <= 0 {
		threshold = DefaultExpiration
	}
	if daysPerPeriod <= 0 {
		daysPerPeriod = 1
	}
	return (threshold - b.AgeInPeriods) * daysPerPeriod * 24
}

// IsNearExpiration reports whether at most warnHours remain before expiry.
// Expired batches are always near expiration.
func (b Batch) IsNearExpiration(warnHours, threshold, daysPerPeriod float64) bool {
	return b.HoursRemaining(threshold, daysPerPeriod) <= warnHours
}

// IsZero reports whether the batch amount is below Epsilon.
func (b Batch) IsZero() bool {
	return b.Amount < Epsilon
}

// sameAge compares ages with the merge tolerance used across the package.
func sameAge(a, b, threshold float64) bool {
	return math.Abs(a-b) <= threshold
}
