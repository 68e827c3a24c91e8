package registry

import (
	"math"
	"sync"
)

// PeriodsPerYear is the number of in-game months in a year.
const PeriodsPerYear = 12

// GameTime is a point on the in-game calendar.
type GameTime struct {
	Year        int16 `json:"year"`
	Period      uint8 `json:"period"`
	DayInPeriod uint8 `json:"day_in_period"`
	Hour        uint8 `json:"hour"`
}

// Clock tracks in-game time as elapsed hours since year 1, period 1, day 1.
type Clock struct {
	mu            sync.RWMutex
	daysPerPeriod int
	hours         float64
}

// NewClock creates a clock. daysPerPeriod below 1 becomes 1.
func NewClock(daysPerPeriod int) *Clock {
	if daysPerPeriod < 1 {
		daysPerPeriod = 1
	}
	return &Clock{daysPerPeriod: daysPerPeriod}
}

// DaysPerPeriod returns the calendar length of one period.
func (c *Clock) DaysPerPeriod() float64 {
	return float64(c.daysPerPeriod)
}

// HoursToPeriods converts in-game hours to periods.
func (c *Clock) HoursToPeriods(hours float64) float64 {
	return hours / (c.DaysPerPeriod() * 24)
}

// Advance moves the clock forward. Non-positive and non-finite steps are ignored.
func (c *Clock) Advance(hours float64) {
	if !(hours > 0) || math.IsInf(hours, 1) {
		return
	}
	c.mu.Lock()
	c.hours += hours
	c.mu.Unlock()
}

// Hours returns total elapsed hours.
func (c *Clock) Hours() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hours
}

// Set restores elapsed hours, used when loading persisted state.
func (c *Clock) Set(hours float64) {
	c.mu.Lock()
	c.hours = math.Max(0, hours)
	c.mu.Unlock()
}

// Now returns the current calendar position.
func (c *Clock) Now() GameTime {
	total := int64(c.Hours())
	hoursPerPeriod := int64(c.daysPerPeriod) * 24
	periods := total / hoursPerPeriod
	inPeriod := total % hoursPerPeriod
	return GameTime{
		Year:        int16(periods/PeriodsPerYear) + 1,
		Period:      uint8(periods%PeriodsPerYear) + 1,
		DayInPeriod: uint8(inPeriod/24) + 1,
		Hour:        uint8(inPeriod % 24),
	}
}
