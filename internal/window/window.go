package window

import (
	"fmt"
	"time"
)

const (
	DefaultZone      = "Europe/Warsaw"
	DefaultStartHour = 9
	DefaultEndHour   = 18
)

// Policy decides whether a wall-clock instant falls inside the permitted
// run window: a weekday whose hour-of-day lies in the closed interval
// [start, end], evaluated in a fixed civil-time zone.
//
// Allows must be re-evaluated on every scheduling decision; the answer is
// a pure function of the instant and is never cached.
type Policy struct {
	zone  *time.Location
	start int
	end   int
}

// NewPolicy resolves the zone and validates the hour interval. Missing zone
// data is a fatal startup condition for callers, not a per-tick one.
func NewPolicy(zoneName string, startHour, endHour int) (*Policy, error) {
	if zoneName == "" {
		zoneName = DefaultZone
	}
	zone, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", zoneName, err)
	}
	if startHour < 0 || startHour > 23 || endHour < 0 || endHour > 23 {
		return nil, fmt.Errorf("window hours out of range: %d-%d", startHour, endHour)
	}
	if startHour > endHour {
		return nil, fmt.Errorf("window start %d after end %d", startHour, endHour)
	}
	return &Policy{zone: zone, start: startHour, end: endHour}, nil
}

// Default returns the policy for the standard business-hours window.
func Default() (*Policy, error) {
	return NewPolicy(DefaultZone, DefaultStartHour, DefaultEndHour)
}

// Allows reports whether execution is permitted at the given instant.
func (p *Policy) Allows(now time.Time) bool {
	local := now.In(p.zone)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	h := local.Hour()
	return h >= p.start && h <= p.end
}

// Zone exposes the policy's location so callers can log local timestamps.
func (p *Policy) Zone() *time.Location {
	return p.zone
}

func (p *Policy) String() string {
	return fmt.Sprintf("%s %02d-%02d Mon-Fri", p.zone, p.start, p.end)
}
