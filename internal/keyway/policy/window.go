// Package policy decides whether a resource may be used at a given instant.
package policy

import (
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/keyway/internal/keyway/types"
)

type Verdict int

const (
	Open Verdict = iota
	Inactive
	Closed
)

func (v Verdict) String() string {
	switch v {
	case Open:
		return "open"
	case Inactive:
		return "inactive"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// TimeWindow evaluates the active flag and weekly schedule of a resource.
// Schedules are read in the resource's own time zone, falling back to
// Location (UTC when nil).
type TimeWindow struct {
	Location *time.Location

	zones sync.Map // name -> *time.Location
}

func NewTimeWindow(loc *time.Location) *TimeWindow {
	return &TimeWindow{Location: loc}
}

var defaultWindow = NewTimeWindow(time.UTC)

// IsAccessible evaluates r at now in UTC unless r names a time zone.
func IsAccessible(r types.Resource, now time.Time) bool {
	return defaultWindow.IsAccessible(r, now)
}

func (p *TimeWindow) IsAccessible(r types.Resource, now time.Time) bool {
	return p.Evaluate(r, now) == Open
}

// Evaluate returns Inactive for a disabled resource, Closed when today's
// window exists and now falls outside it, Open otherwise.
func (p *TimeWindow) Evaluate(r types.Resource, now time.Time) Verdict {
	if !r.Active {
		return Inactive
	}
	local := now.In(p.location(r.TimeZone))
	w, ok := r.OperatingHours.Window(local.Weekday())
	if !ok {
		return Open
	}
	if !w.Contains(local) {
		return Closed
	}
	return Open
}

// Window returns today's window for r at now, if any. Used for error detail.
func (p *TimeWindow) Window(r types.Resource, now time.Time) (types.DayWindow, bool) {
	local := now.In(p.location(r.TimeZone))
	return r.OperatingHours.Window(local.Weekday())
}

func (p *TimeWindow) location(name string) *time.Location {
	fallback := p.Location
	if fallback == nil {
		fallback = time.UTC
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	if v, ok := p.zones.Load(name); ok {
		return v.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		// Unknown zone names evaluate in the fallback zone.
		loc = fallback
	}
	p.zones.Store(name, loc)
	return loc
}
