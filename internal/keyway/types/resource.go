package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxDurationMinutes is the upper bound for any credential lifetime.
const MaxDurationMinutes = 1440

// ClockTime is a wall-clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" (24h).
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q", s)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) Minutes() int { return c.Hour*60 + c.Minute }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// DayWindow is the open interval for one weekday. Both ends are inclusive.
type DayWindow struct {
	Start ClockTime
	End   ClockTime
}

// Contains reports whether t's time of day lies within the window.
func (w DayWindow) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	return m >= w.Start.Minutes() && m <= w.End.Minutes()
}

// OperatingHours holds an optional window per weekday, indexed by
// time.Weekday. A nil entry means the resource is open all day.
type OperatingHours [7]*DayWindow

var weekdayKeys = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// Window returns the window for d, if one is defined.
func (h OperatingHours) Window(d time.Weekday) (DayWindow, bool) {
	w := h[d]
	if w == nil {
		return DayWindow{}, false
	}
	return *w, true
}

// Set defines the window for d.
func (h *OperatingHours) Set(d time.Weekday, start, end ClockTime) {
	h[d] = &DayWindow{Start: start, End: end}
}

type dayWindowJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MarshalJSON encodes as {"mon":{"start":"09:00","end":"17:00"}, ...},
// omitting unrestricted days.
func (h OperatingHours) MarshalJSON() ([]byte, error) {
	out := make(map[string]dayWindowJSON)
	for d, w := range h {
		if w == nil {
			continue
		}
		out[weekdayKeys[d]] = dayWindowJSON{Start: w.Start.String(), End: w.End.String()}
	}
	return json.Marshal(out)
}

func (h *OperatingHours) UnmarshalJSON(b []byte) error {
	var in map[string]*dayWindowJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	var parsed OperatingHours
	for key, w := range in {
		if w == nil {
			continue
		}
		d, ok := weekdayFromKey(key)
		if !ok {
			return fmt.Errorf("unknown weekday %q", key)
		}
		start, err := ParseClockTime(w.Start)
		if err != nil {
			return err
		}
		end, err := ParseClockTime(w.End)
		if err != nil {
			return err
		}
		parsed.Set(d, start, end)
	}
	*h = parsed
	return nil
}

func weekdayFromKey(key string) (time.Weekday, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if len(key) > 3 {
		key = key[:3]
	}
	for i, k := range weekdayKeys {
		if k == key {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

// Resource is a lockable space.
type Resource struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Address            string         `json:"address,omitempty"`
	LockID             string         `json:"lockId"`
	Active             bool           `json:"active"`
	OperatingHours     OperatingHours `json:"operatingHours"`
	MaxDurationMinutes int            `json:"maxDurationMinutes"`
	TimeZone           string         `json:"timeZone,omitempty"`

	// OTPSecret is the shared TOTP secret. It is never the lock id.
	OTPSecret []byte `json:"-"`
}

// EffectiveMaxDuration returns the resource cap, falling back to the
// global maximum when the stored value is out of range.
func (r Resource) EffectiveMaxDuration() int {
	if r.MaxDurationMinutes < 1 || r.MaxDurationMinutes > MaxDurationMinutes {
		return MaxDurationMinutes
	}
	return r.MaxDurationMinutes
}

// ResourceSummary is the public view returned to callers.
type ResourceSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

func (r Resource) Summary() ResourceSummary {
	return ResourceSummary{ID: r.ID, Name: r.Name, Address: r.Address}
}
