package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day (minute precision). The zero value means
// "no time", which is how all-day events are represented.
type Clock struct {
	minutes int
	set     bool
}

// At returns the clock time h:m. It panics on out-of-range values.
func At(h, m int) Clock {
	if h < 0 || h > 23 || m < 0 || m > 59 {
		panic(fmt.Sprintf("model: invalid clock %02d:%02d", h, m))
	}
	return Clock{minutes: h*60 + m, set: true}
}

// ClockOf returns the wall-clock time of t.
func ClockOf(t time.Time) Clock {
	return At(t.Hour(), t.Minute())
}

// ParseClock accepts "HHMM" (the schedule's native form) or "HH:MM".
func ParseClock(s string) (Clock, error) {
	v := strings.ReplaceAll(strings.TrimSpace(s), ":", "")
	if len(v) != 4 {
		return Clock{}, fmt.Errorf("invalid time format: %q", s)
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return Clock{}, fmt.Errorf("invalid time format: %q", s)
	}
	h, m := n/100, n%100
	if h > 23 || m > 59 {
		return Clock{}, fmt.Errorf("invalid time format: %q", s)
	}
	return At(h, m), nil
}

// MustClock is ParseClock for literals; it panics on error.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) IsSet() bool { return c.set }
func (c Clock) Hour() int   { return c.minutes / 60 }
func (c Clock) Minute() int { return c.minutes % 60 }

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int { return c.minutes }

// Compare orders unset clocks before every set clock.
func (c Clock) Compare(o Clock) int {
	if c.set != o.set {
		if !c.set {
			return -1
		}
		return 1
	}
	return cmpInt(c.minutes, o.minutes)
}

// On combines the clock with a date in loc.
func (c Clock) On(d Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour(), c.Minute(), 0, 0, loc)
}

// HHMM renders the schedule's native form, e.g. "0830".
func (c Clock) HHMM() string {
	if !c.set {
		return ""
	}
	return fmt.Sprintf("%02d%02d", c.Hour(), c.Minute())
}

func (c Clock) String() string {
	if !c.set {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c Clock) MarshalJSON() ([]byte, error) {
	if !c.set {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(c.HHMM())), nil
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*c = Clock{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	if s == "" {
		*c = Clock{}
		return nil
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
