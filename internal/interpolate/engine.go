// Package interpolate implements the uptime/downtime interpolation
// algorithm: turning a sparse, irregularly sampled status log into
// durations bounded to a store's local business hours.
//
// The engine is pure: no I/O, no clock access, no shared state. Calling
// Window twice with the same arguments always returns the same result.
package interpolate

import (
	"time"
)

// Observation is one sample of a store's status, carrying both the UTC
// instant it was recorded at and that instant projected into the store's
// local timezone.
type Observation struct {
	StoreID   int64
	IsOpen    bool
	TimeUTC   time.Time
	TimeLocal time.Time
}

// Hours gives the local open/close time-of-day for a single day of week,
// where 0 is Sunday per time.Weekday. Open and Close are compared using
// only their hour/minute/second-of-day component.
type Hours struct {
	Open  time.Duration // offset from local midnight
	Close time.Duration
}

// DefaultHours is substituted for any day of week missing from a store's
// declared business hours: always open.
var DefaultHours = Hours{Open: 0, Close: 23*time.Hour + 59*time.Minute}

// WeeklyHours maps time.Weekday (0=Sunday .. 6=Saturday) to that day's
// local open/close window. Window fills missing entries with DefaultHours
// (via Fill) before gating, so a partial map is always safe to pass.
type WeeklyHours map[time.Weekday]Hours

// Fill returns a copy of h with every day of the week present, defaulting
// absent days to DefaultHours.
func (h WeeklyHours) Fill() WeeklyHours {
	filled := make(WeeklyHours, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if hrs, ok := h[d]; ok {
			filled[d] = hrs
		} else {
			filled[d] = DefaultHours
		}
	}
	return filled
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second
}

func withinHours(t time.Time, hrs Hours) bool {
	tod := timeOfDay(t)
	return hrs.Open <= tod && tod <= hrs.Close
}

// Window computes how much of [start, end) was spent up vs. down, counting
// only the portions that fall inside the store's local business hours.
//
// Observations before start are dropped first. The delta between two
// consecutive observations is attributed to the state the store was in for
// the *whole* interval, which is the earlier observation's status (prev);
// whether that delta counts at all is gated on the *later* observation's
// (cur's) local day-of-week and time-of-day. This asymmetry — gate on cur,
// attribute to prev — is deliberate: a transition's own instant already
// belongs to the new state, so the interval leading up to it is scored
// against the state that held throughout it, while still requiring that
// the end of the interval falls inside business hours to count at all.
//
// The final interval, from the last observation to end, is attributed to
// that observation's status unconditionally — it is not gated against
// business hours. Observations at or after end are still consumed (they
// can become the new "last observation" and shrink or grow that final
// interval); callers who want a hard clip at end must filter the log
// themselves before calling Window.
func Window(log []Observation, hours WeeklyHours, start, end time.Time) (uptime, downtime time.Duration) {
	filled := hours.Fill()

	filtered := make([]Observation, 0, len(log))
	for _, o := range log {
		if !o.TimeUTC.Before(start) {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return 0, 0
	}

	prev := filtered[0]
	for _, cur := range filtered[1:] {
		hrs := filled[cur.TimeLocal.Weekday()]
		if withinHours(cur.TimeLocal, hrs) {
			delta := cur.TimeUTC.Sub(prev.TimeUTC)
			if prev.IsOpen {
				uptime += delta
			} else {
				downtime += delta
			}
		}
		prev = cur
	}

	tail := end.Sub(prev.TimeUTC)
	if prev.IsOpen {
		uptime += tail
	} else {
		downtime += tail
	}

	return uptime, downtime
}

// Minutes floors a duration down to whole minutes, per the rolling-hour
// report column unit.
func Minutes(d time.Duration) int64 {
	return int64(d / time.Minute)
}

// Hrs floors a duration down to whole hours, per the rolling-day/week
// report column unit.
func Hrs(d time.Duration) int64 {
	return int64(d / time.Hour)
}
