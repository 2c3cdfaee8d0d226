package interpolate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func allDayHours() WeeklyHours {
	return WeeklyHours{}
}

func obs(storeID int64, open bool, loc *time.Location, ts string) Observation {
	t := utc(ts)
	return Observation{
		StoreID:   storeID,
		IsOpen:    open,
		TimeUTC:   t,
		TimeLocal: t.In(loc),
	}
}

func TestWindow_SingleObservationFullHourOpen(t *testing.T) {
	anchor := utc("2024-01-01T12:00:00Z")
	log := []Observation{
		obs(1, true, time.UTC, "2024-01-01T12:00:00Z"),
	}

	up, down := Window(log, allDayHours(), anchor.Add(-time.Hour), anchor)

	assert.Equal(t, time.Duration(0), up)
	assert.Equal(t, time.Duration(0), down)
}

func TestWindow_TwoOpposingObservationsInsideHours(t *testing.T) {
	base := utc("2024-01-01T12:00:00Z")
	log := []Observation{
		obs(1, false, time.UTC, base.Format(time.RFC3339)),
		obs(1, true, time.UTC, base.Add(600*time.Second).Format(time.RFC3339)),
	}
	anchor := base.Add(1200 * time.Second)

	up, down := Window(log, allDayHours(), anchor.Add(-time.Hour), anchor)

	assert.Equal(t, 10*time.Minute, up)
	assert.Equal(t, 10*time.Minute, down)
}

func TestWindow_ObservationOutsideBusinessHours(t *testing.T) {
	loc := time.UTC
	hours := WeeklyHours{
		time.Monday: {Open: 9 * time.Hour, Close: 17 * time.Hour},
	}
	log := []Observation{
		obs(1, true, loc, "2024-01-08T05:00:00Z"),  // Monday
		obs(1, false, loc, "2024-01-08T06:00:00Z"), // Monday
	}
	anchor := utc("2024-01-08T17:30:00Z")

	up, down := Window(log, hours, anchor.Add(-24*time.Hour), anchor)

	assert.Equal(t, time.Duration(0), up)
	assert.Equal(t, 11*time.Hour, down.Truncate(time.Hour))
	assert.Equal(t, int64(0), Hrs(up))
	assert.Equal(t, int64(11), Hrs(down))
}

func TestWindow_EmptyLogYieldsZero(t *testing.T) {
	anchor := utc("2024-01-01T12:00:00Z")
	up, down := Window(nil, allDayHours(), anchor.Add(-time.Hour), anchor)
	assert.Zero(t, up)
	assert.Zero(t, down)
}

func TestWindow_ObservationsBeforeStartAreDropped(t *testing.T) {
	base := utc("2024-01-01T12:00:00Z")
	log := []Observation{
		obs(1, true, time.UTC, base.Add(-2*time.Hour).Format(time.RFC3339)), // dropped
		obs(1, false, time.UTC, base.Format(time.RFC3339)),
	}
	up, down := Window(log, allDayHours(), base.Add(-time.Hour), base.Add(time.Hour))
	// only the down observation survives the start filter; tail = 1h down.
	assert.Zero(t, up)
	assert.Equal(t, time.Hour, down)
}

func TestWindow_ObservationsAfterEndStillExtendTail(t *testing.T) {
	base := utc("2024-01-01T12:00:00Z")
	end := base.Add(30 * time.Minute)
	log := []Observation{
		obs(1, true, time.UTC, base.Format(time.RFC3339)),
		// this observation lands after `end` but is still consumed, per spec:
		// it becomes `prev` and the tail is computed from it, not from `end`'s
		// nearest preceding sample.
		obs(1, false, time.UTC, base.Add(time.Hour).Format(time.RFC3339)),
	}
	up, down := Window(log, allDayHours(), base.Add(-time.Hour), end)

	// loop: delta = 1h between the two observations, attributed to prev (open) -> uptime.
	assert.Equal(t, time.Hour, up)
	// tail = end - prev.TimeUTC is negative (end is before the final observation),
	// attributed to prev's (down) status; Go's time.Duration can be negative.
	assert.True(t, down < 0)
}

func TestWindow_PurityAndDeterminism(t *testing.T) {
	base := utc("2024-01-01T12:00:00Z")
	log := []Observation{
		obs(1, false, time.UTC, base.Format(time.RFC3339)),
		obs(1, true, time.UTC, base.Add(10*time.Minute).Format(time.RFC3339)),
	}
	hours := allDayHours()
	up1, down1 := Window(log, hours, base.Add(-time.Hour), base.Add(time.Hour))
	up2, down2 := Window(log, hours, base.Add(-time.Hour), base.Add(time.Hour))
	require.Equal(t, up1, up2)
	require.Equal(t, down1, down2)
}

func TestWeeklyHours_FillDefaultsMissingDays(t *testing.T) {
	h := WeeklyHours{time.Monday: {Open: time.Hour, Close: 2 * time.Hour}}
	filled := h.Fill()
	require.Len(t, filled, 7)
	assert.Equal(t, DefaultHours, filled[time.Tuesday])
	assert.Equal(t, Hours{Open: time.Hour, Close: 2 * time.Hour}, filled[time.Monday])
}

func TestRollingReport_UnitsAndFloor(t *testing.T) {
	base := utc("2024-01-01T00:00:00Z")
	log := []Observation{
		obs(1, true, time.UTC, base.Format(time.RFC3339)),
	}
	end := base.Add(90 * time.Second) // 1.5 minutes of tail uptime for last-hour window
	report := RollingReport(1, log, allDayHours(), end)

	assert.Equal(t, int64(1), report.UptimeLastHourMin) // floor(90s/60) = 1
}
