package interpolate

import "time"

// StoreReport bundles the three rolling-window results for one store, in
// the units the CSV artifact expects: minutes for the last hour, hours for
// the last day and last week.
type StoreReport struct {
	StoreID              int64
	UptimeLastHourMin    int64
	UptimeLastDayHr      int64
	UptimeLastWeekHr     int64
	DowntimeLastHourMin  int64
	DowntimeLastDayHr    int64
	DowntimeLastWeekHr   int64
}

// RollingReport runs Window for the last-hour, last-day and last-week
// windows anchored at end, converting each to its reporting unit. The log
// is scanned once per window (three times total), matching the source
// algorithm rather than attempting a single combined pass.
func RollingReport(storeID int64, log []Observation, hours WeeklyHours, end time.Time) StoreReport {
	upH, downH := Window(log, hours, end.Add(-time.Hour), end)
	upD, downD := Window(log, hours, end.Add(-24*time.Hour), end)
	upW, downW := Window(log, hours, end.Add(-7*24*time.Hour), end)

	return StoreReport{
		StoreID:             storeID,
		UptimeLastHourMin:   Minutes(upH),
		UptimeLastDayHr:     Hrs(upD),
		UptimeLastWeekHr:    Hrs(upW),
		DowntimeLastHourMin: Minutes(downH),
		DowntimeLastDayHr:   Hrs(downD),
		DowntimeLastWeekHr:  Hrs(downW),
	}
}
