package scheduler

import (
	"autopublisher/internal/models"
	"time"
)

// NextDue returns the first run strictly after from for the schedule's
// cadence, evaluated in loc. Days of week use time.Weekday numbering
// (0 = Sunday) and filter daily, twice-daily and weekly candidates.
func NextDue(cfg *models.ScheduleConfig, from time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	from = from.In(loc)
	if d, ok := cfg.Cadence.Interval(); ok {
		return from.Add(d)
	}

	hh, mm, hasTime := parseTimeOfDay(cfg.TimeOfDay)
	allowed := func(t time.Time) bool {
		return len(cfg.DaysOfWeek) == 0 || cfg.DaysOfWeek.Contains(int(t.Weekday()))
	}
	at := func(dayOffset, hour int) time.Time {
		return time.Date(from.Year(), from.Month(), from.Day()+dayOffset, hour, mm, 0, 0, loc)
	}

	switch cfg.Cadence {
	case models.CadenceDaily:
		if !hasTime {
			next := from.Add(24 * time.Hour)
			for i := 0; i < 7 && !allowed(next); i++ {
				next = next.Add(24 * time.Hour)
			}
			return next
		}
		for d := 0; d <= 7; d++ {
			if c := at(d, hh); c.After(from) && allowed(c) {
				return c
			}
		}

	case models.CadenceTwiceDaily:
		for d := -1; d <= 8; d++ {
			for _, h := range []int{hh, hh + 12} {
				if c := at(d, h); c.After(from) && allowed(c) {
					return c
				}
			}
		}

	case models.CadenceWeekly:
		if len(cfg.DaysOfWeek) == 0 {
			if !hasTime {
				return from.Add(7 * 24 * time.Hour)
			}
			return at(7, hh)
		}
		for d := 0; d <= 7; d++ {
			if c := at(d, hh); c.After(from) && allowed(c) {
				return c
			}
		}
	}
	return from.Add(cfg.Cadence.Period())
}

func parseTimeOfDay(s string) (int, int, bool) {
	if s == "" {
		return 0, 0, false
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}
