package dashboard

import (
	"fmt"
	"strings"
	"time"

	"pdv/backend/internal/store"
)

const dateLayout = "2006-01-02"

// Period is an inclusive range of whole local days.
type Period struct {
	From time.Time
	To   time.Time
}

// ParsePeriod reads YYYY-MM-DD bounds in now's location. A blank bound
// defaults to today. From starts at 00:00:00.000 and To ends at
// 23:59:59.999.
func ParsePeriod(start string, end string, now time.Time) (Period, error) {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	startDay, err := parseDay(start, today, loc)
	if err != nil {
		return Period{}, fmt.Errorf("%w: start: %v", store.ErrInvalid, err)
	}
	endDay, err := parseDay(end, today, loc)
	if err != nil {
		return Period{}, fmt.Errorf("%w: end: %v", store.ErrInvalid, err)
	}
	if startDay.After(endDay) {
		return Period{}, fmt.Errorf("%w: start %s is after end %s", store.ErrInvalid, startDay.Format(dateLayout), endDay.Format(dateLayout))
	}

	return Period{
		From: startDay,
		To:   endDay.AddDate(0, 0, 1).Add(-time.Millisecond),
	}, nil
}

func parseDay(raw string, fallback time.Time, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	return time.ParseInLocation(dateLayout, raw, loc)
}

func (p Period) StartDate() string {
	return p.From.Format(dateLayout)
}

func (p Period) EndDate() string {
	return p.To.Format(dateLayout)
}

func (p Period) cacheKey() string {
	return p.StartDate() + "|" + p.EndDate()
}

func monthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
}
