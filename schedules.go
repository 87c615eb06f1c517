package transit

import (
	"sort"
	"time"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/parse"
	"tidbyt.dev/transit/routing"
)

// A route served by the network, with its per route quirks.
type Route struct {
	Name        string
	ScheduleURL string
	Variant     parse.Variant
	Overrides   routing.Overrides
}

// Parsed schedules, keyed by route name.
type Schedules struct {
	byRoute map[string]*model.RouteSchedule
}

func NewSchedules() *Schedules {
	return &Schedules{byRoute: map[string]*model.RouteSchedule{}}
}

func (s *Schedules) Add(rs *model.RouteSchedule) {
	s.byRoute[rs.Route] = rs
}

// Returns nil for unknown routes.
func (s *Schedules) Route(name string) *model.RouteSchedule {
	if s == nil {
		return nil
	}
	return s.byRoute[name]
}

func (s *Schedules) Routes() []string {
	if s == nil {
		return []string{}
	}
	names := make([]string, 0, len(s.byRoute))
	for name := range s.byRoute {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func secondsSinceMidnight(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// Departures from a stop at or after now, in now's location. Doesn't
// wrap into the next day: once the last departure has passed, the
// result has ServiceEnded set and no departures.
//
// If limit is >0, at most limit departures are returned.
func UpcomingDepartures(rs *model.RouteSchedule, stopID int, now time.Time, limit int) model.Upcoming {
	day := model.ServiceDayOf(now)
	upcoming := model.Upcoming{
		StopID:     stopID,
		ServiceDay: day,
		Departures: []model.UpcomingDeparture{},
	}
	if rs == nil {
		return upcoming
	}

	deps := rs.Day(day)[stopID]
	if len(deps) == 0 {
		return upcoming
	}
	upcoming.HasService = true

	secs := secondsSinceMidnight(now)
	for _, d := range deps {
		if d.Seconds < secs {
			continue
		}
		if limit > 0 && len(upcoming.Departures) >= limit {
			break
		}
		upcoming.Departures = append(upcoming.Departures, model.UpcomingDeparture{
			Departure: d,
			IsNext:    len(upcoming.Departures) == 0,
		})
	}

	upcoming.ServiceEnded = len(upcoming.Departures) == 0

	return upcoming
}
