package transit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tidbyt.dev/transit"
	"tidbyt.dev/transit/model"
)

func departures(secs ...int) []model.Departure {
	deps := []model.Departure{}
	for _, s := range secs {
		deps = append(deps, model.Departure{
			Label:   time.Date(0, 1, 1, 0, 0, s, 0, time.UTC).Format("15:04"),
			Seconds: s,
			Raw:     time.Date(0, 1, 1, 0, 0, s, 0, time.UTC).Format("15:04"),
		})
	}
	return deps
}

// Monday and Saturday, seconds after midnight.
func monday(secs int) time.Time {
	return time.Date(2024, 3, 4, 0, 0, secs, 0, time.UTC)
}

func saturday(secs int) time.Time {
	return time.Date(2024, 3, 9, 0, 0, secs, 0, time.UTC)
}

func TestUpcomingDeparturesBoundary(t *testing.T) {
	rs := &model.RouteSchedule{
		Route:   "1",
		Weekday: map[int][]model.Departure{54: departures(28800, 29700)},
		Weekend: map[int][]model.Departure{},
	}

	up := transit.UpcomingDepartures(rs, 54, monday(29700), 0)
	assert.True(t, up.HasService)
	assert.False(t, up.ServiceEnded)
	assert.Equal(t, []model.UpcomingDeparture{
		{Departure: departures(29700)[0], IsNext: true},
	}, up.Departures)

	up = transit.UpcomingDepartures(rs, 54, monday(29701), 0)
	assert.True(t, up.HasService)
	assert.True(t, up.ServiceEnded)
	assert.Equal(t, []model.UpcomingDeparture{}, up.Departures)
}

func TestUpcomingDeparturesLimit(t *testing.T) {
	rs := &model.RouteSchedule{
		Route:   "1",
		Weekday: map[int][]model.Departure{54: departures(25200, 28800, 32400, 36000)},
	}

	up := transit.UpcomingDepartures(rs, 54, monday(26000), 2)
	assert.Equal(t, []model.UpcomingDeparture{
		{Departure: departures(28800)[0], IsNext: true},
		{Departure: departures(32400)[0], IsNext: false},
	}, up.Departures)

	up = transit.UpcomingDepartures(rs, 54, monday(0), 0)
	assert.Equal(t, 4, len(up.Departures))
	assert.True(t, up.Departures[0].IsNext)
	assert.False(t, up.Departures[3].IsNext)
}

func TestUpcomingDeparturesServiceDay(t *testing.T) {
	rs := &model.RouteSchedule{
		Route:   "1",
		Weekday: map[int][]model.Departure{54: departures(28800)},
		Weekend: map[int][]model.Departure{54: departures(36000), 7: departures(37000)},
	}

	up := transit.UpcomingDepartures(rs, 54, saturday(0), 0)
	assert.Equal(t, model.Weekend, up.ServiceDay)
	assert.Equal(t, 36000, up.Departures[0].Seconds)

	// Sunday is weekend too
	up = transit.UpcomingDepartures(rs, 54, saturday(0).Add(24*time.Hour), 0)
	assert.Equal(t, model.Weekend, up.ServiceDay)

	// Not served on weekdays
	up = transit.UpcomingDepartures(rs, 7, monday(0), 0)
	assert.Equal(t, model.Weekday, up.ServiceDay)
	assert.False(t, up.HasService)
	assert.False(t, up.ServiceEnded)
	assert.Empty(t, up.Departures)

	// No schedule at all
	up = transit.UpcomingDepartures(nil, 54, monday(0), 0)
	assert.False(t, up.HasService)
	assert.False(t, up.ServiceEnded)
}

func TestUpcomingDeparturesLocalTime(t *testing.T) {
	rs := &model.RouteSchedule{
		Route:   "1",
		Weekday: map[int][]model.Departure{54: departures(28800)},
	}

	// 07:30 at UTC-2 is 09:30 UTC
	nuuk := time.FixedZone("Nuuk", -2*3600)
	now := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

	up := transit.UpcomingDepartures(rs, 54, now, 0)
	assert.True(t, up.ServiceEnded)

	up = transit.UpcomingDepartures(rs, 54, now.In(nuuk), 0)
	assert.False(t, up.ServiceEnded)
	assert.Equal(t, "08:00", up.Departures[0].Label)
}

func TestSchedules(t *testing.T) {
	s := transit.NewSchedules()
	s.Add(&model.RouteSchedule{Route: "3"})
	s.Add(&model.RouteSchedule{Route: "1"})

	assert.Equal(t, []string{"1", "3"}, s.Routes())
	assert.Equal(t, "3", s.Route("3").Route)
	assert.Nil(t, s.Route("2"))

	var empty *transit.Schedules
	assert.Nil(t, empty.Route("1"))
	assert.Equal(t, []string{}, empty.Routes())
}
