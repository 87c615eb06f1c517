package model

import (
	"fmt"
	"time"
)

// Holds all external facing types and constants.

type MatchQuality string

const (
	MatchExact     MatchQuality = "exact"
	MatchFuzzy     MatchQuality = "fuzzy"
	MatchManual    MatchQuality = "manual"
	MatchUnmatched MatchQuality = "unmatched"
)

func (q MatchQuality) Valid() bool {
	switch q {
	case MatchExact, MatchFuzzy, MatchManual, MatchUnmatched:
		return true
	}
	return false
}

type ServiceDay int

const (
	Weekday ServiceDay = iota
	Weekend
)

func (d ServiceDay) String() string {
	if d == Weekend {
		return "weekend"
	}
	return "weekday"
}

func (d ServiceDay) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *ServiceDay) UnmarshalText(b []byte) error {
	switch string(b) {
	case "weekday":
		*d = Weekday
	case "weekend":
		*d = Weekend
	default:
		return fmt.Errorf("unknown service day '%s'", b)
	}
	return nil
}

// Saturdays and Sundays run the weekend timetable.
func ServiceDayOf(t time.Time) ServiceDay {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return Weekend
	}
	return Weekday
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// A physical stop. Coord is nil only for unmatched stops.
type Stop struct {
	ID      int          `json:"id"`
	Name    string       `json:"name"`
	AltName string       `json:"alt_name,omitempty"`
	Coord   *Coord       `json:"coord"`
	Match   MatchQuality `json:"match"`
}

// Latest normalized snapshot of a vehicle in the live feed.
type Vehicle struct {
	ID              string    `json:"id"`
	FeedKey         string    `json:"feed_key"`
	Route           string    `json:"route"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	UpdatedAt       time.Time `json:"updated_at"`
	Speed           float64   `json:"speed"`
	AtStop          bool      `json:"at_stop"`
	CurrentStopID   *int      `json:"current_stop_id"`
	CurrentStopName *string   `json:"current_stop_name"`
	NextStopID      *int      `json:"next_stop_id"`
	NextStopName    *string   `json:"next_stop_name"`
	Headsign        string    `json:"headsign,omitempty"`
	TripID          string    `json:"trip_id,omitempty"`
	IsStale         bool      `json:"is_stale"`
}

// A single printed departure. Label is zero padded "HH:MM", Raw
// the normalized timecode it was parsed from.
type Departure struct {
	Label   string `json:"label"`
	Seconds int    `json:"seconds"`
	Raw     string `json:"raw"`
}

type ScheduleEntry struct {
	StopID     int         `json:"stop_id"`
	ServiceDay ServiceDay  `json:"service_day"`
	Departures []Departure `json:"departures"`
}

type RouteStopOrder struct {
	Route      string     `json:"route"`
	ServiceDay ServiceDay `json:"service_day"`
	StopIDs    []int      `json:"stop_ids"`
}

type StopOrder struct {
	Weekday []int `json:"weekday"`
	Weekend []int `json:"weekend"`
}

// Parsed timetable of a single route.
type RouteSchedule struct {
	Route     string              `json:"route"`
	Weekday   map[int][]Departure `json:"weekday"`
	Weekend   map[int][]Departure `json:"weekend"`
	StopOrder StopOrder           `json:"stop_order"`

	// Column labels that could not be resolved to a stop.
	Unresolved []string `json:"unresolved,omitempty"`
}

func (rs *RouteSchedule) Day(day ServiceDay) map[int][]Departure {
	if day == Weekend {
		return rs.Weekend
	}
	return rs.Weekday
}

func (rs *RouteSchedule) Order(day ServiceDay) RouteStopOrder {
	ids := rs.StopOrder.Weekday
	if day == Weekend {
		ids = rs.StopOrder.Weekend
	}
	return RouteStopOrder{Route: rs.Route, ServiceDay: day, StopIDs: ids}
}

// Departures of a stop as a ScheduleEntry. Returns nil if the stop
// isn't served on the given day.
func (rs *RouteSchedule) Entry(stopID int, day ServiceDay) *ScheduleEntry {
	deps, found := rs.Day(day)[stopID]
	if !found {
		return nil
	}
	return &ScheduleEntry{StopID: stopID, ServiceDay: day, Departures: deps}
}

type UpcomingDeparture struct {
	Departure
	IsNext bool `json:"is_next"`
}

// Result of an upcoming departures lookup. ServiceEnded is set when
// the stop is served on the day, but the last departure has passed.
type Upcoming struct {
	StopID       int                 `json:"stop_id"`
	ServiceDay   ServiceDay          `json:"service_day"`
	HasService   bool                `json:"has_service"`
	ServiceEnded bool                `json:"service_ended"`
	Departures   []UpcomingDeparture `json:"departures"`
}
