package parse

import (
	"encoding/csv"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/resolve"
)

// Leading keywords recognized in the first column of a timetable.
type Format struct {
	WeekdayKeywords []string
	WeekendKeywords []string
	HeaderKeywords  []string
}

func DefaultFormat() Format {
	return Format{
		WeekdayKeywords: []string{"weekday", "weekdays", "hverdage", "ulloq", "mon-fri"},
		WeekendKeywords: []string{"weekend", "saturday", "sunday", "holiday", "weekend/holiday", "lørdag", "søndag", "sapaat"},
		HeaderKeywords:  []string{"round trip", "rundtur", "tur"},
	}
}

// Per route quirks. Aliases map timetable labels to registry names
// and are matched on normalized form.
type Variant struct {
	Timecode TimecodeParser
	Aliases  map[string]string
	Format   *Format
}

var ordinalPrefix = regexp.MustCompile(`^\s*\d+\s*[.)]\s*`)

// Strips the "3. " off "3. Name".
func StripOrdinal(label string) string {
	return strings.TrimSpace(ordinalPrefix.ReplaceAllString(label, ""))
}

type scheduleScan struct {
	route    string
	resolver resolve.Resolver
	timecode TimecodeParser
	format   Format
	aliases  map[string]string

	day        model.ServiceDay
	columns    []int
	seenDay    map[model.ServiceDay]bool
	buckets    map[model.ServiceDay]map[int][]model.Departure
	order      map[model.ServiceDay][]int
	inOrder    map[model.ServiceDay]map[int]bool
	unresolved []string
}

// Parses a loosely structured timetable CSV into per stop
// departures for weekday and weekend service.
//
// Rows are classified by their first column: a service day keyword
// switches day and forgets the header, a header keyword introduces
// stop labels (column 2 onwards), and a plain integer marks a trip
// with one time per stop column. Anything else is ignored, as are
// cells that don't parse as times and columns whose label can't be
// resolved.
func ParseSchedule(
	route string,
	data io.Reader,
	resolver resolve.Resolver,
	variant Variant,
) (*model.RouteSchedule, error) {

	s := &scheduleScan{
		route:    route,
		resolver: resolver,
		timecode: variant.Timecode,
		format:   DefaultFormat(),
		aliases:  map[string]string{},
		day:      model.Weekday,
		seenDay:  map[model.ServiceDay]bool{},
		buckets: map[model.ServiceDay]map[int][]model.Departure{
			model.Weekday: {},
			model.Weekend: {},
		},
		order: map[model.ServiceDay][]int{},
		inOrder: map[model.ServiceDay]map[int]bool{
			model.Weekday: {},
			model.Weekend: {},
		},
	}
	if s.timecode == nil {
		s.timecode = TimecodeDefault
	}
	if variant.Format != nil {
		s.format = *variant.Format
	}
	for from, to := range variant.Aliases {
		s.aliases[resolve.Normalize(from)] = to
	}

	reader := gocsv.LazyCSVReader(bom.NewReader(data))
	if r, ok := reader.(*csv.Reader); ok {
		r.FieldsPerRecord = -1
	}

	for i := 0; ; i++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil && !errors.Is(err, csv.ErrFieldCount) {
			return nil, errors.Wrapf(err, "reading row %d", i+1)
		}
		s.row(row)
	}

	return s.result(), nil
}

func (s *scheduleScan) row(row []string) {
	if len(row) == 0 {
		return
	}
	first := strings.TrimSpace(row[0])

	if _, err := strconv.Atoi(first); err == nil {
		s.trip(row)
		return
	}

	lower := strings.ToLower(first)

	if hasKeyword(lower, s.format.WeekendKeywords) {
		s.switchDay(model.Weekend)
		return
	}
	if hasKeyword(lower, s.format.WeekdayKeywords) {
		s.switchDay(model.Weekday)
		return
	}
	if hasKeyword(lower, s.format.HeaderKeywords) {
		s.header(row)
	}
}

// True if s starts with one of the keywords, followed by a non
// letter or nothing.
func hasKeyword(s string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if !strings.HasPrefix(s, kw) {
			continue
		}
		rest := s[len(kw):]
		if rest == "" {
			return true
		}
		for _, r := range rest {
			if !unicode.IsLetter(r) {
				return true
			}
			break
		}
	}
	return false
}

func (s *scheduleScan) switchDay(day model.ServiceDay) {
	s.day = day
	s.seenDay[day] = true
	s.columns = nil
}

func (s *scheduleScan) header(row []string) {
	s.columns = make([]int, len(row))
	s.columns[0] = -1

	for j := 1; j < len(row); j++ {
		s.columns[j] = -1

		label := StripOrdinal(row[j])
		if label == "" {
			continue
		}
		if alias, found := s.aliases[resolve.Normalize(label)]; found {
			label = alias
		}

		if s.resolver == nil {
			s.addUnresolved(label)
			continue
		}
		id, ok := s.resolver.Resolve(label)
		if !ok {
			s.addUnresolved(label)
			continue
		}

		s.columns[j] = id
		if !s.inOrder[s.day][id] {
			s.inOrder[s.day][id] = true
			s.order[s.day] = append(s.order[s.day], id)
		}
	}
}

func (s *scheduleScan) addUnresolved(label string) {
	for _, u := range s.unresolved {
		if u == label {
			return
		}
	}
	s.unresolved = append(s.unresolved, label)
}

func (s *scheduleScan) trip(row []string) {
	if s.columns == nil {
		return
	}
	s.seenDay[s.day] = true

	for j := 1; j < len(row) && j < len(s.columns); j++ {
		id := s.columns[j]
		if id < 0 {
			continue
		}
		dep, ok := s.timecode(row[j])
		if !ok {
			continue
		}
		s.buckets[s.day][id] = append(s.buckets[s.day][id], dep)
	}
}

func (s *scheduleScan) result() *model.RouteSchedule {
	for _, bucket := range s.buckets {
		for id, deps := range bucket {
			bucket[id] = dedupeDepartures(deps)
		}
	}

	rs := &model.RouteSchedule{
		Route:   s.route,
		Weekday: s.buckets[model.Weekday],
		Weekend: s.buckets[model.Weekend],
		StopOrder: model.StopOrder{
			Weekday: s.order[model.Weekday],
			Weekend: s.order[model.Weekend],
		},
		Unresolved: s.unresolved,
	}
	if rs.StopOrder.Weekday == nil {
		rs.StopOrder.Weekday = []int{}
	}
	if rs.StopOrder.Weekend == nil {
		rs.StopOrder.Weekend = []int{}
	}

	// Service runs identically when no weekend section exists
	if !s.seenDay[model.Weekend] && len(rs.Weekday) > 0 {
		rs.Weekend = map[int][]model.Departure{}
		for id, deps := range rs.Weekday {
			rs.Weekend[id] = append([]model.Departure{}, deps...)
		}
		rs.StopOrder.Weekend = append([]int{}, rs.StopOrder.Weekday...)
	}

	return rs
}

// Drops repeated raw times and sorts by time of day.
func dedupeDepartures(deps []model.Departure) []model.Departure {
	seen := map[string]bool{}
	res := []model.Departure{}
	for _, d := range deps {
		if seen[d.Raw] {
			continue
		}
		seen[d.Raw] = true
		res = append(res, d)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Seconds != res[j].Seconds {
			return res[i].Seconds < res[j].Seconds
		}
		return res[i].Raw < res[j].Raw
	})
	return res
}
