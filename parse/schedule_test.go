package parse_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transit/model"
	"tidbyt.dev/transit/parse"
	"tidbyt.dev/transit/resolve"
)

var scheduleStops = []resolve.Candidate{
	{ID: 11, Names: []string{"A"}},
	{ID: 12, Names: []string{"B"}},
	{ID: 20, Names: []string{"Nuuk Center"}},
	{ID: 21, Names: []string{"Qinngorput"}},
	{ID: 22, Names: []string{"Atuarfik Hans Lynge"}},
	{ID: 23, Names: []string{"Sana"}},
}

func parseSchedule(t *testing.T, csv string, variant parse.Variant) *model.RouteSchedule {
	rs, err := parse.ParseSchedule(
		"1",
		strings.NewReader(csv),
		resolve.NewPairwise(scheduleStops, resolve.DefaultThreshold),
		variant,
	)
	require.NoError(t, err)
	return rs
}

func TestParseScheduleRoundTrip(t *testing.T) {
	rs := parseSchedule(t, `Weekday
Round trip,1. A,2. B
1,08:00,08.15
`, parse.Variant{})

	assert.Equal(t, "1", rs.Route)
	assert.Equal(t, map[int][]model.Departure{
		11: {{Label: "08:00", Seconds: 28800, Raw: "08:00"}},
		12: {{Label: "08:15", Seconds: 29700, Raw: "08:15"}},
	}, rs.Weekday)
	assert.Equal(t, []int{11, 12}, rs.StopOrder.Weekday)
	assert.Empty(t, rs.Unresolved)
}

func TestParseScheduleWeekendFallback(t *testing.T) {
	rs := parseSchedule(t, `Weekday
Round trip,1. A,2. B
1,08:00,08.15
2,09:00,09:15
`, parse.Variant{})

	assert.Equal(t, rs.StopOrder.Weekday, rs.StopOrder.Weekend)
	assert.Equal(t, rs.Weekday, rs.Weekend)
	assert.NotEmpty(t, rs.Weekend)

	// Copies, not shared slices
	rs.Weekend[11][0].Label = "changed"
	assert.Equal(t, "08:00", rs.Weekday[11][0].Label)
}

func TestParseScheduleBothDays(t *testing.T) {
	rs := parseSchedule(t, `"Route 1, valid from June"
Hverdage / Weekdays
Rundtur,1. Nuuk Center,2. Qinngorput,3. Atuarfik Hans Lynge,4. Nuuk Center
1,07:00,07:10,07:20,07:30
2,08:00,08:10,,08:30
3,08:00,-,08:20*,

Weekend/Holiday
Round trip,1. Qinngorput,2. Nuuk Center
1,10:00,10:15
2,11:00:30,11.15
`, parse.Variant{})

	// Loop start and end share a bucket, repeated 08:00 dropped
	assert.Equal(t, []model.Departure{
		{Label: "07:00", Seconds: 25200, Raw: "07:00"},
		{Label: "07:30", Seconds: 27000, Raw: "07:30"},
		{Label: "08:00", Seconds: 28800, Raw: "08:00"},
		{Label: "08:30", Seconds: 30600, Raw: "08:30"},
	}, rs.Weekday[20])
	assert.Equal(t, []model.Departure{
		{Label: "07:10", Seconds: 25800, Raw: "07:10"},
		{Label: "08:10", Seconds: 29400, Raw: "08:10"},
	}, rs.Weekday[21])
	assert.Equal(t, []model.Departure{
		{Label: "07:20", Seconds: 26400, Raw: "07:20"},
	}, rs.Weekday[22])
	assert.Equal(t, []int{20, 21, 22}, rs.StopOrder.Weekday)

	assert.Equal(t, []model.Departure{
		{Label: "10:00", Seconds: 36000, Raw: "10:00"},
		{Label: "11:00", Seconds: 39630, Raw: "11:00:30"},
	}, rs.Weekend[21])
	assert.Equal(t, []model.Departure{
		{Label: "10:15", Seconds: 36900, Raw: "10:15"},
		{Label: "11:15", Seconds: 40500, Raw: "11:15"},
	}, rs.Weekend[20])
	assert.Equal(t, []int{21, 20}, rs.StopOrder.Weekend)
	assert.Nil(t, rs.Weekend[22])
}

func TestParseScheduleUnresolvedColumns(t *testing.T) {
	rs := parseSchedule(t, `Round trip,1. Nuuk Center,2. Kangerlussuaq,3. Qinngorput,
1,07:00,07:10,07:20,07:30
`, parse.Variant{})

	assert.Equal(t, []int{20, 21}, rs.StopOrder.Weekday)
	assert.Equal(t, []string{"Kangerlussuaq"}, rs.Unresolved)
	assert.Equal(t, 2, len(rs.Weekday))
	assert.Equal(t, "07:20", rs.Weekday[21][0].Label)
}

func TestParseScheduleRowsWithoutHeader(t *testing.T) {
	rs := parseSchedule(t, `1,07:00,07:10
Saturday
1,07:00,07:10
Round trip,A,B
2,09:00,09:10
`, parse.Variant{})

	// Day marker resets the header, so only the last row counts
	assert.Empty(t, rs.Weekday)
	assert.Equal(t, []int{}, rs.StopOrder.Weekday)
	assert.Equal(t, []int{11, 12}, rs.StopOrder.Weekend)
	assert.Equal(t, 1, len(rs.Weekend[11]))
}

func TestParseScheduleVariant(t *testing.T) {
	csv := `Ulloq
Tur,1. Nuuk Centre,2. Illorput,3. Sana
1,07:00,→ Route 3,07:20¹
2,08:00*,08:10,08:20
`

	// Default parser chokes on annotations, and the renamed stop
	// isn't close enough to resolve.
	rs := parseSchedule(t, csv, parse.Variant{})
	assert.Equal(t, []model.Departure{{Label: "07:00", Seconds: 25200, Raw: "07:00"}}, rs.Weekday[20])

	rs = parseSchedule(t, csv, parse.Variant{
		Timecode: parse.TimecodeAnnotated,
		Aliases: map[string]string{
			"Illorput": "Qinngorput",
		},
	})
	assert.Equal(t, []int{20, 21, 23}, rs.StopOrder.Weekday)
	assert.Equal(t, []model.Departure{
		{Label: "07:00", Seconds: 25200, Raw: "07:00"},
		{Label: "08:00", Seconds: 28800, Raw: "08:00"},
	}, rs.Weekday[20])
	assert.Equal(t, []model.Departure{{Label: "08:10", Seconds: 29400, Raw: "08:10"}}, rs.Weekday[21])
	assert.Equal(t, 2, len(rs.Weekday[23]))
}

func TestParseScheduleCustomFormat(t *testing.T) {
	rs := parseSchedule(t, `Montag-Freitag
Linie,A,B
1,06:00,06:05
Sonntag
Linie,B,A
1,12:00,12:05
`, parse.Variant{
		Format: &parse.Format{
			WeekdayKeywords: []string{"montag-freitag"},
			WeekendKeywords: []string{"sonntag"},
			HeaderKeywords:  []string{"linie"},
		},
	})

	assert.Equal(t, []int{11, 12}, rs.StopOrder.Weekday)
	assert.Equal(t, []int{12, 11}, rs.StopOrder.Weekend)
	assert.Equal(t, "12:05", rs.Weekend[11][0].Label)
}

func TestParseScheduleBOMAndRaggedRows(t *testing.T) {
	rs := parseSchedule(t, "\ufeffRound trip,1. A,2. B\n1,08:00\n2,09:00,09:15,extra\n", parse.Variant{})

	assert.Equal(t, 2, len(rs.Weekday[11]))
	assert.Equal(t, 1, len(rs.Weekday[12]))
}

func TestStripOrdinal(t *testing.T) {
	assert.Equal(t, "Name", parse.StripOrdinal("3. Name"))
	assert.Equal(t, "Name", parse.StripOrdinal(" 12) Name"))
	assert.Equal(t, "Name", parse.StripOrdinal("Name"))
	assert.Equal(t, "1st Avenue", parse.StripOrdinal("1st Avenue"))
}
