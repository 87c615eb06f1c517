package parse

import (
	"fmt"
	"strconv"
	"strings"

	"tidbyt.dev/transit/model"
)

// Turns a single timetable cell into a Departure. Returns false for
// anything that isn't a time: blank cells, footnotes, annotations.
type TimecodeParser func(token string) (model.Departure, bool)

// Accepts HH:MM, HH.MM and HH:MM:SS. Hours run past midnight up to
// 47 for trips finishing after the service day.
func TimecodeDefault(token string) (model.Departure, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Departure{}, false
	}

	token = strings.ReplaceAll(token, ".", ":")

	split := strings.Split(token, ":")
	if len(split) != 2 && len(split) != 3 {
		return model.Departure{}, false
	}

	hms := [3]int{}
	for i, str := range split {
		if str == "" || len(str) > 2 {
			return model.Departure{}, false
		}
		for _, r := range str {
			if r < '0' || r > '9' {
				return model.Departure{}, false
			}
		}
		j, err := strconv.Atoi(str)
		if err != nil {
			return model.Departure{}, false
		}
		hms[i] = j
	}

	if hms[0] > 47 || hms[1] > 59 || hms[2] > 59 {
		return model.Departure{}, false
	}

	raw := fmt.Sprintf("%02d:%02d", hms[0], hms[1])
	if len(split) == 3 {
		raw = fmt.Sprintf("%02d:%02d:%02d", hms[0], hms[1], hms[2])
	}

	return model.Departure{
		Label:   fmt.Sprintf("%02d:%02d", hms[0], hms[1]),
		Seconds: hms[0]*3600 + hms[1]*60 + hms[2],
		Raw:     raw,
	}, true
}

// For timetables that mix connection notes ("→ Route 3") into time
// cells and mark times with trailing footnotes ("08:15*", "08:15a").
func TimecodeAnnotated(token string) (model.Departure, bool) {
	token = strings.TrimSpace(token)

	if strings.ContainsAny(token, "→⇒") || strings.Contains(token, "->") {
		return model.Departure{}, false
	}

	lower := strings.ToLower(token)
	for _, word := range []string{"route", "rute", "linje", "bus"} {
		if strings.Contains(lower, word) {
			return model.Departure{}, false
		}
	}

	token = strings.TrimRightFunc(token, func(r rune) bool {
		return r < '0' || r > '9'
	})

	return TimecodeDefault(token)
}

// Looks up a timecode parser by name. The empty name gives the
// default.
func TimecodeByName(name string) (TimecodeParser, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return TimecodeDefault, nil
	case "annotated":
		return TimecodeAnnotated, nil
	}
	return nil, fmt.Errorf("unknown timecode parser '%s'", name)
}
