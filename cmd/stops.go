package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"tidbyt.dev/transit/model"
)

var stopsCmd = &cobra.Command{
	Use:   "stops [lat lon] [limit]",
	Short: "Lists stops, or stops near a geographical location",
	Args:  cobra.RangeArgs(0, 3),
	RunE:  stops,
}

func init() {
	rootCmd.AddCommand(stopsCmd)
}

func stops(cmd *cobra.Command, args []string) error {
	var lat, lon float64
	var limit int
	var err error

	gotLocation := false
	if len(args) == 1 {
		return fmt.Errorf("missing lon")
	}
	if len(args) >= 2 {
		gotLocation = true
		lat, err = strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid lat: %w", err)
		}
		lon, err = strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid lon: %w", err)
		}
	}
	if len(args) == 3 {
		limit, err = strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid limit: %w", err)
		}
		if limit < 0 {
			return fmt.Errorf("limit must be >= 0")
		}
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.load(cmd.Context())
	if err != nil {
		return err
	}

	var stops []model.Stop
	if gotLocation {
		stops, err = a.engine.NearbyStops(lat, lon, limit)
		if err != nil {
			return err
		}
	} else {
		for _, s := range a.engine.Stops() {
			stops = append(stops, *s)
		}
		sort.Slice(stops, func(i, j int) bool {
			return stops[i].Name < stops[j].Name
		})
	}

	for _, stop := range stops {
		if stop.Coord == nil {
			fmt.Printf("%d: %s (%s)\n", stop.ID, stop.Name, stop.Match)
			continue
		}
		fmt.Printf("%d: %s (%s) %.5f,%.5f\n", stop.ID, stop.Name, stop.Match, stop.Coord.Lat, stop.Coord.Lon)
	}

	return nil
}
