package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var pathCmd = &cobra.Command{
	Use:   "path <route> [from_stop to_stop]",
	Short: "Prints the road following path of a route, or of a trip along it",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 && len(args) != 3 {
			return fmt.Errorf("expected a route, optionally followed by from and to stop ids")
		}
		return nil
	},
	RunE: path,
}

var geoJSON bool

func init() {
	pathCmd.Flags().BoolVarP(&geoJSON, "geojson", "", false, "Print as a GeoJSON LineString")
	rootCmd.AddCommand(pathCmd)
}

func path(cmd *cobra.Command, args []string) error {
	route := args[0]

	var from, to *int
	if len(args) == 3 {
		f, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid from stop: %w", err)
		}
		t, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid to stop: %w", err)
		}
		from, to = &f, &t
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

	coords, err := a.engine.RoutePath(cmd.Context(), route, from, to)
	if err != nil {
		return err
	}

	if !geoJSON {
		for _, c := range coords {
			fmt.Printf("%f,%f\n", c.Lat, c.Lon)
		}
		return nil
	}

	line := make([][2]float64, 0, len(coords))
	for _, c := range coords {
		line = append(line, [2]float64{c.Lon, c.Lat})
	}
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(map[string]interface{}{
		"type":        "LineString",
		"coordinates": line,
	})
}
