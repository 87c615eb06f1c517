package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var departuresCmd = &cobra.Command{
	Use:   "departures <route> <stop_id>",
	Short: "Lists upcoming departures of a route from a stop",
	Args:  cobra.ExactArgs(2),
	RunE:  departures,
}

var departureLimit int

func init() {
	departuresCmd.Flags().IntVarP(&departureLimit, "limit", "l", 5, "Limit the number of departures returned (0 for all)")
	rootCmd.AddCommand(departuresCmd)
}

func departures(cmd *cobra.Command, args []string) error {
	route := args[0]
	stopID, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid stop id: %w", err)
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

	up, err := a.engine.Departures(route, stopID, departureLimit)
	if err != nil {
		return err
	}

	name := strconv.Itoa(stopID)
	if stop := a.engine.Stop(stopID); stop != nil {
		name = stop.Name
	}

	switch {
	case !up.HasService:
		fmt.Printf("No %s service on route %s at %s\n", up.ServiceDay, route, name)
	case up.ServiceEnded:
		fmt.Printf("Route %s service at %s has ended for the day\n", route, name)
	}

	for _, d := range up.Departures {
		next := ""
		if d.IsNext {
			next = " (next)"
		}
		fmt.Printf("%s %s %s%s\n", d.Label, route, name, next)
	}

	return nil
}
