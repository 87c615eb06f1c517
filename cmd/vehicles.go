package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/transit"
	"tidbyt.dev/transit/model"
)

var vehiclesCmd = &cobra.Command{
	Use:   "vehicles",
	Short: "Lists live vehicles",
	Args:  cobra.NoArgs,
	RunE:  vehicles,
}

var (
	vehicleRoute string
	watch        bool
)

func init() {
	vehiclesCmd.Flags().StringVarP(&vehicleRoute, "route", "r", "", "Restrict to a specific route")
	vehiclesCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep polling and print every snapshot")
	rootCmd.AddCommand(vehiclesCmd)
}

type printSink struct {
	route string
}

func (p printSink) Publish(ctx context.Context, vehicles []model.Vehicle) error {
	fmt.Printf("-- %s, %d vehicles\n", time.Now().Format(time.TimeOnly), len(vehicles))
	printVehicles(vehicles, p.route)
	return nil
}

// Sends each snapshot to several sinks.
type fanout []transit.Sink

func (f fanout) Publish(ctx context.Context, vehicles []model.Vehicle) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.Publish(ctx, vehicles))
	}
	return errors.Join(errs...)
}

func vehicles(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.tracker == nil {
		return fmt.Errorf("feed URL is required")
	}

	if !watch {
		err = a.tracker.Poll(cmd.Context())
		if err != nil {
			return err
		}
		printVehicles(a.tracker.Vehicles(), vehicleRoute)
		return nil
	}

	sinks := fanout{printSink{route: vehicleRoute}}
	if a.nats != nil {
		sinks = append(sinks, a.nats)
	}
	a.tracker.Sink = sinks

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	err = a.tracker.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printVehicles(vehicles []model.Vehicle, route string) {
	for _, v := range vehicles {
		if route != "" && v.Route != route {
			continue
		}

		where := "in transit"
		switch {
		case v.AtStop && v.CurrentStopName != nil:
			where = "at " + *v.CurrentStopName
		case v.NextStopName != nil:
			where = "next " + *v.NextStopName
		}

		stale := ""
		if v.IsStale {
			stale = " (stale)"
		}

		r := v.Route
		if r == "" {
			r = "-"
		}

		fmt.Printf("%s route %s %.5f,%.5f %s%s\n", v.ID, r, v.Lat, v.Lon, where, stale)
	}
}
