package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tidbyt.dev/transit/resolve"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [label...]",
	Short: "Matches stop labels against the registry",
	Long:  "Matches stop labels against the registry. With no labels, reads one per line from stdin.",
	RunE:  resolveLabels,
}

var batch bool

func init() {
	resolveCmd.Flags().BoolVarP(&batch, "batch", "b", false, "Resolve all labels in parallel against the index")
	rootCmd.AddCommand(resolveCmd)
}

func resolveLabels(cmd *cobra.Command, args []string) error {
	labels := args
	if len(labels) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				labels = append(labels, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("reading labels: %w", err)
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

	var matches []resolve.Match
	if batch {
		matches, err = a.engine.ResolveAll(cmd.Context(), labels)
		if err != nil {
			return err
		}
	} else {
		for _, label := range labels {
			matches = append(matches, a.engine.Resolve(label))
		}
	}

	unresolved := 0
	for _, m := range matches {
		if !m.OK() {
			unresolved++
			fmt.Printf("%q: %s\n", m.Label, m.Kind)
			continue
		}
		name := ""
		if stop := a.engine.Stop(m.ID); stop != nil {
			name = stop.Name
		}
		fmt.Printf("%q: %d %s (%s %.2f)\n", m.Label, m.ID, name, m.Kind, m.Score)
	}

	if unresolved > 0 {
		a.logger.Info("some labels were not resolved", "unresolved", unresolved, "total", len(matches))
	}

	return nil
}
