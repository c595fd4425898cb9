package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/poolsense/spintouch/internal/transport"
	"github.com/poolsense/spintouch/internal/watch"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for nearby Bluetooth Low Energy devices and list their names,
addresses and signal strength. Useful for finding the instrument's address
before configuring the monitor.`,
	RunE: runScan,
}

var scanDuration time.Duration

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
}

func runScan(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	watcher := watch.NewWatcher(logger, watch.Options{}, nil)

	ctx, cancel := context.WithTimeout(cmd.Context(), scanDuration)
	defer cancel()

	fmt.Printf("Scanning for %s...\n", scanDuration)
	err = watcher.Run(ctx)
	if stopErr := transport.StopDevice(); stopErr != nil {
		logger.WithError(stopErr).Warn("Failed to stop BLE device")
	}
	if err != nil {
		return err
	}

	sightings := watcher.Snapshot()
	if len(sightings) == 0 {
		fmt.Println("No devices found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI\tLAST SEEN")
	for _, s := range sightings {
		name := s.Name
		if name == "" {
			name = "(unknown)"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Address, name, s.RSSI, s.LastSeen.Format(time.TimeOnly))
	}
	return w.Flush()
}
