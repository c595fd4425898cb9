package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/poolsense/spintouch/internal/transport"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "spintouch",
	Short: "WaterLink SpinTouch BLE monitor",
	Long: `Monitor a LaMotte WaterLink SpinTouch water-testing instrument over
Bluetooth Low Energy:

- Decode result packets into named, validated chemistry readings
- Manage the connect/read/acknowledge/disconnect/cooldown cycle so a
  companion phone app keeps periodic access to the device
- Publish readings to Home Assistant over MQTT discovery
- Expose lifecycle metrics for Prometheus`,
	Version: formatVersion(version),
}

// formatUserError turns known error types into friendly one-liners.
func formatUserError(err error) string {
	switch {
	case errors.Is(err, transport.ErrBluetoothOff):
		return "Bluetooth is turned off - enable Bluetooth and retry"
	case errors.Is(err, transport.ErrNotConnected):
		return "device is not connected - is the instrument awake and in range?"
	case errors.Is(err, transport.ErrTimeout):
		return "operation timed out - is the instrument awake and in range?"
	default:
		return err.Error()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", formatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(decodeCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
