package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/poolsense/spintouch/internal/protocol"
	"github.com/poolsense/spintouch/internal/reading"
)

// decodeCmd represents the decode command
var decodeCmd = &cobra.Command{
	Use:   "decode [hex-packet]",
	Short: "Decode a raw result packet",
	Long: `Decode a hex dump of a result packet and print the parsed reading.

The packet can be passed as an argument or piped on stdin. Whitespace and
colons in the dump are ignored:

  spintouch decode "010203050102...0b0d11"
  cat packet.hex | spintouch decode`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

var decodeDiskSeries string

func init() {
	decodeCmd.Flags().StringVar(&decodeDiskSeries, "disk-series", "auto", "Reagent disk series: auto, 203, 204 or 303")
}

func readHexInput(args []string) ([]byte, error) {
	var raw string
	if len(args) == 1 {
		raw = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = string(data)
	}

	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, raw)

	buf, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return buf, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}

	buf, err := readHexInput(args)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	header := color.New(color.FgCyan, color.Bold)
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	warn := color.New(color.FgYellow)

	header.Printf("Packet (%d bytes)\n", len(buf))

	if err := protocol.Validate(buf); err != nil {
		bad.Printf("  validation: %v\n", err)
		return fmt.Errorf("packet rejected: %w", err)
	}
	good.Println("  start signature: ok")
	if protocol.HasEndSignature(buf) {
		good.Println("  end signature: ok")
	} else {
		warn.Println("  end signature: mismatch (advisory)")
	}

	header.Println("Entries")
	for _, e := range protocol.ScanEntries(buf) {
		name := fmt.Sprintf("0x%02X", e.ID)
		if def, ok := protocol.Lookup(e.ID); ok {
			name = fmt.Sprintf("%s (0x%02X)", def.Key, e.ID)
		}
		if e.Finite() {
			fmt.Printf("  %-28s %v (decimals=%d)\n", name, e.Value, e.Decimals)
		} else {
			warn.Printf("  %-28s non-finite value\n", name)
		}
	}

	header.Println("Metadata")
	meta, err := protocol.DecodeMetadata(buf)
	if err != nil {
		bad.Printf("  %v\n", err)
	} else {
		fmt.Printf("  valid results: %d\n", meta.NumValidResults)
		fmt.Printf("  disk: %s (index %d)\n", meta.DiskType(), meta.DiskTypeIndex)
		fmt.Printf("  sanitizer: %s (index %d)\n", meta.SanitizerType(), meta.SanitizerTypeIndex)
	}

	if reportTime, err := protocol.DecodeReportTime(buf); err != nil {
		bad.Printf("  report time: %v\n", err)
	} else {
		fmt.Printf("  report time: %s\n", reportTime.Format("2006-01-02 15:04:05"))
	}

	// Run the full model so derived values and range filtering match what
	// the monitor would publish.
	model := reading.NewModel(logger, decodeDiskSeries)
	outcome := model.Update(buf)

	header.Println("Reading")
	fmt.Printf("  outcome: %s\n", outcome)
	snap := model.Snapshot()
	if snap.DiskSeries != "" {
		fmt.Printf("  disk series: %s\n", snap.DiskSeries)
	}
	for _, key := range snap.Keys {
		fmt.Printf("  %-20s %v\n", key, snap.Values[key])
	}
	return nil
}
