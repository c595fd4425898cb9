package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/poolsense/spintouch/internal/bridge"
	"github.com/poolsense/spintouch/internal/lifecycle"
	"github.com/poolsense/spintouch/internal/metrics"
	"github.com/poolsense/spintouch/internal/reading"
	"github.com/poolsense/spintouch/internal/transport"
	"github.com/poolsense/spintouch/internal/watch"
	"github.com/poolsense/spintouch/pkg/config"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Monitor the instrument and publish readings",
	Long: `Watch for the instrument's advertisements, connect when it is awake,
read and acknowledge new results, then disconnect for a cooldown window so
the companion phone app keeps access to the device.

Readings are published to Home Assistant over MQTT when a broker is
configured, and lifecycle metrics are exposed for Prometheus when a
metrics listen address is set.`,
	RunE: runMonitor,
}

var (
	monitorConfigPath string
	monitorAddress    string
	monitorDiskSeries string
	monitorBroker     string
	monitorMetrics    string
)

func init() {
	monitorCmd.Flags().StringVarP(&monitorConfigPath, "config", "c", "", "Path to YAML config file")
	monitorCmd.Flags().StringVarP(&monitorAddress, "address", "a", "", "Instrument BLE address (overrides config)")
	monitorCmd.Flags().StringVar(&monitorDiskSeries, "disk-series", "", "Reagent disk series: auto, 203, 204 or 303 (overrides config)")
	monitorCmd.Flags().StringVar(&monitorBroker, "mqtt-broker", "", "MQTT broker URL, e.g. tcp://host:1883 (overrides config)")
	monitorCmd.Flags().StringVar(&monitorMetrics, "metrics-listen", "", "Prometheus listen address, e.g. :9184 (overrides config)")
}

func loadMonitorConfig() (*config.Config, error) {
	cfg := config.Default()
	if monitorConfigPath != "" {
		loaded, err := config.Load(monitorConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if monitorAddress != "" {
		cfg.Address = monitorAddress
	}
	if monitorDiskSeries != "" {
		cfg.DiskSeries = monitorDiskSeries
	}
	if monitorBroker != "" {
		cfg.MQTT.Broker = monitorBroker
	}
	if monitorMetrics != "" {
		cfg.MetricsListen = monitorMetrics
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("instrument address is required (use --address or the config file)")
	}
	switch cfg.DiskSeries {
	case reading.DiskSeriesAuto, "203", "204", "303":
	default:
		return nil, fmt.Errorf("invalid disk series %q: must be auto, 203, 204 or 303", cfg.DiskSeries)
	}
	return cfg, nil
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadMonitorConfig()
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	model := reading.NewModel(logger, cfg.DiskSeries)

	var collector *metrics.Collector
	if cfg.MetricsListen != "" {
		collector = metrics.NewCollector(logger)
		collector.Serve(cfg.MetricsListen)
	}

	lc := lifecycle.New(logger, transport.NewBLETransport(logger), model, collector, lifecycle.Options{
		Address:         cfg.Address,
		ConnectTimeout:  cfg.ConnectTimeout(),
		DisconnectDelay: cfg.DisconnectDelay(),
		ReconnectDelay:  cfg.ReconnectDelay(),
	})
	defer lc.Shutdown()

	var publisher bridge.Publisher
	if cfg.MQTT.Broker != "" {
		publisher, err = bridge.NewMQTTPublisher(logger, bridge.Options{
			Broker:          cfg.MQTT.Broker,
			ClientID:        cfg.MQTT.ClientID,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			DeviceAddress:   cfg.Address,
			DeviceName:      cfg.MQTT.DeviceName,
		})
		if err != nil {
			return fmt.Errorf("mqtt bridge: %w", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.WithError(err).Warn("MQTT close failed")
			}
		}()

		if err := publisher.PublishDiscovery(); err != nil {
			return fmt.Errorf("mqtt discovery: %w", err)
		}
		if err := publisher.SubscribeCommands(lc.ForceReconnect); err != nil {
			return fmt.Errorf("mqtt commands: %w", err)
		}

		model.SetOnChange(func() {
			snap := model.Snapshot()
			if err := publisher.PublishReading(snap); err != nil {
				logger.WithError(err).Warn("Failed to publish reading")
			}
			if err := publisher.PublishAvailability(snap.Connected); err != nil {
				logger.WithError(err).Warn("Failed to publish availability")
			}
		})
	}

	watcher := watch.NewWatcher(logger, watch.Options{Address: cfg.Address}, func(s watch.Sighting) {
		lc.HandleSighting(s.Address, s.RSSI)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer func() {
		if err := transport.StopDevice(); err != nil {
			logger.WithError(err).Warn("Failed to stop BLE device")
		}
	}()

	logger.WithField("address", strings.ToLower(cfg.Address)).Info("Monitoring instrument")
	return watcher.Run(ctx)
}
