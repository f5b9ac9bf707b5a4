package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"handover-sim/internal/config"
	"handover-sim/internal/pcap"
	"handover-sim/internal/scenario"
	"handover-sim/internal/stats"
)

var (
	version    = "1.0.0"
	cfgFile    string
	dryRun     bool
	traceStats string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "handover-sim",
		Short: "LTE handover scenario runner",
		Long: `Builds an LTE topology of stations and endpoints, provisions dedicated
bearers with downlink/uplink UDP flows for every endpoint, and replays a script
of connection and handover events onto a simulated clock, printing one trace
line per event.`,
		Version: version,
		RunE:    run,
	}

	// Configuration file
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Configuration file path (default: config.yaml)")

	// CLI overrides
	rootCmd.Flags().Int("endpoints", 0, "Number of endpoints")
	rootCmd.Flags().Int("stations", 0, "Number of stations to deploy")
	rootCmd.Flags().Int("bearers", 0, "Dedicated bearers per endpoint")
	rootCmd.Flags().String("duration", "", "Simulated run time (e.g. 100s)")
	rootCmd.Flags().String("jitter", "", "Maximum flow start jitter (e.g. 1s)")
	rootCmd.Flags().Uint64("seed", 0, "Jitter seed")
	rootCmd.Flags().String("script", "", "Connectivity event script (YAML)")
	rootCmd.Flags().String("mobility", "", "ns-2 mobility trace for endpoint positions")
	rootCmd.Flags().String("ue-pool", "", "Endpoint IPv4 address pool (CIDR)")
	rootCmd.Flags().String("bearer-backend", "", "Bearer manager (local|pfcp)")
	rootCmd.Flags().String("smf-addr", "", "Local PFCP address (ip:port)")
	rootCmd.Flags().String("upf-addr", "", "User plane PFCP address (ip:port)")
	rootCmd.Flags().Int("reject-every", -1, "Reject every n-th bearer request (0 disables)")
	rootCmd.Flags().String("events", "", "Event trace output file (default: stdout)")
	rootCmd.Flags().String("flow-trace", "", "Write started flows' datagrams to this pcap")
	rootCmd.Flags().String("anim", "", "NetAnim layout output file")
	rootCmd.Flags().String("store", "", "Session store (memory|redis|none)")
	rootCmd.Flags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate configuration and exit")
	rootCmd.Flags().StringVar(&traceStats, "trace-stats", "", "Summarize an existing flow trace and exit")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Load configuration
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug("No config file found, using defaults and CLI flags")
	}

	// CLI flags override config file values
	bindViperFlags(v, cmd)

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	setupLogging(cfg)

	if traceStats != "" {
		return showTraceStats(cfg, traceStats)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	// events go to stdout by default, so the banner goes to stderr
	fmt.Fprintf(os.Stderr, "LTE Handover Scenario Runner v%s\n", version)
	fmt.Fprintln(os.Stderr, "==============================")
	fmt.Fprint(os.Stderr, cfg.Summary())
	fmt.Fprintln(os.Stderr)

	if dryRun {
		fmt.Fprintln(os.Stderr, "Dry-run mode: configuration is valid")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	statsCollector := stats.NewCollector()
	runner, err := scenario.New(cfg, scenario.Options{Stats: statsCollector})
	if err != nil {
		return err
	}
	reporter := stats.NewReporter(statsCollector, runner.RunID(), cfg.Stats.ExportFile)

	report, runErr := runner.Run(ctx)
	if runErr != nil {
		if ctx.Err() != nil {
			log.Info("Run interrupted by shutdown")
		} else {
			log.WithError(runErr).Error("Scenario failed")
		}
	}

	if cfg.Stats.Enabled {
		fmt.Fprintln(os.Stderr, reporter.FormatReport())
		if err := reporter.ExportJSON(); err != nil {
			log.WithError(err).Warn("Failed to export statistics")
		}
	}

	if report != nil {
		for _, a := range report.Abandoned {
			log.WithError(a.Cause).WithFields(log.Fields{
				"imsi":   a.IMSI,
				"bearer": a.Bearer,
			}).Warn("Bearer abandoned")
		}
	}
	return runErr
}

func showTraceStats(cfg *config.Config, path string) error {
	parser, err := pcap.NewParser(cfg.Network.UEPool)
	if err != nil {
		return err
	}
	summary, err := parser.Summarize(path)
	if err != nil {
		return fmt.Errorf("failed to summarize flow trace: %w", err)
	}
	fmt.Print(summary.Format())
	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	// keep stdout for the event trace
	log.SetOutput(os.Stderr)

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.WithError(err).Warn("Failed to open log file, using console only")
		} else {
			log.SetOutput(f)
		}
	}
}

func bindViperFlags(v *viper.Viper, cmd *cobra.Command) {
	for flag, key := range map[string]string{
		"script":         "scenario.script_file",
		"mobility":       "scenario.mobility_trace",
		"duration":       "scenario.sim_duration",
		"jitter":         "scenario.jitter_max",
		"ue-pool":        "network.ue_pool",
		"bearer-backend": "bearer.backend",
		"smf-addr":       "bearer.smf_address",
		"upf-addr":       "bearer.upf_address",
		"events":         "output.events_file",
		"flow-trace":     "output.flow_trace",
		"anim":           "output.anim_file",
		"store":          "store.backend",
		"log-level":      "logging.level",
	} {
		if cmd.Flags().Changed(flag) {
			val, _ := cmd.Flags().GetString(flag)
			v.Set(key, val)
		}
	}
	for flag, key := range map[string]string{
		"endpoints":    "scenario.endpoint_count",
		"stations":     "scenario.station_count",
		"bearers":      "scenario.bearers_per_endpoint",
		"reject-every": "bearer.reject_every",
	} {
		if cmd.Flags().Changed(flag) {
			val, _ := cmd.Flags().GetInt(flag)
			v.Set(key, val)
		}
	}
	if cmd.Flags().Changed("seed") {
		val, _ := cmd.Flags().GetUint64("seed")
		v.Set("scenario.seed", val)
	}
}
