//go:build ignore

// This program runs the sample scenario and writes its flow trace, for
// trying out --trace-stats without a full run.
package main

import (
	"context"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"handover-sim/internal/config"
	"handover-sim/internal/scenario"
)

func main() {
	filename := "test/testdata/sample-flows.pcap"
	if len(os.Args) > 1 {
		filename = os.Args[1]
	}

	cfg, err := config.Load("test/testdata/config.yaml")
	if err != nil {
		log.WithError(err).Fatal("Failed to load sample config")
	}
	cfg.Output.FlowTrace = filename
	cfg.Output.AnimFile = ""
	cfg.Output.EventsFile = ""
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Sample config is invalid")
	}

	runner, err := scenario.New(cfg, scenario.Options{Events: io.Discard})
	if err != nil {
		log.WithError(err).Fatal("Failed to prepare run")
	}
	report, err := runner.Run(context.Background())
	if err != nil {
		log.WithError(err).Fatal("Sample run failed")
	}

	log.WithFields(log.Fields{
		"file":    filename,
		"packets": report.TracePackets,
	}).Info("Sample flow trace generated")
}
