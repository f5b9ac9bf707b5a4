package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Reporter outputs statistics to console and/or file.
type Reporter struct {
	collector  *Collector
	runID      string
	exportFile string
}

// NewReporter creates a new statistics reporter.
func NewReporter(collector *Collector, runID, exportFile string) *Reporter {
	return &Reporter{
		collector:  collector,
		runID:      runID,
		exportFile: exportFile,
	}
}

// PrintFinalReport prints the final statistics summary.
func (r *Reporter) PrintFinalReport() {
	fmt.Println(r.FormatReport())
}

// ExportJSON exports statistics to a JSON file.
func (r *Reporter) ExportJSON() error {
	if r.exportFile == "" {
		return nil
	}

	snap := r.collector.Snapshot()
	min, avg, max, p99 := snap.ResponseTimeStats()

	messages := make(map[string]interface{}, len(snap.MessageStats))
	for name, s := range snap.MessageStats {
		messages[name] = map[string]interface{}{
			"sent":       s.Sent,
			"received":   s.Received,
			"success":    s.Success,
			"failed":     s.Failed,
			"timeout":    s.Timeout,
			"retransmit": s.Retransmit,
		}
	}

	export := map[string]interface{}{
		"run_id":       r.runID,
		"start_time":   snap.StartTime.Format(time.RFC3339),
		"end_time":     snap.EndTime.Format(time.RFC3339),
		"duration_sec": snap.Duration().Seconds(),
		"sim_time_sec": snap.SimTime.Seconds(),
		"provisioning": map[string]interface{}{
			"sessions":         snap.SessionsProvisioned,
			"bearers_rejected": snap.BearersRejected,
			"flows_installed":  snap.FlowsInstalled,
			"flows_started":    snap.FlowsStarted,
		},
		"events": map[string]interface{}{
			"by_kind":   snap.Events,
			"malformed": snap.MalformedEvents,
		},
		"pfcp_messages": messages,
		"response_times_ms": map[string]interface{}{
			"min": float64(min) / float64(time.Millisecond),
			"avg": float64(avg) / float64(time.Millisecond),
			"max": float64(max) / float64(time.Millisecond),
			"p99": float64(p99) / float64(time.Millisecond),
		},
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal stats JSON: %w", err)
	}

	if err := os.WriteFile(r.exportFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write stats file %s: %w", r.exportFile, err)
	}

	log.WithField("file", r.exportFile).Info("Statistics exported to JSON")
	return nil
}

// FormatReport generates a formatted statistics report string.
func (r *Reporter) FormatReport() string {
	snap := r.collector.Snapshot()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== Handover Scenario Statistics (simulated: %s, wall: %s) ===\n",
		snap.SimTime, snap.Duration().Round(time.Millisecond)))

	sb.WriteString("Provisioning:\n")
	sb.WriteString(fmt.Sprintf("  Sessions: %d  |  Rejected bearers: %d  |  Flows installed: %d  |  Flows started: %d\n",
		snap.SessionsProvisioned, snap.BearersRejected, snap.FlowsInstalled, snap.FlowsStarted))

	sb.WriteString("Connectivity events:\n")
	kinds := make([]string, 0, len(snap.Events))
	for k := range snap.Events {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		sb.WriteString(fmt.Sprintf("  %-34s %d\n", k+":", snap.Events[k]))
	}
	sb.WriteString(fmt.Sprintf("  %-34s %d\n", "Malformed (dropped):", snap.MalformedEvents))

	if len(snap.MessageStats) > 0 {
		sb.WriteString("PFCP messages:\n")
		names := make([]string, 0, len(snap.MessageStats))
		for name := range snap.MessageStats {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			s := snap.MessageStats[name]
			sb.WriteString(fmt.Sprintf("  %-30s sent=%-5d recv=%-5d success=%-5d fail=%-5d timeout=%-5d\n",
				name+":", s.Sent, s.Received, s.Success, s.Failed, s.Timeout))
		}
	}

	if len(snap.ResponseTimes) > 0 {
		min, avg, max, p99 := snap.ResponseTimeStats()
		sb.WriteString("Response Times:\n")
		sb.WriteString(fmt.Sprintf("  Min: %s  |  Avg: %s  |  Max: %s  |  P99: %s\n",
			min.Round(time.Microsecond), avg.Round(time.Microsecond),
			max.Round(time.Microsecond), p99.Round(time.Microsecond)))
	}

	sb.WriteString("================================================\n")
	return sb.String()
}
