package scenario

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handover-sim/internal/bearer"
	"handover-sim/internal/config"
	"handover-sim/internal/pcap"
	"handover-sim/internal/session"
	"handover-sim/internal/store"
	"handover-sim/pkg/types"
)

const handoverScript = `
handovers:
  - at: 2.5s
    imsi: 2
    from: 1
    to: 2
    rnti: 2
    new_rnti: 7
    delay: 15ms
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	dir := t.TempDir()
	script := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(script, []byte(handoverScript), 0o644))

	cfg.Scenario.EndpointCount = 3
	cfg.Scenario.StationCount = 2
	cfg.Scenario.SimDuration = 5 * time.Second
	cfg.Scenario.ScriptFile = script
	cfg.Traffic.Interval = time.Second
	cfg.Traffic.MaxPackets = 3
	cfg.Traffic.PacketSize = 64
	cfg.Output.AnimFile = filepath.Join(dir, "anim.xml")
	cfg.Output.FlowTrace = filepath.Join(dir, "flows.pcap")
	cfg.Output.MetricsFile = filepath.Join(dir, "metrics.prom")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRunner_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	var events bytes.Buffer
	mem := store.NewMemory()

	r, err := New(cfg, Options{RunID: "e2e", Events: &events, Store: mem})
	require.NoError(t, err)
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "e2e", report.RunID)
	assert.Equal(t, 3, report.Endpoints)
	require.Len(t, report.Sessions, 6)
	assert.Empty(t, report.Abandoned)
	assert.Equal(t, 5*time.Second, report.SimTime)

	ports := make(map[uint16]bool)
	for _, s := range report.Sessions {
		assert.False(t, ports[s.DownlinkPort], "downlink port %d reused", s.DownlinkPort)
		assert.False(t, ports[s.UplinkPort], "uplink port %d reused", s.UplinkPort)
		ports[s.DownlinkPort] = true
		ports[s.UplinkPort] = true
		assert.Less(t, s.StartOffset, time.Second)
	}
	assert.Len(t, ports, 12)
	assert.Equal(t, uint16(10001), report.Sessions[0].DownlinkPort)
	assert.Equal(t, uint16(20001), report.Sessions[0].UplinkPort)
	assert.Equal(t, 6, report.DownlinkPortsUsed)
	assert.Equal(t, 6, report.UplinkPortsUsed)

	assert.Equal(t, 24, report.FlowsInstalled)
	assert.Equal(t, 24, report.FlowsStarted)
	// 12 client flows, 3 packets each, all inside the run
	assert.Equal(t, 36, report.TracePackets)

	stored, err := mem.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, report.Sessions, stored)

	want := []string{
		"0 /NodeList/4/DeviceList/0/LteUeRrc/ConnectionEstablished UE IMSI 1: connected to CellId 1 with RNTI 1",
		"0 /NodeList/2/DeviceList/0/LteEnbRrc/ConnectionEstablished eNB CellId 1: successful connection of UE with IMSI 1 RNTI 1",
		"0 /NodeList/5/DeviceList/0/LteUeRrc/ConnectionEstablished UE IMSI 2: connected to CellId 1 with RNTI 2",
		"0 /NodeList/2/DeviceList/0/LteEnbRrc/ConnectionEstablished eNB CellId 1: successful connection of UE with IMSI 2 RNTI 2",
		"0 /NodeList/6/DeviceList/0/LteUeRrc/ConnectionEstablished UE IMSI 3: connected to CellId 1 with RNTI 3",
		"0 /NodeList/2/DeviceList/0/LteEnbRrc/ConnectionEstablished eNB CellId 1: successful connection of UE with IMSI 3 RNTI 3",
		"2.5 /NodeList/5/DeviceList/0/LteUeRrc/HandoverStart UE IMSI 2: previously connected to CellId 1 with RNTI 2, doing handover to CellId 2",
		"2.5 /NodeList/2/DeviceList/0/LteEnbRrc/HandoverStart eNB CellId 1: start handover of UE with IMSI 2 RNTI 2 to CellId 2",
		"2.515 /NodeList/3/DeviceList/0/LteEnbRrc/HandoverEndOk eNB CellId 2: completed handover of UE with IMSI 2 RNTI 7",
		"2.515 /NodeList/5/DeviceList/0/LteUeRrc/HandoverEndOk UE IMSI 2: successful handover to CellId 2 with RNTI 7",
	}
	assert.Equal(t, want, strings.Split(strings.TrimSpace(events.String()), "\n"))

	snap := r.Stats().Snapshot()
	assert.Equal(t, uint64(6), snap.SessionsProvisioned)
	assert.Equal(t, uint64(10), snap.TotalEvents())

	assert.FileExists(t, cfg.Output.AnimFile)
	metrics, err := os.ReadFile(cfg.Output.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "sessions_provisioned")
}

func TestRunner_FlowTraceReadsBack(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, Options{Events: &bytes.Buffer{}})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)

	parser, err := pcap.NewParser(cfg.Network.UEPool)
	require.NoError(t, err)
	summary, err := parser.Summarize(cfg.Output.FlowTrace)
	require.NoError(t, err)

	assert.Equal(t, 36, summary.Packets)
	assert.Equal(t, 18, summary.ByDirection[types.Downlink])
	assert.Equal(t, 18, summary.ByDirection[types.Uplink])
	assert.Len(t, summary.Flows, 12)
}

func TestRunner_DeterministicWithSeed(t *testing.T) {
	offsets := func() []time.Duration {
		cfg := testConfig(t)
		cfg.Output = config.OutputConfig{}
		r, err := New(cfg, Options{Events: &bytes.Buffer{}})
		require.NoError(t, err)
		report, err := r.Run(context.Background())
		require.NoError(t, err)
		var out []time.Duration
		for _, s := range report.Sessions {
			out = append(out, s.StartOffset)
		}
		return out
	}
	assert.Equal(t, offsets(), offsets())
}

func TestRunner_RejectedBearersAreReported(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output = config.OutputConfig{}
	cfg.Bearer.RejectEvery = 2

	r, err := New(cfg, Options{Events: &bytes.Buffer{}})
	require.NoError(t, err)
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.Sessions, 3)
	require.Len(t, report.Abandoned, 3)
	for _, a := range report.Abandoned {
		assert.Equal(t, 1, a.Bearer)
		assert.ErrorIs(t, a, bearer.ErrAdmissionDenied)
	}
	// abandoned bearers still consumed their ports
	assert.Equal(t, 6, report.DownlinkPortsUsed)
	// only accepted bearers start their flows
	assert.Equal(t, 24, report.FlowsInstalled)
	assert.Equal(t, 12, report.FlowsStarted)
}

func TestRunner_PortExhaustionAborts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output = config.OutputConfig{}
	cfg.Network.ULPortBase = 65533

	r, err := New(cfg, Options{Events: &bytes.Buffer{}})
	require.NoError(t, err)
	_, err = r.Run(context.Background())

	var exhausted *session.ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, types.Uplink, exhausted.Direction)
}

func TestRunner_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Output = config.OutputConfig{}
	cfg.Store.Backend = "redis"
	cfg.Store.RedisAddr = mr.Addr()

	r, err := New(cfg, Options{RunID: "redis-run", Events: &bytes.Buffer{}})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)

	members, err := mr.Members(store.IndexKey("redis-run"))
	require.NoError(t, err)
	assert.Len(t, members, 6)
	assert.Equal(t, "10001", mr.HGet(store.SessionKey("redis-run", 1, 0), "dl_port"))
}

func TestRunner_Cancelled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Output = config.OutputConfig{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := New(cfg, Options{Events: &bytes.Buffer{}})
	require.NoError(t, err)
	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_GeneratesRunID(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, Options{})
	require.NoError(t, err)
	assert.Len(t, r.RunID(), 36)
}
