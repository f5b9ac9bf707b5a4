package notify

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handover-sim/internal/rrc"
	"handover-sim/internal/stats"
)

type fixedClock time.Duration

func (c fixedClock) Now() time.Duration { return time.Duration(c) }

func TestFormat_AllLines(t *testing.T) {
	ctx := "/NodeList/15/DeviceList/0/LteUeRrc/ConnectionEstablished"
	tests := []struct {
		name string
		ev   rrc.Event
		want string
	}{
		{
			name: "ue connected",
			ev:   rrc.Event{At: 1500 * time.Millisecond, Context: ctx, Role: rrc.RoleUE, Kind: rrc.ConnectionEstablished, IMSI: 7, Cell: 1, RNTI: 3},
			want: "1.5 " + ctx + " UE IMSI 7: connected to CellId 1 with RNTI 3",
		},
		{
			name: "ue handover start",
			ev:   rrc.Event{At: 2 * time.Second, Context: ctx, Role: rrc.RoleUE, Kind: rrc.HandoverStarted, IMSI: 7, Cell: 1, RNTI: 3, Target: 2},
			want: "2 " + ctx + " UE IMSI 7: previously connected to CellId 1 with RNTI 3, doing handover to CellId 2",
		},
		{
			name: "ue handover ok",
			ev:   rrc.Event{At: 2 * time.Second, Context: ctx, Role: rrc.RoleUE, Kind: rrc.HandoverCompleted, IMSI: 7, Cell: 2, RNTI: 4},
			want: "2 " + ctx + " UE IMSI 7: successful handover to CellId 2 with RNTI 4",
		},
		{
			name: "enb connected",
			ev:   rrc.Event{Context: ctx, Role: rrc.RoleENB, Kind: rrc.ConnectionEstablished, IMSI: 7, Cell: 1, RNTI: 3},
			want: "0 " + ctx + " eNB CellId 1: successful connection of UE with IMSI 7 RNTI 3",
		},
		{
			name: "enb handover start",
			ev:   rrc.Event{Context: ctx, Role: rrc.RoleENB, Kind: rrc.HandoverStarted, IMSI: 7, Cell: 1, RNTI: 3, Target: 2},
			want: "0 " + ctx + " eNB CellId 1: start handover of UE with IMSI 7 RNTI 3 to CellId 2",
		},
		{
			name: "enb handover ok",
			ev:   rrc.Event{Context: ctx, Role: rrc.RoleENB, Kind: rrc.HandoverCompleted, IMSI: 7, Cell: 2, RNTI: 4},
			want: "0 " + ctx + " eNB CellId 2: completed handover of UE with IMSI 7 RNTI 4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.ev))
		})
	}
}

func TestFormat_ExtremeValues(t *testing.T) {
	ev := rrc.Event{Context: "c", Role: rrc.RoleUE, Kind: rrc.HandoverStarted,
		IMSI: math.MaxUint64, Cell: math.MaxUint16, RNTI: math.MaxUint16, Target: math.MaxUint16}
	assert.Equal(t,
		"0 c UE IMSI 18446744073709551615: previously connected to CellId 65535 with RNTI 65535, doing handover to CellId 65535",
		Format(ev))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "0", FormatTime(0))
	assert.Equal(t, "0.25", FormatTime(250*time.Millisecond))
	assert.Equal(t, "12.3457", FormatTime(12345678*time.Microsecond))
	assert.Equal(t, "100", FormatTime(100*time.Second))
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		kind rrc.Kind
		args []uint64
	}{
		{"cell overflow", rrc.ConnectionEstablished, []uint64{1, 70000, 1}},
		{"rnti overflow", rrc.HandoverCompleted, []uint64{1, 1, 1 << 20}},
		{"target overflow", rrc.HandoverStarted, []uint64{1, 1, 1, 65536}},
		{"missing target", rrc.HandoverStarted, []uint64{1, 1, 1}},
		{"extra argument", rrc.ConnectionEstablished, []uint64{1, 1, 1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(rrc.RoleUE, tt.kind, "ctx", tt.args)
			var me *MalformedEventError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, "ctx", me.Context)
		})
	}
}

func TestNotifier_RegisterAndPublish(t *testing.T) {
	bus := rrc.NewBus()
	var out bytes.Buffer
	st := stats.NewCollector()
	n := New(fixedClock(3*time.Second), &out, st, nil)
	require.NoError(t, n.Register(bus))
	assert.Equal(t, 6, bus.Subscribers())

	ueCtx := rrc.TracePath(16, 0, rrc.RoleUE, rrc.HandoverStarted)
	enbCtx := rrc.TracePath(2, 0, rrc.RoleENB, rrc.HandoverStarted)
	assert.Equal(t, 1, bus.Publish(ueCtx, 2, 1, 5, 3))
	assert.Equal(t, 1, bus.Publish(enbCtx, 2, 1, 5, 3))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "3 "+ueCtx+" UE IMSI 2: previously connected to CellId 1 with RNTI 5, doing handover to CellId 3", lines[0])
	assert.Equal(t, "3 "+enbCtx+" eNB CellId 1: start handover of UE with IMSI 2 RNTI 5 to CellId 3", lines[1])

	assert.Equal(t, uint64(1), st.Events["UE/HandoverStart"])
	assert.Equal(t, uint64(1), st.Events["eNB/HandoverStart"])
}

func TestNotifier_DropsMalformedEvent(t *testing.T) {
	bus := rrc.NewBus()
	var out bytes.Buffer
	st := stats.NewCollector()
	require.NoError(t, New(fixedClock(0), &out, st, nil).Register(bus))

	assert.NotPanics(t, func() {
		bus.Publish(rrc.TracePath(16, 0, rrc.RoleUE, rrc.ConnectionEstablished), 2, 99999, 1)
	})
	assert.Empty(t, out.String())
	assert.Equal(t, uint64(1), st.MalformedEvents)
	assert.Zero(t, st.TotalEvents())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestNotifier_WriteFailureDoesNotPropagate(t *testing.T) {
	st := stats.NewCollector()
	h := New(fixedClock(0), failingWriter{}, st, nil).Handler(rrc.RoleENB, rrc.HandoverCompleted)
	assert.NotPanics(t, func() { h("ctx", 1, 2, 3) })
	assert.Zero(t, st.TotalEvents())
}

func TestNotifier_MalformedEventLogsIMSI(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	h := New(fixedClock(0), &bytes.Buffer{}, nil, nil).Handler(rrc.RoleUE, rrc.ConnectionEstablished)
	h("ctx", 42, 70000, 1)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, log.WarnLevel, entry.Level)
	assert.Equal(t, uint64(42), entry.Data["imsi"])
	assert.Equal(t, "MalformedEventError", entry.Data["error_kind"])
	assert.Equal(t, "UE", entry.Data["role"])
}

func TestNotifier_MalformedEventWithoutArgs(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	h := New(fixedClock(0), &bytes.Buffer{}, nil, nil).Handler(rrc.RoleENB, rrc.HandoverStarted)
	h("ctx")

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.NotContains(t, entry.Data, "imsi")
}
