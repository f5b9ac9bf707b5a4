package session

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"handover-sim/internal/mocks"
	"handover-sim/internal/stats"
	"handover-sim/pkg/types"
)

var testRemoteHost = types.Host{NodeID: 1, Label: "remoteHost", Address: netip.MustParseAddr("1.0.0.2")}

func testEndpoint(imsi uint64) *types.Endpoint {
	return &types.Endpoint{
		IMSI:    imsi,
		NodeID:  uint32(13 + imsi),
		Address: netip.AddrFrom4([4]byte{7, 0, 0, byte(1 + imsi)}),
		Gateway: netip.MustParseAddr("7.0.0.1"),
	}
}

type provisionerFixture struct {
	transport *mocks.MockTransport
	bearers   *mocks.MockBearerActivator
	store     *mocks.MockSessionStore
	stats     *stats.Collector
	prov      *Provisioner
}

func newProvisionerFixture(t *testing.T, ports *PortAllocator, jitter *Jitter) *provisionerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &provisionerFixture{
		transport: mocks.NewMockTransport(ctrl),
		bearers:   mocks.NewMockBearerActivator(ctrl),
		store:     mocks.NewMockSessionStore(ctrl),
		stats:     stats.NewCollector(),
	}
	prov, err := NewProvisioner(ProvisionerConfig{
		Ports:      ports,
		Jitter:     jitter,
		Transport:  f.transport,
		Bearers:    f.bearers,
		Store:      f.store,
		Stats:      f.stats,
		RemoteHost: testRemoteHost,
		QoS:        types.NGBRVideoTCPDefault,
	})
	require.NoError(t, err)
	f.prov = prov
	return f
}

func TestNewProvisioner_RequiresCollaborators(t *testing.T) {
	_, err := NewProvisioner(ProvisionerConfig{})
	assert.Error(t, err)

	_, err = NewProvisioner(ProvisionerConfig{
		Ports:      NewPortAllocator(10000, 20000),
		Jitter:     NewJitter(time.Second, 1),
		Transport:  mocks.NewMockTransport(gomock.NewController(t)),
		Bearers:    mocks.NewMockBearerActivator(gomock.NewController(t)),
		RemoteHost: testRemoteHost,
		QoS:        "NOT_A_CLASS",
	})
	assert.ErrorContains(t, err, "unknown QoS class")
}

func TestProvision_AllocatesUniquePortsPerBearer(t *testing.T) {
	f := newProvisionerFixture(t, NewPortAllocator(10000, 20000), NewJitter(time.Second, 7))
	f.transport.EXPECT().InstallFlow(gomock.Any(), gomock.Any()).Return(nil).Times(12)
	f.transport.EXPECT().StartFlows(gomock.Any(), gomock.Len(4), gomock.Any()).Return(nil).Times(3)
	f.bearers.EXPECT().ActivateBearer(gomock.Any(), gomock.Any()).Return(nil).Times(3)
	f.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).Times(3)

	ep := testEndpoint(1)
	sessions, err := f.prov.Provision(context.Background(), ep, 3)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, sessions, ep.Sessions)

	seen := make(map[uint16]bool)
	for i, s := range sessions {
		assert.Equal(t, i, s.Bearer)
		assert.Equal(t, uint16(10001+i), s.DownlinkPort)
		assert.Equal(t, uint16(20001+i), s.UplinkPort)
		assert.Equal(t, types.NGBRVideoTCPDefault, s.QoS)
		assert.True(t, s.TFT.Matches(s.DownlinkPort, 0))
		assert.True(t, s.TFT.Matches(0, s.UplinkPort))
		assert.Less(t, s.StartOffset, time.Second)
		assert.GreaterOrEqual(t, s.StartOffset, time.Duration(0))

		for _, p := range []uint16{s.DownlinkPort, s.UplinkPort} {
			assert.False(t, seen[p], "port %d reused", p)
			seen[p] = true
		}
	}
	assert.Len(t, seen, 6)
	assert.Equal(t, uint64(3), f.stats.SessionsProvisioned)
	assert.Equal(t, uint64(12), f.stats.FlowsInstalled)
}

func TestProvision_InstallsFlowsWithExpectedEndpoints(t *testing.T) {
	f := newProvisionerFixture(t, NewPortAllocator(10000, 20000), NewJitter(0, 1))
	var installed []types.Flow
	f.transport.EXPECT().InstallFlow(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, fl types.Flow) error {
			installed = append(installed, fl)
			return nil
		}).Times(4)
	f.transport.EXPECT().StartFlows(gomock.Any(), gomock.Any(), time.Duration(0)).Return(nil)
	f.bearers.EXPECT().ActivateBearer(gomock.Any(), gomock.Any()).Return(nil)
	f.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

	ep := testEndpoint(2)
	_, err := f.prov.Provision(context.Background(), ep, 1)
	require.NoError(t, err)
	require.Len(t, installed, 4)

	dlClient, dlServer, ulClient, ulServer := installed[0], installed[1], installed[2], installed[3]

	assert.Equal(t, testRemoteHost.NodeID, dlClient.NodeID)
	assert.Equal(t, netip.AddrPortFrom(ep.Address, 10001), dlClient.Peer)

	assert.Equal(t, ep.NodeID, dlServer.NodeID)
	assert.Equal(t, types.RoleServer, dlServer.Role)
	assert.True(t, dlServer.Local.Addr().IsUnspecified())
	assert.Equal(t, uint16(10001), dlServer.Local.Port())

	assert.Equal(t, ep.NodeID, ulClient.NodeID)
	assert.Equal(t, netip.AddrPortFrom(testRemoteHost.Address, 20001), ulClient.Peer)

	assert.Equal(t, testRemoteHost.NodeID, ulServer.NodeID)
	assert.Equal(t, uint16(20001), ulServer.Local.Port())
}

func TestProvision_ActivationRequestCarriesTFT(t *testing.T) {
	f := newProvisionerFixture(t, NewPortAllocator(10000, 20000), NewJitter(time.Second, 1))
	f.transport.EXPECT().InstallFlow(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f.transport.EXPECT().StartFlows(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	f.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil)

	ep := testEndpoint(1)
	f.bearers.EXPECT().ActivateBearer(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req types.BearerRequest) error {
			assert.Same(t, ep, req.Endpoint)
			assert.Equal(t, 0, req.Bearer)
			assert.Equal(t, types.BearerTFT(10001, 20001), req.TFT)
			assert.Equal(t, uint8(9), req.QoS.QCI())
			return nil
		})

	_, err := f.prov.Provision(context.Background(), ep, 1)
	require.NoError(t, err)
}

func TestProvision_RejectedBearerIsAbandoned(t *testing.T) {
	f := newProvisionerFixture(t, NewPortAllocator(10000, 20000), NewJitter(time.Second, 3))
	f.transport.EXPECT().InstallFlow(gomock.Any(), gomock.Any()).Return(nil).Times(12)
	f.transport.EXPECT().StartFlows(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(2)
	f.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	rejection := errors.New("no resources available")
	f.bearers.EXPECT().ActivateBearer(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req types.BearerRequest) error {
			if req.Bearer == 1 {
				return rejection
			}
			return nil
		}).Times(3)

	ep := testEndpoint(1)
	sessions, err := f.prov.Provision(context.Background(), ep, 3)
	require.Error(t, err)

	var bae *BearerActivationError
	require.ErrorAs(t, err, &bae)
	assert.Equal(t, 1, bae.Bearer)
	assert.Equal(t, uint64(1), bae.IMSI)
	assert.ErrorIs(t, err, rejection)

	require.Len(t, sessions, 2)
	assert.Equal(t, 0, sessions[0].Bearer)
	assert.Equal(t, 2, sessions[1].Bearer)
	// ports of the rejected bearer stay consumed
	assert.Equal(t, uint16(10003), sessions[1].DownlinkPort)
	assert.Equal(t, uint64(1), f.stats.BearersRejected)
}

func TestProvision_ExhaustionStopsProvisioning(t *testing.T) {
	f := newProvisionerFixture(t, NewPortAllocator(65534, 20000), NewJitter(time.Second, 1))
	f.transport.EXPECT().InstallFlow(gomock.Any(), gomock.Any()).Return(nil).Times(4)
	f.transport.EXPECT().StartFlows(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	f.bearers.EXPECT().ActivateBearer(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	f.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	sessions, err := f.prov.Provision(context.Background(), testEndpoint(1), 3)
	var exhausted *ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, types.Downlink, exhausted.Direction)
	require.Len(t, sessions, 1)
	assert.Equal(t, uint16(65535), sessions[0].DownlinkPort)
}

func TestProvision_TransportFailureIsFatal(t *testing.T) {
	f := newProvisionerFixture(t, NewPortAllocator(10000, 20000), NewJitter(time.Second, 1))
	f.transport.EXPECT().InstallFlow(gomock.Any(), gomock.Any()).Return(errors.New("node unreachable"))

	sessions, err := f.prov.Provision(context.Background(), testEndpoint(1), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node unreachable")
	assert.Empty(t, sessions)
}

func TestProvision_SaveFailureDoesNotAbandonSession(t *testing.T) {
	f := newProvisionerFixture(t, NewPortAllocator(10000, 20000), NewJitter(time.Second, 1))
	f.transport.EXPECT().InstallFlow(gomock.Any(), gomock.Any()).Return(nil).Times(4)
	f.transport.EXPECT().StartFlows(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	f.bearers.EXPECT().ActivateBearer(gomock.Any(), gomock.Any()).Return(nil)
	f.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("connection refused"))

	sessions, err := f.prov.Provision(context.Background(), testEndpoint(1), 1)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestProvision_CancelledContext(t *testing.T) {
	f := newProvisionerFixture(t, NewPortAllocator(10000, 20000), NewJitter(time.Second, 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.prov.Provision(ctx, testEndpoint(1), 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProvision_FlowsOfOneBearerShareStartOffset(t *testing.T) {
	f := newProvisionerFixture(t, NewPortAllocator(10000, 20000), NewJitter(time.Second, 11))
	f.transport.EXPECT().InstallFlow(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f.bearers.EXPECT().ActivateBearer(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	var starts []time.Duration
	f.transport.EXPECT().StartFlows(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, flows []types.Flow, at time.Duration) error {
			require.Len(t, flows, 4)
			for _, fl := range flows {
				assert.Equal(t, flows[0].Bearer, fl.Bearer)
			}
			starts = append(starts, at)
			return nil
		}).Times(2)

	sessions, err := f.prov.Provision(context.Background(), testEndpoint(1), 2)
	require.NoError(t, err)
	require.Len(t, starts, 2)
	assert.Equal(t, sessions[0].StartOffset, starts[0])
	assert.Equal(t, sessions[1].StartOffset, starts[1])
}

func TestProvisionAll_OrdersByIMSIAndIsDeterministic(t *testing.T) {
	run := func() []types.Session {
		f := newProvisionerFixture(t, NewPortAllocator(10000, 20000), NewJitter(time.Second, 42))
		f.transport.EXPECT().InstallFlow(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		f.transport.EXPECT().StartFlows(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		f.bearers.EXPECT().ActivateBearer(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
		f.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

		endpoints := []*types.Endpoint{testEndpoint(3), testEndpoint(1), testEndpoint(2)}
		result, err := f.prov.ProvisionAll(context.Background(), endpoints, 2)
		require.NoError(t, err)
		require.Empty(t, result.Abandoned)
		return result.Sessions
	}

	first := run()
	require.Len(t, first, 6)
	assert.Equal(t, uint64(1), first[0].IMSI)
	assert.Equal(t, uint16(10001), first[0].DownlinkPort)
	assert.Equal(t, uint64(3), first[5].IMSI)
	assert.Equal(t, uint16(10006), first[5].DownlinkPort)

	assert.Equal(t, first, run())
}

func TestProvisionAll_CollectsAbandonedBearers(t *testing.T) {
	f := newProvisionerFixture(t, NewPortAllocator(10000, 20000), NewJitter(time.Second, 5))
	f.transport.EXPECT().InstallFlow(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f.transport.EXPECT().StartFlows(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f.bearers.EXPECT().ActivateBearer(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req types.BearerRequest) error {
			if req.Endpoint.IMSI == 2 {
				return errors.New("rejected")
			}
			return nil
		}).AnyTimes()

	endpoints := []*types.Endpoint{testEndpoint(1), testEndpoint(2), testEndpoint(3)}
	result, err := f.prov.ProvisionAll(context.Background(), endpoints, 2)
	require.NoError(t, err)
	assert.Len(t, result.Sessions, 4)
	require.Len(t, result.Abandoned, 2)
	for _, a := range result.Abandoned {
		assert.Equal(t, uint64(2), a.IMSI)
	}
}

func TestProvisionAll_ExhaustionAborts(t *testing.T) {
	f := newProvisionerFixture(t, NewPortAllocator(10000, 65534), NewJitter(time.Second, 5))
	f.transport.EXPECT().InstallFlow(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f.transport.EXPECT().StartFlows(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f.bearers.EXPECT().ActivateBearer(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	f.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	result, err := f.prov.ProvisionAll(context.Background(), []*types.Endpoint{testEndpoint(1), testEndpoint(2)}, 1)
	var exhausted *ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, types.Uplink, exhausted.Direction)
	assert.Len(t, result.Sessions, 1)
}

func TestProvisionAll_KeepsAbandonedBearersWhenExhausted(t *testing.T) {
	f := newProvisionerFixture(t, NewPortAllocator(65533, 20000), NewJitter(time.Second, 1))
	f.transport.EXPECT().InstallFlow(gomock.Any(), gomock.Any()).Return(nil).Times(8)
	f.transport.EXPECT().StartFlows(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)
	f.store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	rejection := errors.New("no resources available")
	f.bearers.EXPECT().ActivateBearer(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req types.BearerRequest) error {
			if req.Bearer == 0 {
				return rejection
			}
			return nil
		}).Times(2)

	result, err := f.prov.ProvisionAll(context.Background(), []*types.Endpoint{testEndpoint(1)}, 3)

	var exhausted *ExhaustionError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, types.Downlink, exhausted.Direction)
	assert.ErrorIs(t, err, rejection)

	require.Len(t, result.Sessions, 1)
	assert.Equal(t, 1, result.Sessions[0].Bearer)
	require.Len(t, result.Abandoned, 1)
	assert.Equal(t, 0, result.Abandoned[0].Bearer)
	assert.Equal(t, uint64(1), f.stats.BearersRejected)
}
