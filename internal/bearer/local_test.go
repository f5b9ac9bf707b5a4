package bearer

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handover-sim/pkg/types"
)

func testEndpoint(imsi uint64) *types.Endpoint {
	return &types.Endpoint{
		IMSI:    imsi,
		NodeID:  uint32(13 + imsi),
		Address: netip.AddrFrom4([4]byte{7, 0, 0, byte(1 + imsi)}),
	}
}

func bearerRequest(ep *types.Endpoint, b int) types.BearerRequest {
	return types.BearerRequest{
		Endpoint: ep,
		Bearer:   b,
		QoS:      types.NGBRVideoTCPDefault,
		TFT:      types.BearerTFT(uint16(10001+b), uint16(20001+b)),
	}
}

func TestTable_AssignsLowestFreeEBI(t *testing.T) {
	table := NewTable(0, 0)
	ep := testEndpoint(1)

	for b := 0; b < 3; b++ {
		require.NoError(t, table.ActivateBearer(context.Background(), bearerRequest(ep, b)))
	}
	recs := table.Bearers(1)
	require.Len(t, recs, 3)
	assert.Equal(t, uint8(6), recs[0].EBI)
	assert.Equal(t, uint8(7), recs[1].EBI)
	assert.Equal(t, uint8(8), recs[2].EBI)

	table.Release(1, 7)
	rec, err := table.Reserve(bearerRequest(ep, 3))
	require.NoError(t, err)
	assert.Equal(t, uint8(7), rec.EBI, "released id is reused")
	assert.Equal(t, 3, table.Count())
}

func TestTable_PerEndpointLimit(t *testing.T) {
	table := NewTable(2, 0)
	ep := testEndpoint(1)

	require.NoError(t, table.ActivateBearer(context.Background(), bearerRequest(ep, 0)))
	require.NoError(t, table.ActivateBearer(context.Background(), bearerRequest(ep, 1)))
	err := table.ActivateBearer(context.Background(), bearerRequest(ep, 2))
	assert.ErrorIs(t, err, ErrTooManyBearers)

	// other endpoints are unaffected
	assert.NoError(t, table.ActivateBearer(context.Background(), bearerRequest(testEndpoint(2), 0)))
}

func TestTable_LimitCappedAtEBISpace(t *testing.T) {
	table := NewTable(50, 0)
	ep := testEndpoint(1)
	for b := 0; b < MaxDedicatedBearers; b++ {
		require.NoError(t, table.ActivateBearer(context.Background(), bearerRequest(ep, b)))
	}
	err := table.ActivateBearer(context.Background(), bearerRequest(ep, MaxDedicatedBearers))
	assert.ErrorIs(t, err, ErrTooManyBearers)
}

func TestTable_RejectsInvalidRequests(t *testing.T) {
	table := NewTable(0, 0)
	ep := testEndpoint(1)

	req := bearerRequest(ep, 0)
	req.TFT = types.TrafficFilterTemplate{}
	assert.ErrorIs(t, table.ActivateBearer(context.Background(), req), ErrEmptyTFT)

	req = bearerRequest(ep, 0)
	req.QoS = "BOGUS"
	assert.ErrorIs(t, table.ActivateBearer(context.Background(), req), ErrUnknownQoSClass)

	req = bearerRequest(nil, 0)
	assert.ErrorIs(t, table.ActivateBearer(context.Background(), req), ErrEndpointRequired)

	assert.Zero(t, table.Count())
}

func TestTable_DuplicateFilter(t *testing.T) {
	table := NewTable(0, 0)
	ep := testEndpoint(1)

	require.NoError(t, table.ActivateBearer(context.Background(), bearerRequest(ep, 0)))
	err := table.ActivateBearer(context.Background(), bearerRequest(ep, 0))
	assert.ErrorIs(t, err, ErrDuplicateFilter)

	// the same ports on another endpoint are fine
	assert.NoError(t, table.ActivateBearer(context.Background(), bearerRequest(testEndpoint(2), 0)))
}

func TestTable_RejectEvery(t *testing.T) {
	table := NewTable(0, 3)
	ep := testEndpoint(1)

	var rejected []int
	for b := 0; b < 7; b++ {
		if err := table.ActivateBearer(context.Background(), bearerRequest(ep, b)); err != nil {
			assert.ErrorIs(t, err, ErrAdmissionDenied)
			rejected = append(rejected, b)
		}
	}
	assert.Equal(t, []int{2, 5}, rejected)
	assert.Equal(t, 5, table.Count())
}

func TestTable_CancelledContext(t *testing.T) {
	table := NewTable(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := table.ActivateBearer(ctx, bearerRequest(testEndpoint(1), 0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, table.Count())
}
