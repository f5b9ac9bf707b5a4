package rrc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracePath(t *testing.T) {
	assert.Equal(t, "/NodeList/15/DeviceList/0/LteUeRrc/HandoverStart",
		TracePath(15, 0, RoleUE, HandoverStarted))
	assert.Equal(t, "/NodeList/2/DeviceList/1/LteEnbRrc/HandoverEndOk",
		TracePath(2, 1, RoleENB, HandoverCompleted))
}

func TestBus_DeliversToMatchingPatterns(t *testing.T) {
	bus := NewBus()
	var ueHits, enbHits []string

	require.NoError(t, bus.Connect(SourcePattern(RoleUE, ConnectionEstablished), func(ctx string, args ...uint64) {
		ueHits = append(ueHits, ctx)
		assert.Equal(t, []uint64{7, 1, 3}, args)
	}))
	require.NoError(t, bus.Connect(SourcePattern(RoleENB, ConnectionEstablished), func(ctx string, args ...uint64) {
		enbHits = append(enbHits, ctx)
	}))

	ctx := TracePath(20, 0, RoleUE, ConnectionEstablished)
	n := bus.Publish(ctx, 7, 1, 3)

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{ctx}, ueHits)
	assert.Empty(t, enbHits)
}

func TestBus_NoSubscriber(t *testing.T) {
	bus := NewBus()
	assert.Equal(t, 0, bus.Publish("/NodeList/1/DeviceList/0/LteUeRrc/HandoverStart", 1, 2, 3, 4))
}

func TestBus_SubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var order []int
	pattern := SourcePattern(RoleENB, HandoverStarted)
	require.NoError(t, bus.Connect(pattern, func(string, ...uint64) { order = append(order, 1) }))
	require.NoError(t, bus.Connect("/NodeList/*/DeviceList/*/*/*", func(string, ...uint64) { order = append(order, 2) }))

	assert.Equal(t, 2, bus.Publish(TracePath(3, 0, RoleENB, HandoverStarted), 1, 1, 1, 2))
	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, 2, bus.Subscribers())
}

func TestBus_RejectsBadPattern(t *testing.T) {
	bus := NewBus()
	assert.Error(t, bus.Connect("/NodeList/[/x", func(string, ...uint64) {}))
	assert.Error(t, bus.Connect("/NodeList/*", nil))
}

func TestParseKindAndRole(t *testing.T) {
	k, err := ParseKind("handover_start")
	require.NoError(t, err)
	assert.Equal(t, HandoverStarted, k)

	k, err = ParseKind("HandoverEndOk")
	require.NoError(t, err)
	assert.Equal(t, HandoverCompleted, k)
	assert.Equal(t, 3, k.Arity())

	_, err = ParseKind("detach")
	assert.Error(t, err)

	r, err := ParseRole("eNB")
	require.NoError(t, err)
	assert.Equal(t, RoleENB, r)

	_, err = ParseRole("mme")
	assert.Error(t, err)
}
