package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusDraft, StatusPending},
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusConfirmed, StatusShipped},
		{StatusConfirmed, StatusCancelled},
		{StatusShipped, StatusDelivered},
		{StatusShipped, StatusCancelled},
	}
	for _, tc := range allowed {
		assert.True(t, valid(tc.from, tc.to), "%s -> %s should be valid", tc.from, tc.to)
	}

	forbidden := []struct{ from, to Status }{
		{StatusDraft, StatusConfirmed},
		{StatusDraft, StatusCancelled},
		{StatusPending, StatusShipped},
		{StatusPending, StatusDelivered},
		{StatusConfirmed, StatusDelivered},
		{StatusDelivered, StatusCancelled},
		{StatusDelivered, StatusShipped},
		{StatusCancelled, StatusPending},
		{StatusShipped, StatusConfirmed},
	}
	for _, tc := range forbidden {
		assert.False(t, valid(tc.from, tc.to), "%s -> %s should be invalid", tc.from, tc.to)
	}
}

func TestCanTransitionByRole(t *testing.T) {
	t.Run("admin applies any valid transition", func(t *testing.T) {
		assert.True(t, CanTransition(RoleAdmin, StatusDraft, StatusPending))
		assert.True(t, CanTransition(RoleAdmin, StatusShipped, StatusCancelled))
		assert.False(t, CanTransition(RoleAdmin, StatusDelivered, StatusCancelled),
			"even admins cannot leave a terminal state")
	})

	t.Run("producer drives fulfillment forward", func(t *testing.T) {
		assert.True(t, CanTransition(RoleProducer, StatusPending, StatusConfirmed))
		assert.True(t, CanTransition(RoleProducer, StatusConfirmed, StatusShipped))
		assert.True(t, CanTransition(RoleProducer, StatusShipped, StatusDelivered))
		assert.False(t, CanTransition(RoleProducer, StatusDraft, StatusPending),
			"only the buyer submits their draft")
	})

	t.Run("producer cancels before delivery", func(t *testing.T) {
		assert.True(t, CanTransition(RoleProducer, StatusPending, StatusCancelled))
		assert.True(t, CanTransition(RoleProducer, StatusConfirmed, StatusCancelled))
		assert.True(t, CanTransition(RoleProducer, StatusShipped, StatusCancelled))
		assert.False(t, CanTransition(RoleProducer, StatusDelivered, StatusCancelled))
	})

	t.Run("buyer submits and cancels pending only", func(t *testing.T) {
		assert.True(t, CanTransition(RoleBuyer, StatusDraft, StatusPending))
		assert.True(t, CanTransition(RoleBuyer, StatusPending, StatusCancelled))
		assert.False(t, CanTransition(RoleBuyer, StatusPending, StatusConfirmed))
		assert.False(t, CanTransition(RoleBuyer, StatusConfirmed, StatusCancelled),
			"once confirmed, cancellation moves to the producer")
		assert.False(t, CanTransition(RoleBuyer, StatusShipped, StatusDelivered))
	})

	t.Run("unknown role may do nothing", func(t *testing.T) {
		assert.False(t, CanTransition(Role("support"), StatusPending, StatusConfirmed))
	})
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusDraft.Open())
	assert.True(t, StatusPending.Open())
	assert.False(t, StatusConfirmed.Open())
	assert.False(t, StatusCancelled.Open())

	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusShipped.Terminal())
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus("CONFIRMED")
	assert.True(t, ok)
	assert.Equal(t, StatusConfirmed, st)

	_, ok = ParseStatus("confirmed")
	assert.False(t, ok)
	_, ok = ParseStatus("UNKNOWN")
	assert.False(t, ok)
}
