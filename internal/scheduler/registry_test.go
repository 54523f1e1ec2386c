package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterRejectsDuplicateWithoutReplace(t *testing.T) {
	r := NewRegistry(5)
	require.NoError(t, r.Register("emails", func(*JobContext) error { return nil }, RegisterOptions{}))

	err := r.Register("emails", func(*JobContext) error { return nil }, RegisterOptions{})
	require.Error(t, err, "re-registering without Replace should fail")

	err = r.Register("emails", func(*JobContext) error { return nil }, RegisterOptions{Replace: true})
	assert.NoError(t, err, "re-registering with Replace should succeed")
}

func TestRegistry_SlotsReflectsConcurrencyLimit(t *testing.T) {
	r := NewRegistry(5)
	require.NoError(t, r.Register("emails", func(*JobContext) error { return nil }, RegisterOptions{Concurrency: 2}))

	assert.Equal(t, 2, r.Slots("emails"), "fresh registration should have full slots available")

	r.Track("emails", "job-1")
	assert.Equal(t, 1, r.Slots("emails"), "tracking one job should consume one slot")

	r.Track("emails", "job-2")
	assert.Equal(t, 0, r.Slots("emails"), "tracking up to the limit should leave zero slots")

	r.Untrack("emails", "job-1")
	assert.Equal(t, 1, r.Slots("emails"), "untracking should free a slot")
}

func TestRegistry_SlotsUsesDefaultConcurrencyWhenUnset(t *testing.T) {
	r := NewRegistry(3)
	require.NoError(t, r.Register("reports", func(*JobContext) error { return nil }, RegisterOptions{}))

	assert.Equal(t, 3, r.Slots("reports"), "unregistered concurrency should fall back to the registry default")
}

func TestRegistry_SlotsForUnregisteredNameIsZero(t *testing.T) {
	r := NewRegistry(5)
	assert.Equal(t, 0, r.Slots("unknown"), "an unregistered job name should never be dispatched")
}

func TestRegistry_InFlightCountAcrossNames(t *testing.T) {
	r := NewRegistry(5)
	require.NoError(t, r.Register("a", func(*JobContext) error { return nil }, RegisterOptions{}))
	require.NoError(t, r.Register("b", func(*JobContext) error { return nil }, RegisterOptions{}))

	r.Track("a", "1")
	r.Track("b", "2")
	r.Track("b", "3")

	assert.Equal(t, 3, r.InFlightCount(), "in-flight count should sum across every registered name")
	assert.ElementsMatch(t, []string{"1", "2", "3"}, r.InFlightIDs(), "in-flight IDs should report every tracked job")

	r.Untrack("b", "2")
	assert.Equal(t, 2, r.InFlightCount())
}

func TestRegistry_UntrackUnknownNameIsNoop(t *testing.T) {
	r := NewRegistry(5)
	assert.NotPanics(t, func() { r.Untrack("ghost", "job-1") })
}
