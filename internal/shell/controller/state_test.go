package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Transition Tests
// =============================================================================

func TestValidateTransition_Valid(t *testing.T) {
	valid := []struct {
		from, to ServiceState
	}{
		{StatePending, StateStarting},
		{StatePending, StateStopped},
		{StateStarting, StateReady},
		{StateStarting, StateFailed},
		{StateStarting, StateStopping},
		{StateReady, StateStopping},
		{StateFailed, StateStopping},
		{StateStopping, StateStopped},
	}
	for _, tc := range valid {
		assert.NoError(t, ValidateTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTransition_Invalid(t *testing.T) {
	invalid := []struct {
		from, to ServiceState
	}{
		{StatePending, StateReady},
		{StatePending, StateFailed},
		{StateReady, StateStarting},
		{StateReady, StateFailed},
		{StateFailed, StateReady},
		{StateStopped, StateStarting},
		{StateStopped, StateStopping},
		{StateStopping, StateReady},
	}
	for _, tc := range invalid {
		assert.Error(t, ValidateTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTransition_UnknownState(t *testing.T) {
	err := ValidateTransition(ServiceState("bogus"), StateReady)
	assert.Error(t, err)
}

// =============================================================================
// RunningSet Tests
// =============================================================================

func TestRunningSet_InitialStatePending(t *testing.T) {
	rs := newRunningSet("run-1", "blog", [][]string{{"db"}, {"api", "web"}})

	for _, name := range []string{"db", "api", "web"} {
		state, ok := rs.State(name)
		require.True(t, ok)
		assert.Equal(t, StatePending, state)
	}
}

func TestRunningSet_OrderAndRanks(t *testing.T) {
	rs := newRunningSet("run-1", "blog", [][]string{{"db"}, {"api", "web"}})

	assert.Equal(t, []string{"db", "api", "web"}, rs.Order())
	assert.Equal(t, [][]string{{"db"}, {"api", "web"}}, rs.Ranks())

	db, ok := rs.Status("db")
	require.True(t, ok)
	assert.Equal(t, 0, db.Rank)
	assert.Equal(t, 0, db.Position)

	web, ok := rs.Status("web")
	require.True(t, ok)
	assert.Equal(t, 1, web.Rank)
	assert.Equal(t, 2, web.Position)
}

func TestRunningSet_TransitionEnforced(t *testing.T) {
	rs := newRunningSet("run-1", "blog", [][]string{{"db"}})

	require.NoError(t, rs.transition("db", StateStarting))
	require.NoError(t, rs.transition("db", StateReady))

	// Ready cannot go back to Starting
	assert.Error(t, rs.transition("db", StateStarting))

	state, _ := rs.State("db")
	assert.Equal(t, StateReady, state)
}

func TestRunningSet_UnknownService(t *testing.T) {
	rs := newRunningSet("run-1", "blog", [][]string{{"db"}})
	assert.Error(t, rs.transition("ghost", StateStarting))
}

func TestRunningSet_InStateOrderedByPosition(t *testing.T) {
	rs := newRunningSet("run-1", "blog", [][]string{{"db"}, {"api", "web"}})
	require.NoError(t, rs.transition("web", StateStarting))
	require.NoError(t, rs.transition("db", StateStarting))

	assert.Equal(t, []string{"db", "web"}, rs.InState(StateStarting))
	assert.Equal(t, []string{"api"}, rs.InState(StatePending))
}
