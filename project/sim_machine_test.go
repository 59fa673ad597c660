package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimExtruderLeavesSecondCarriage(t *testing.T) {
	sim := NewSimulatedMachine(testDualConfig(), Position{50, 80, 30, 0}, 200)
	t.Cleanup(sim.Close)

	require.NoError(t, sim.Buffer_line(&PlannerMove{Target: Position{60, 80, 30, 5}, Feedrate: 10}))
	require.NoError(t, sim.Synchronize())
	assert.Equal(t, Position{60, 80, 30, 5}, sim.Physical(0))
	assert.Equal(t, 200.0, sim.Physical(1)[X_AXIS])

	// E frame shifts must not leak into the second carriage
	sim.Set_position(Position{0, 0, 0, 7}, 0)
	reached, err := sim.Homing_move(&HomingRequest{
		Target:   Position{260, 0, 0, 7},
		Feedrate: 10,
		Axes:     []int{X_AXIS},
		Extruder: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 250.0, reached[X_AXIS])
	assert.True(t, sim.Triggered(X_AXIS, 1))
	assert.Equal(t, 60.0, sim.Physical(0)[X_AXIS])
	assert.Equal(t, 5.0, sim.Physical(1)[E_AXIS])
}
