package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k3m/common/errors"
)

func TestHomeAllQuickAndSafeZ(t *testing.T) {
	rig := newTestRig(t, testMachineConfig(), Position{120, 80, 30, 0}, 0)
	require.NoError(t, rig.mech.Home(true))

	assert.Equal(t, Position{100, 100, 0, 0}, rig.mech.Current_position)
	assert.Equal(t, [XYZ]bool{true, true, true}, rig.mech.Homed)
	assert.Equal(t, Position{100, 100, 0, 0}, rig.sim.Physical(0))

	homes := rig.sim.Home_moves()
	require.NotEmpty(t, homes)
	quick := homes[0]
	require.Equal(t, []int{X_AXIS, Y_AXIS}, quick.Axes)
	// each axis stopped on its own endstop
	assert.InDelta(t, -120, quick.Reached[X_AXIS]-quick.Start[X_AXIS], 1e-9)
	assert.InDelta(t, -80, quick.Reached[Y_AXIS]-quick.Start[Y_AXIS], 1e-9)

	firstZ := -1
	for i, m := range homes {
		if len(m.Axes) == 1 && m.Axes[0] == Z_AXIS {
			if firstZ < 0 {
				firstZ = i
			}
			continue
		}
		assert.Equal(t, -1, firstZ, "X/Y homing move after Z seek started")
	}
	require.Greater(t, firstZ, 0)
	assert.Equal(t, 100.0, homes[firstZ].Start[X_AXIS])
	assert.Equal(t, 100.0, homes[firstZ].Start[Y_AXIS])
}

func TestHomeaxisApproachIsMonotonic(t *testing.T) {
	cfg := testMachineConfig()
	cfg.Homing.QuickHome = false
	cfg.Homing.SafeZHome = false
	cfg.Axes.Y.HomeDir = 1
	cfg.Axes.Y.HomePos = 200
	rig := newTestRig(t, cfg, Position{120, 80, 30, 0}, 0)
	require.NoError(t, rig.mech.Home(true))

	homes := rig.sim.Home_moves()
	require.Len(t, homes, 9)
	for i := 0; i < len(homes); i += 3 {
		axis := homes[i].Axes[0]
		dir := float64(cfg.Axes.Get(axis).HomeDir)
		approach, backoff, bump := homes[i], homes[i+1], homes[i+2]
		assert.Positive(t, (approach.Target[axis]-approach.Start[axis])*dir, axisCodes[axis])
		assert.Negative(t, (backoff.Target[axis]-backoff.Start[axis])*dir, axisCodes[axis])
		assert.Positive(t, (bump.Target[axis]-bump.Start[axis])*dir, axisCodes[axis])
		assert.InDelta(t, approach.Feedrate/cfg.Axes.Get(axis).BumpDivisor, bump.Feedrate, 1e-9)
		// the slow approach ends where the fast one did
		assert.InDelta(t, 0, (backoff.Reached[axis]-backoff.Start[axis])+(bump.Reached[axis]-bump.Start[axis]), 1e-9)
	}
	assert.Equal(t, Position{0, 200, 0, 0}, rig.mech.Current_position)
}

func TestHomingFailureAborts(t *testing.T) {
	rig := newTestRig(t, testMachineConfig(), Position{120, 80, 30, 0}, 0)
	rig.sim.Missing[Y_AXIS] = true

	err := rig.mech.Home(true)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.HomingFailedCode))
	assert.True(t, rig.mech.Homed[X_AXIS])
	assert.False(t, rig.mech.Homed[Y_AXIS])
	assert.False(t, rig.mech.Homed[Z_AXIS])
	for _, m := range rig.sim.Home_moves() {
		assert.NotContains(t, m.Axes, Z_AXIS)
	}
}

func TestSafeZNeedsXYHomed(t *testing.T) {
	rig := newTestRig(t, testMachineConfig(), Position{120, 80, 30, 0}, 0)
	err := rig.mech.Home(false, Z_AXIS)
	assert.True(t, errors.HasCode(err, errors.MustHomeXYAxesFirstCode))
	assert.False(t, rig.mech.Homed[Z_AXIS])
	assert.Empty(t, rig.sim.Home_moves())
}

func TestHomeZUpFirst(t *testing.T) {
	cfg := testMachineConfig()
	cfg.Axes.Z.HomeDir = 1
	cfg.Axes.Z.HomePos = 180
	rig := newTestRig(t, cfg, Position{120, 80, 30, 0}, 0)
	require.NoError(t, rig.mech.Home(true))

	homes := rig.sim.Home_moves()
	assert.Equal(t, []int{Z_AXIS}, homes[0].Axes)
	assert.Equal(t, Position{0, 0, 180, 0}, rig.mech.Current_position)
}

func TestDoubleZHome(t *testing.T) {
	cfg := testMachineConfig()
	cfg.Homing.DoubleZHome = true
	cfg.Homing.ZRaiseBeforeHoming = 3
	rig := newTestRig(t, cfg, Position{120, 80, 30, 0}, 0)
	require.NoError(t, rig.mech.Home(true))

	var zMoves []SimMove
	for _, m := range rig.sim.Home_moves() {
		if m.Axes[0] == Z_AXIS {
			zMoves = append(zMoves, m)
		}
	}
	require.Len(t, zMoves, 6)
	assert.InDelta(t, zMoves[0].Feedrate*DOUBLE_Z_HOMING_SPEED_FACTOR, zMoves[3].Feedrate, 1e-9)
	assert.Equal(t, 0.0, rig.mech.Current_position[Z_AXIS])
	assert.True(t, rig.mech.Homed[Z_AXIS])
}

func TestZRaiseBeforeRehoming(t *testing.T) {
	cfg := testMachineConfig()
	cfg.Homing.ZRaiseBeforeHoming = 5
	rig := newTestRig(t, cfg, Position{120, 80, 30, 0}, 0)
	require.NoError(t, rig.mech.Home(true))

	from := len(rig.sim.Moves)
	require.NoError(t, rig.mech.Home(false, X_AXIS))
	lines := rig.lines(from)
	require.NotEmpty(t, lines)
	assert.Equal(t, 5.0, lines[0].Target[Z_AXIS])
	assert.Equal(t, Position{0, 100, 5, 0}, rig.mech.Current_position)
}

func TestHomeRejectsUnknownAxis(t *testing.T) {
	rig := newTestRig(t, testMachineConfig(), Position{120, 80, 30, 0}, 0)
	err := rig.mech.Home(false, E_AXIS)
	assert.True(t, errors.HasCode(err, errors.InvalidArgumentCode))
}
