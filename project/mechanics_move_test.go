package project

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"k3m/common/errors"
)

func TestPrepareMoveAppliesCorrectionsInOrder(t *testing.T) {
	cfg := testMachineConfig()
	cfg.Hysteresis.Z = 0.02
	cfg.ZWobble.Samples = [][2]float64{{0, 0}, {10, 10.2}, {20, 19.8}}
	rig := newTestRig(t, cfg, Position{120, 80, 30, 0}, 0)
	require.NoError(t, rig.mech.Home(true))
	rig.mech.Set_leveling(&FlatLeveling{Offset: 0.05})
	require.True(t, rig.mech.Wobble.Are_parameters_consistent())

	from := len(rig.sim.Moves)
	for _, dest := range []Position{{100, 100, 10.2, 0}, {100, 100, 12, 0}, {110, 100, 5, 1}} {
		done, err := rig.mech.Prepare_move_to_destination(dest, 20)
		require.NoError(t, err)
		require.True(t, done)
		assert.Equal(t, dest, rig.mech.Current_position)
	}

	rodAt12 := rig.mech.Wobble.Find_z_rod(12)
	rodAt5 := rig.mech.Wobble.Find_z_rod(5)
	want := []SimMove{
		// Z leaves the endstop upward: backlash taken up
		{Kind: SIM_MOVE_LINE, Target: Position{100, 100, 10 + 0.05, 0}, Feedrate: 20, CorrectionSteps: [XYZE]int64{0, 0, 8, 0}},
		{Kind: SIM_MOVE_LINE, Target: Position{100, 100, rodAt12 + 0.05, 0}, Feedrate: 20},
		{Kind: SIM_MOVE_LINE, Target: Position{110, 100, rodAt5 + 0.05, 1}, Feedrate: 20, CorrectionSteps: [XYZE]int64{0, 0, -8, 0}},
	}
	if diff := cmp.Diff(want, rig.lines(from), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("planner moves mismatch (-want +got):\n%s", diff)
	}
}

func TestPrepareMoveBelowMinZUncorrected(t *testing.T) {
	cfg := testMachineConfig()
	cfg.ZWobble.Samples = [][2]float64{{0, 0.02}, {10, 10.2}}
	rig := newTestRig(t, cfg, Position{120, 80, 30, 0}, 0)
	require.NoError(t, rig.mech.Home(true))

	from := len(rig.sim.Moves)
	_, err := rig.mech.Prepare_move_to_destination(Position{100, 100, 0.05, 0}, 20)
	require.NoError(t, err)
	assert.Equal(t, 0.05, rig.lines(from)[0].Target[Z_AXIS])
}

func TestPrepareMoveNeedsSegmentation(t *testing.T) {
	rig := newTestRig(t, testMachineConfig(), Position{120, 80, 30, 0}, 0)
	require.NoError(t, rig.mech.Home(true))
	rig.mech.Set_leveling(&FlatLeveling{Segment: 10})

	from := len(rig.sim.Moves)
	done, err := rig.mech.Prepare_move_to_destination(Position{150, 100, 0, 0}, 20)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Empty(t, rig.lines(from))
	assert.Equal(t, Position{100, 100, 0, 0}, rig.mech.Current_position)

	done, err = rig.mech.Prepare_move_to_destination(Position{105, 105, 0, 0}, 20)
	require.NoError(t, err)
	assert.True(t, done)
	require.NoError(t, rig.sim.Synchronize())
	assert.Equal(t, Position{105, 105, 0, 0}, rig.sim.Physical(0))
}

func TestPrepareMoveFromOtherGoroutineIsReported(t *testing.T) {
	rig := newTestRig(t, testMachineConfig(), Position{120, 80, 30, 0}, 0)
	rig.mech.Bind_main_loop()
	require.NoError(t, rig.mech.Home(true))

	done := make(chan struct{})
	go func() {
		defer close(done)
		rig.mech.guard.Check("test")
	}()
	<-done
	assert.Equal(t, uint64(1), rig.mech.Loop_violations())
}

// flakyPlanner refuses the next failures buffered lines.
type flakyPlanner struct {
	IPlanner
	failures int
}

func (self *flakyPlanner) Buffer_line(move *PlannerMove) error {
	if self.failures > 0 {
		self.failures--
		return errors.Newf(errors.UnknownCode, "planner queue full")
	}
	return self.IPlanner.Buffer_line(move)
}

func TestSafePointTravelSetsHysteresisDirection(t *testing.T) {
	cfg := testMachineConfig()
	cfg.Hysteresis.X = 0.1
	rig := newTestRig(t, cfg, Position{120, 80, 30, 0}, 0)
	require.NoError(t, rig.mech.Home(true))
	require.Equal(t, Position{100, 100, 0, 0}, rig.mech.Current_position)

	from := len(rig.sim.Moves)
	for _, x := range []float64{120, 110} {
		_, err := rig.mech.Prepare_move_to_destination(Position{x, 100, 0, 0}, 20)
		require.NoError(t, err)
	}
	lines := rig.lines(from)
	require.Len(t, lines, 2)
	// X kept going + after the safe point travel
	assert.Equal(t, [XYZE]int64{}, lines[0].CorrectionSteps)
	assert.Equal(t, [XYZE]int64{-8, 0, 0, 0}, lines[1].CorrectionSteps)
}

func TestRejectedMoveKeepsHysteresisState(t *testing.T) {
	cfg := testMachineConfig()
	cfg.Hysteresis.X = 0.1
	rig := newTestRig(t, cfg, Position{120, 80, 30, 0}, 0)
	require.NoError(t, rig.mech.Home(true))
	flaky := &flakyPlanner{IPlanner: rig.sim}
	rig.mech.planner = flaky

	_, err := rig.mech.Prepare_move_to_destination(Position{120, 100, 0, 0}, 20)
	require.NoError(t, err)
	bits := rig.mech.Hysteresis.Prev_direction_bits

	flaky.failures = 1
	done, err := rig.mech.Prepare_move_to_destination(Position{110, 100, 0, 0}, 20)
	require.Error(t, err)
	assert.False(t, done)
	assert.Equal(t, bits, rig.mech.Hysteresis.Prev_direction_bits)
	assert.Equal(t, 0.0, rig.mech.Hysteresis.Axis_shift[X_AXIS])
	assert.Equal(t, Position{120, 100, 0, 0}, rig.mech.Current_position)

	from := len(rig.sim.Moves)
	done, err = rig.mech.Prepare_move_to_destination(Position{110, 100, 0, 0}, 20)
	require.NoError(t, err)
	assert.True(t, done)
	lines := rig.lines(from)
	require.Len(t, lines, 1)
	assert.Equal(t, [XYZE]int64{-8, 0, 0, 0}, lines[0].CorrectionSteps)
	assert.InDelta(t, -0.1, rig.mech.Hysteresis.Axis_shift[X_AXIS], 1e-9)
}
