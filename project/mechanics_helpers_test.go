package project

import (
	"testing"

	"github.com/stretchr/testify/require"

	"k3m/common/config"
)

func testMachineConfig() *config.MachineConfig {
	cfg := &config.MachineConfig{
		Axes: config.AxesConfig{
			X: config.AxisConfig{MinPos: 0, MaxPos: 200, HomePos: 0, HomeDir: -1, HomingFeedrate: 50},
			Y: config.AxisConfig{MinPos: 0, MaxPos: 200, HomePos: 0, HomeDir: -1, HomingFeedrate: 40},
			Z: config.AxisConfig{MinPos: 0, MaxPos: 180, HomePos: 0, HomeDir: -1, HomingFeedrate: 10},
		},
		StepsPerMM: testStepsPerMM,
		Homing: config.HomingConfig{
			QuickHome: true,
			SafeZHome: true,
			SafeX:     100,
			SafeY:     100,
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func testDualConfig() *config.MachineConfig {
	cfg := testMachineConfig()
	cfg.Homing.QuickHome = false
	cfg.Homing.SafeZHome = false
	cfg.DualCarriage = config.DualCarriageConfig{
		Enabled:             true,
		X2MinPos:            30,
		X2MaxPos:            250,
		X2HomePos:           250,
		X2HomeDir:           1,
		DuplicateXOffset:    100,
		DuplicateTempOffset: -5,
		MinSeparation:       30,
	}
	cfg.ApplyDefaults()
	return cfg
}

type testRig struct {
	cfg  *config.MachineConfig
	sim  *SimulatedMachine
	mech *CartesianMechanics
}

func newTestRig(t *testing.T, cfg *config.MachineConfig, start Position, startX2 float64) *testRig {
	t.Helper()
	require.NoError(t, cfg.Validate())
	sim := NewSimulatedMachine(cfg, start, startX2)
	t.Cleanup(sim.Close)
	return &testRig{cfg: cfg, sim: sim, mech: NewCartesianMechanics(cfg, sim, sim, nil)}
}

// lines returns the line moves recorded from index from on.
func (self *testRig) lines(from int) []SimMove {
	var moves []SimMove
	for _, m := range self.sim.Moves[from:] {
		if m.Kind == SIM_MOVE_LINE {
			moves = append(moves, m)
		}
	}
	return moves
}
