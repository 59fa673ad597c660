package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportHysteresis(t *testing.T) {
	m := newTestRig(t, testMachineConfig(), Position{}, 0).mech
	out, err := m.Report_hysteresis()
	require.NoError(t, err)
	assert.Contains(t, out, "Hysteresis compensation off")

	m.Hysteresis.Set_hysteresis_axis(X_AXIS, 0.1)
	out, err = m.Report_hysteresis()
	require.NoError(t, err)
	assert.Contains(t, out, "X0.1000mm(8)")
	assert.Contains(t, out, "Applied shift: X0.0000")
}

func TestReportZWobble(t *testing.T) {
	m := newTestRig(t, testMachineConfig(), Position{}, 0).mech
	require.NoError(t, m.Wobble.Set_zwobble_sample(0, 0))
	require.NoError(t, m.Wobble.Set_zwobble_sample(10, 10.2))
	out, err := m.Report_zwobble()
	require.NoError(t, err)
	assert.Contains(t, out, "Z-wobble: table")
	assert.Contains(t, out, "Z10.000 H10.200")
	assert.Contains(t, out, "compensation active")

	m.Wobble.Set_zwobble_period(4)
	m.Wobble.Set_zwobble_amplitude(2)
	out, err = m.Report_zwobble()
	require.NoError(t, err)
	assert.Contains(t, out, "Z-wobble: sinusoidal A2.0000 W4.0000")
	assert.Contains(t, out, "compensation off")
}

func TestReportDualX(t *testing.T) {
	m := newTestRig(t, testMachineConfig(), Position{}, 0).mech
	out, err := m.Report_dual_x()
	require.NoError(t, err)
	assert.Equal(t, "Dual X carriage: not configured", out)

	rig := newDualRig(t)
	out, err = rig.mech.Report_dual_x()
	require.NoError(t, err)
	assert.Contains(t, out, "Dual X carriage: full_control T0")
	assert.Contains(t, out, "X2 home 250.000 dir 1")
}
