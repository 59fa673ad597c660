package project

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"k3m/common/errors"
)

func openTestStore(t *testing.T) *CalibrationStore {
	t.Helper()
	store, err := NewCalibrationStore(filepath.Join(t.TempDir(), "calibration.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCalibrationStoreEmpty(t *testing.T) {
	store := openTestStore(t)
	cal, err := store.Load_calibration()
	require.NoError(t, err)
	assert.Nil(t, cal)

	rig := newTestRig(t, testMachineConfig(), Position{}, 0)
	require.NoError(t, rig.mech.Load_calibration(store))
	assert.Equal(t, WOBBLE_MODE_NONE, rig.mech.Wobble.Mode())
}

func TestCalibrationStoreTableRoundTrip(t *testing.T) {
	store := openTestStore(t)
	src := newTestRig(t, testMachineConfig(), Position{}, 0).mech
	src.Hysteresis.Set_hysteresis(0.1, 0.05, 0.02, 0)
	require.NoError(t, src.Wobble.Set_zwobble_scaledsample(0, 0))
	require.NoError(t, src.Wobble.Set_zwobble_scaledsample(10, 5.1))
	require.NoError(t, src.Wobble.Set_zwobble_scaledsample(20, 9.9))
	src.Wobble.Set_zwobble_scalingfactor(2)

	saved, err := src.Save_calibration(store)
	require.NoError(t, err)
	require.NotEmpty(t, saved.Id)

	dst := newTestRig(t, testMachineConfig(), Position{}, 0).mech
	require.NoError(t, dst.Load_calibration(store))

	if diff := cmp.Diff(src.Export_calibration(), dst.Export_calibration(),
		cmpopts.IgnoreFields(Calibration{}, "Id")); diff != "" {
		t.Fatalf("calibration mismatch (-saved +loaded):\n%s", diff)
	}
	assert.Equal(t, src.Hysteresis.Steps, dst.Hysteresis.Steps)
	assert.True(t, dst.Wobble.Are_parameters_consistent())
	assert.InDelta(t, 10, dst.Wobble.Insert_zwobble_correction(10.2), TOLERANCE_MM)
}

func TestCalibrationStoreSinusoidalAndHistory(t *testing.T) {
	store := openTestStore(t)
	src := newTestRig(t, testMachineConfig(), Position{}, 0).mech
	_, err := src.Save_calibration(store)
	require.NoError(t, err)

	src.Wobble.Set_zwobble_period(4)
	src.Wobble.Set_zwobble_amplitude(0.1)
	src.Wobble.Set_zwobble_phase(90)
	saved, err := src.Save_calibration(store)
	require.NoError(t, err)

	loaded, err := store.Load_calibration()
	require.NoError(t, err)
	assert.Equal(t, saved.Id, loaded.Id)
	assert.Equal(t, WOBBLE_MODE_SINUSOIDAL, loaded.Wobble_mode)
	assert.Empty(t, loaded.Samples)

	dst := newTestRig(t, testMachineConfig(), Position{}, 0).mech
	require.NoError(t, dst.Apply_calibration(loaded))
	assert.True(t, dst.Wobble.Are_parameters_consistent())
	assert.InDelta(t, src.Wobble.Insert_zwobble_correction(7), dst.Wobble.Insert_zwobble_correction(7), 1e-12)

	history, err := store.Calibration_history()
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, saved.Id, history[0].Id)
	assert.NotEqual(t, history[0].Id, history[1].Id)
	assert.Equal(t, WOBBLE_MODE_NONE, history[1].Mode)
}

func TestApplyCalibrationReportsRejectedSamples(t *testing.T) {
	m := newTestRig(t, testMachineConfig(), Position{}, 0).mech
	err := m.Apply_calibration(&Calibration{
		Wobble_mode: WOBBLE_MODE_TABLE,
		Samples: []WobbleSample{
			{Rod: 0, Actual: 0}, {Rod: 10, Actual: 10.1}, {Rod: 500, Actual: 500}, {Rod: 20, Actual: 5},
		},
	})
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.True(t, errors.HasCode(e, errors.SampleRejectedCode))
	}
	assert.Len(t, m.Wobble.Samples(), 2)
	assert.True(t, m.Wobble.Are_parameters_consistent())
}
