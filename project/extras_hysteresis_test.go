package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var testStepsPerMM = [XYZE]float64{80, 80, 400, 93}

func TestHysteresisStepsFollowConfig(t *testing.T) {
	h := NewHysteresis(testStepsPerMM, [XYZE]float64{0.1, 0, 0.02, 0})
	assert.Equal(t, [XYZE]int64{8, 0, 8, 0}, h.Steps)
	assert.Equal(t, uint8(0b0101), h.Hysteresis_bits)

	h.Set_hysteresis_axis(Y_AXIS, 0.05)
	assert.Equal(t, int64(4), h.Steps[Y_AXIS])

	h.Set_steps_per_mm(Y_AXIS, 160)
	assert.Equal(t, int64(8), h.Steps[Y_AXIS])

	h.Set_hysteresis(0, 0, 0, 0.5)
	assert.Equal(t, [XYZE]int64{0, 0, 0, 47}, h.Steps)
	assert.Equal(t, uint8(0b1000), h.Hysteresis_bits)
}

func TestHysteresisSameDirectionIsIdempotent(t *testing.T) {
	h := NewHysteresis(testStepsPerMM, [XYZE]float64{0.1, 0.1, 0, 0})
	h.Note_direction(X_AXIS, true)

	first := h.Insert_hysteresis_correction(Position{0, 0, 0, 0}, Position{10, 0, 0, 0})
	second := h.Insert_hysteresis_correction(Position{10, 0, 0, 0}, Position{20, 0, 0, 0})
	assert.Equal(t, [XYZE]int64{}, first)
	assert.Equal(t, [XYZE]int64{}, second)
}

func TestHysteresisReversalInjectsOnlyReversedAxis(t *testing.T) {
	h := NewHysteresis(testStepsPerMM, [XYZE]float64{0.1, 0.15, 0.02, 0})
	// +X +Y
	h.Insert_hysteresis_correction(Position{0, 0, 0, 0}, Position{10, 10, 0, 0})
	// X reverses, Y keeps going +
	corr := h.Insert_hysteresis_correction(Position{10, 10, 0, 0}, Position{5, 20, 0, 0})
	assert.Equal(t, [XYZE]int64{-8, 0, 0, 0}, corr)
	// X back to +
	corr = h.Insert_hysteresis_correction(Position{5, 20, 0, 0}, Position{6, 20, 0, 0})
	assert.Equal(t, [XYZE]int64{8, 0, 0, 0}, corr)
	assert.InDelta(t, 0.1, h.Axis_shift[X_AXIS], 1e-9)
}

func TestHysteresisIdleAxisKeepsDirection(t *testing.T) {
	h := NewHysteresis(testStepsPerMM, [XYZE]float64{0, 0, 0.02, 0})
	h.Note_direction(Z_AXIS, true)
	// Z does not move: its direction bit stays set
	corr := h.Insert_hysteresis_correction(Position{0, 0, 1, 0}, Position{10, 0, 1, 0})
	assert.Equal(t, [XYZE]int64{}, corr)
	corr = h.Insert_hysteresis_correction(Position{10, 0, 1, 0}, Position{10, 0, 2, 0})
	assert.Equal(t, [XYZE]int64{}, corr)
	corr = h.Insert_hysteresis_correction(Position{10, 0, 2, 0}, Position{10, 0, 1.5, 0})
	assert.Equal(t, [XYZE]int64{0, 0, -8, 0}, corr)
}

func TestHysteresisZeroBacklashIsNoop(t *testing.T) {
	h := NewHysteresis(testStepsPerMM, [XYZE]float64{})
	moves := []Position{{0, 0, 0, 0}, {10, 5, 1, 1}, {0, 0, 0, 0}, {3, 9, 2, -1}}
	for i := 1; i < len(moves); i++ {
		assert.Equal(t, [XYZE]int64{}, h.Insert_hysteresis_correction(moves[i-1], moves[i]))
	}
}

func TestDirectionBits(t *testing.T) {
	pos := [XYZE]int64{0, 10, 5, 0}
	target := [XYZE]int64{5, 0, 5, 1}
	assert.Equal(t, uint8(0b1001), calc_direction_bits(pos, target))
	assert.Equal(t, uint8(0b1011), calc_move_bits(pos, target))
}
