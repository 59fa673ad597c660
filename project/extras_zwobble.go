// Z-wobble compensation
//
// Corrects the non-linear deviation between the commanded Z (rod position)
// and the real Z, either from a measured lookup table or from a sinusoidal
// leadscrew model.
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package project

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"

	"k3m/common/errors"
	"k3m/common/logger"
	"k3m/common/utils/maths"
)

const (
	STEPS_IN_ZLUT = 50
	ZWOBBLE_MIN_Z = 0.1
	// minimum distance within which two distances in mm are considered equal
	TOLERANCE_MM = 0.01
	TWOPI        = 2 * math.Pi
)

const (
	WOBBLE_MODE_NONE       = "none"
	WOBBLE_MODE_TABLE      = "table"
	WOBBLE_MODE_SINUSOIDAL = "sinusoidal"
)

// WobbleSample maps a rod position to the measured Z. A scaled sample
// holds a length that is multiplied by the scaling factor at lookup time.
type WobbleSample struct {
	Rod    float64
	Actual float64
	Scaled bool
}

// WobbleModel is either *WobbleTable or *WobbleSinusoidal.
type WobbleModel interface {
	Mode() string
}

type WobbleTable struct {
	Samples []WobbleSample
}

func (self *WobbleTable) Mode() string { return WOBBLE_MODE_TABLE }

type WobbleSinusoidal struct {
	Amplitude float64
	Puls      float64
	Phase     float64
}

func (self *WobbleSinusoidal) Mode() string { return WOBBLE_MODE_SINUSOIDAL }

type ZWobble struct {
	Model          WobbleModel
	Consistent     bool
	Scaling_factor float64
	zMin           float64
	zMax           float64

	// resolved LUT, one period long in sinusoidal mode
	lutRod    []float64
	lutActual []float64
	forward   interp.PiecewiseLinear
	inverse   interp.PiecewiseLinear
	period    float64

	lastZ    float64
	lastZRod float64
	haveLast bool
}

func NewZWobble(zMin, zMax, scalingFactor float64) *ZWobble {
	self := &ZWobble{}
	self.zMin = zMin
	self.zMax = zMax
	self.Scaling_factor = scalingFactor
	self.initLinearLut()
	return self
}

func (self *ZWobble) sinusoidal() *WobbleSinusoidal {
	if s, ok := self.Model.(*WobbleSinusoidal); ok {
		return s
	}
	if t, ok := self.Model.(*WobbleTable); ok && len(t.Samples) > 0 {
		logger.Warnf("z-wobble: switching to sinusoidal model drops %d table samples", len(t.Samples))
	}
	s := &WobbleSinusoidal{}
	self.Model = s
	return s
}

func (self *ZWobble) Set_zwobble_amplitude(amplitude float64) {
	self.sinusoidal().Amplitude = amplitude
	self.calculateLut()
}

// Set_zwobble_period takes the leadscrew period in mm.
func (self *ZWobble) Set_zwobble_period(period float64) {
	s := self.sinusoidal()
	if period <= 0 {
		s.Puls = 0
	} else {
		s.Puls = TWOPI / period
	}
	self.calculateLut()
}

// Set_zwobble_phase takes the phase in degrees.
func (self *ZWobble) Set_zwobble_phase(phase float64) {
	self.sinusoidal().Phase = phase * math.Pi / 180.
	self.calculateLut()
}

func (self *ZWobble) Set_zwobble_sample(zRod, zActual float64) error {
	return self.insertInLut(WobbleSample{Rod: zRod, Actual: zActual})
}

func (self *ZWobble) Set_zwobble_scaledsample(zRod, zScaledLength float64) error {
	return self.insertInLut(WobbleSample{Rod: zRod, Actual: zScaledLength, Scaled: true})
}

func (self *ZWobble) Set_zwobble_scalingfactor(zActualPerScaledLength float64) {
	self.Scaling_factor = zActualPerScaledLength
	self.calculateLut()
}

func (self *ZWobble) Reset_zwobble() {
	self.Model = nil
	self.calculateLut()
}

func (self *ZWobble) Mode() string {
	if self.Model == nil {
		return WOBBLE_MODE_NONE
	}
	return self.Model.Mode()
}

// Samples returns a copy of the table samples, empty outside table mode.
func (self *ZWobble) Samples() []WobbleSample {
	t, ok := self.Model.(*WobbleTable)
	if !ok {
		return nil
	}
	return append([]WobbleSample(nil), t.Samples...)
}

func (self *ZWobble) insertInLut(sample WobbleSample) error {
	if _, ok := self.Model.(*WobbleSinusoidal); ok {
		return errors.FromCode(errors.WobbleModeConflictCode)
	}
	if sample.Rod < self.zMin || sample.Rod > self.zMax {
		err := errors.Newf(errors.SampleRejectedCode, "rod %.3f outside Z travel [%.3f, %.3f]",
			sample.Rod, self.zMin, self.zMax)
		logger.Warn(err.Message)
		return err
	}
	table, _ := self.Model.(*WobbleTable)
	var samples []WobbleSample
	if table != nil {
		samples = append(samples, table.Samples...)
	}

	idx := sort.Search(len(samples), func(i int) bool {
		return samples[i].Rod > sample.Rod-TOLERANCE_MM
	})
	if idx < len(samples) && maths.Equal_within(samples[idx].Rod, sample.Rod, TOLERANCE_MM) {
		samples[idx] = sample
	} else {
		if len(samples) >= STEPS_IN_ZLUT {
			err := errors.Newf(errors.SampleRejectedCode, "table already holds %d samples", STEPS_IN_ZLUT)
			logger.Warn(err.Message)
			return err
		}
		samples = append(samples, WobbleSample{})
		copy(samples[idx+1:], samples[idx:])
		samples[idx] = sample
	}
	if !mixedUnits(samples) && !strictlyIncreasing(samples, func(s WobbleSample) float64 { return s.Actual }) {
		err := errors.Newf(errors.SampleRejectedCode, "sample (%.3f, %.3f) makes actual Z non-increasing",
			sample.Rod, sample.Actual)
		logger.Warn(err.Message)
		return err
	}

	self.Model = &WobbleTable{Samples: samples}
	self.calculateLut()
	return nil
}

func mixedUnits(samples []WobbleSample) bool {
	for _, s := range samples {
		if s.Scaled != samples[0].Scaled {
			return true
		}
	}
	return false
}

func strictlyIncreasing(samples []WobbleSample, value func(WobbleSample) float64) bool {
	for i := 1; i < len(samples); i++ {
		if value(samples[i]) <= value(samples[i-1]) {
			return false
		}
	}
	return true
}

func (self *ZWobble) initLinearLut() {
	self.lutRod = nil
	self.lutActual = nil
	self.forward = interp.PiecewiseLinear{}
	self.inverse = interp.PiecewiseLinear{}
	self.period = 0
	self.Consistent = false
	self.haveLast = false
}

// calculateLut rebuilds the resolved LUT and both interpolators. Any
// failure leaves the compensator disabled.
func (self *ZWobble) calculateLut() {
	self.initLinearLut()
	switch m := self.Model.(type) {
	case *WobbleTable:
		if len(m.Samples) < 2 {
			return
		}
		if mixedUnits(m.Samples) {
			logger.Warnf("z-wobble: table mixes absolute and scaled samples, correction disabled")
			return
		}
		for _, s := range m.Samples {
			actual := s.Actual
			if s.Scaled {
				actual *= self.Scaling_factor
			}
			self.lutRod = append(self.lutRod, s.Rod)
			self.lutActual = append(self.lutActual, actual)
		}
	case *WobbleSinusoidal:
		if !self.areParametersConsistent() {
			logger.Warnf("z-wobble: amplitude %.4f / period %.4f inconsistent, correction disabled",
				m.Amplitude, self.periodOf(m))
			return
		}
		self.period = TWOPI / m.Puls
		for i := 0; i < STEPS_IN_ZLUT; i++ {
			rod := float64(i) * self.period / float64(STEPS_IN_ZLUT-1)
			self.lutRod = append(self.lutRod, rod)
			self.lutActual = append(self.lutActual, rod+m.Amplitude*math.Sin(m.Puls*rod+m.Phase))
		}
	default:
		return
	}
	self.Consistent = self.fitLut()
}

func (self *ZWobble) fitLut() bool {
	n := len(self.lutRod)
	for i := 1; i < n; i++ {
		if self.lutRod[i] <= self.lutRod[i-1] || self.lutActual[i] <= self.lutActual[i-1] {
			logger.Warnf("z-wobble: lookup table is not monotonic, correction disabled")
			return false
		}
	}
	rodOffset := make([]float64, n)
	actualOffset := make([]float64, n)
	for i := 0; i < n; i++ {
		rodOffset[i] = self.lutActual[i] - self.lutRod[i]
		actualOffset[i] = self.lutRod[i] - self.lutActual[i]
	}
	if err := self.forward.Fit(self.lutRod, rodOffset); err != nil {
		logger.Warnf("z-wobble: %v", err)
		return false
	}
	if err := self.inverse.Fit(self.lutActual, actualOffset); err != nil {
		logger.Warnf("z-wobble: %v", err)
		return false
	}
	return true
}

func (self *ZWobble) periodOf(m *WobbleSinusoidal) float64 {
	if m.Puls <= 0 {
		return 0
	}
	return TWOPI / m.Puls
}

// areParametersConsistent accepts a sinusoidal model only when the actual Z
// stays strictly increasing in the rod position, i.e. amplitude*puls < 1.
func (self *ZWobble) areParametersConsistent() bool {
	m, ok := self.Model.(*WobbleSinusoidal)
	if !ok {
		return true
	}
	for _, v := range []float64{m.Amplitude, m.Puls, m.Phase} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return m.Puls > 0 && m.Amplitude >= 0 && m.Amplitude*m.Puls < 1
}

func (self *ZWobble) Are_parameters_consistent() bool {
	return self.Consistent
}

// Find_in_lut returns the actual Z reached when the rod is at zRod. Outside
// the table the deviation is held at its end value.
func (self *ZWobble) Find_in_lut(zRod float64) float64 {
	if !self.Consistent {
		return zRod
	}
	if self.period > 0 {
		k := math.Floor(zRod / self.period)
		r := zRod - k*self.period
		return k*self.period + r + self.forward.Predict(r)
	}
	return zRod + self.forward.Predict(zRod)
}

// Find_z_rod is the inverse of Find_in_lut: the rod position to command so
// the real Z becomes zActual.
func (self *ZWobble) Find_z_rod(zActual float64) float64 {
	if !self.Consistent {
		return zActual
	}
	if self.period > 0 {
		base := self.lutActual[0]
		k := math.Floor((zActual - base) / self.period)
		r := zActual - k*self.period
		return k*self.period + r + self.inverse.Predict(r)
	}
	return zActual + self.inverse.Predict(zActual)
}

// Insert_zwobble_correction returns the Z to command for a wanted real Z.
func (self *ZWobble) Insert_zwobble_correction(targetZ float64) float64 {
	if !self.Consistent || targetZ < ZWOBBLE_MIN_Z {
		return targetZ
	}
	if self.haveLast && targetZ == self.lastZ {
		return self.lastZRod
	}
	zRod := self.Find_z_rod(targetZ)
	self.lastZ, self.lastZRod, self.haveLast = targetZ, zRod, true
	return zRod
}
