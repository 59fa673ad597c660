// Backlash (hysteresis) compensation
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package project

import (
	"k3m/common/logger"
	"k3m/common/utils/maths"
)

// Hysteresis injects extra steps on every axis that reverses direction so
// the mechanical slack is taken up before useful travel starts. Only the
// main loop touches it.
type Hysteresis struct {
	Mm                  [XYZE]float64
	Steps               [XYZE]int64
	Steps_per_mm        [XYZE]float64
	Axis_shift          [XYZE]float64
	Prev_direction_bits uint8
	Hysteresis_bits     uint8
}

func NewHysteresis(stepsPerMM [XYZE]float64, mm [XYZE]float64) *Hysteresis {
	self := &Hysteresis{}
	self.Steps_per_mm = stepsPerMM
	self.Mm = mm
	self.calc_hysteresis_steps()
	return self
}

func (self *Hysteresis) Set_hysteresis(x_mm, y_mm, z_mm, e_mm float64) {
	self.Mm = [XYZE]float64{x_mm, y_mm, z_mm, e_mm}
	self.calc_hysteresis_steps()
}

func (self *Hysteresis) Set_hysteresis_axis(axis int, mm float64) {
	self.Mm[axis] = mm
	self.calc_hysteresis_steps()
	logger.Infof("hysteresis %s set to %.4f mm (%d steps)", axisCodes[axis], mm, self.Steps[axis])
}

func (self *Hysteresis) Set_steps_per_mm(axis int, stepsPerMM float64) {
	self.Steps_per_mm[axis] = stepsPerMM
	self.calc_hysteresis_steps()
}

func (self *Hysteresis) calc_hysteresis_steps() {
	self.Hysteresis_bits = 0
	for axis := 0; axis < XYZE; axis++ {
		self.Steps[axis] = maths.Lround(self.Mm[axis] * self.Steps_per_mm[axis])
		if self.Steps[axis] != 0 {
			self.Hysteresis_bits |= 1 << uint(axis)
		}
	}
}

func (self *Hysteresis) toSteps(pos Position) [XYZE]int64 {
	var steps [XYZE]int64
	for axis := 0; axis < XYZE; axis++ {
		steps[axis] = maths.Lround(pos[axis] * self.Steps_per_mm[axis])
	}
	return steps
}

// calc_direction_bits sets the bit of every axis travelling in +.
func calc_direction_bits(position, target [XYZE]int64) uint8 {
	var bits uint8
	for axis := 0; axis < XYZE; axis++ {
		if target[axis] > position[axis] {
			bits |= 1 << uint(axis)
		}
	}
	return bits
}

// calc_move_bits sets the bit of every axis that travels at all.
func calc_move_bits(position, target [XYZE]int64) uint8 {
	var bits uint8
	for axis := 0; axis < XYZE; axis++ {
		if target[axis] != position[axis] {
			bits |= 1 << uint(axis)
		}
	}
	return bits
}

// HysteresisCorrection is a computed but not yet committed correction.
type HysteresisCorrection struct {
	Steps         [XYZE]int64
	shift         [XYZE]float64
	directionBits uint8
	moveBits      uint8
}

// Calc_hysteresis_correction returns the signed extra steps to emit for the
// move from -> to without changing any state.
func (self *Hysteresis) Calc_hysteresis_correction(from, to Position) *HysteresisCorrection {
	c := &HysteresisCorrection{}
	position := self.toSteps(from)
	target := self.toSteps(to)
	c.directionBits = calc_direction_bits(position, target)
	c.moveBits = calc_move_bits(position, target)
	reversed := (c.directionBits ^ self.Prev_direction_bits) & c.moveBits

	if reversed&self.Hysteresis_bits != 0 {
		for axis := 0; axis < XYZE; axis++ {
			bit := uint8(1) << uint(axis)
			if reversed&bit == 0 {
				continue
			}
			if c.directionBits&bit != 0 {
				c.Steps[axis] = self.Steps[axis]
				c.shift[axis] = self.Mm[axis]
			} else {
				c.Steps[axis] = -self.Steps[axis]
				c.shift[axis] = -self.Mm[axis]
			}
		}
	}
	return c
}

// Commit records the directions of a correction whose move was accepted.
func (self *Hysteresis) Commit(c *HysteresisCorrection) {
	for axis := 0; axis < XYZE; axis++ {
		self.Axis_shift[axis] += c.shift[axis]
	}
	// axes that did not move keep their last direction
	self.Prev_direction_bits = (c.directionBits & c.moveBits) | (self.Prev_direction_bits &^ c.moveBits)
}

// Insert_hysteresis_correction computes and commits in one go.
func (self *Hysteresis) Insert_hysteresis_correction(from, to Position) [XYZE]int64 {
	c := self.Calc_hysteresis_correction(from, to)
	self.Commit(c)
	return c.Steps
}

// Note_move tracks the directions of an uncorrected move, e.g. a parking or
// safe point travel, without injecting anything.
func (self *Hysteresis) Note_move(from, to Position) {
	c := self.Calc_hysteresis_correction(from, to)
	c.Steps = [XYZE]int64{}
	c.shift = [XYZE]float64{}
	self.Commit(c)
}

// Note_direction records the approach direction of a move made outside the
// dispatcher, e.g. the final homing approach.
func (self *Hysteresis) Note_direction(axis int, positive bool) {
	bit := uint8(1) << uint(axis)
	if positive {
		self.Prev_direction_bits |= bit
	} else {
		self.Prev_direction_bits &^= bit
	}
}
