// Move preparation
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package project

import (
	"math"
)

// Prepare_move_to_destination corrects destination and hands it to the
// planner. It returns false when the caller must split the move first
// (bed leveling segmentation) and true once the move is consumed.
func (self *CartesianMechanics) Prepare_move_to_destination(destination Position, feedrate float64) (bool, error) {
	self.guard.Check("prepare_move_to_destination")
	if self.Dual != nil {
		done, err := self.dualXCarriageUnpark(destination)
		if err != nil || done {
			return done, err
		}
	}
	return self.prepareMoveToDestinationCartesian(destination, feedrate)
}

func (self *CartesianMechanics) prepareMoveToDestinationCartesian(destination Position, feedrate float64) (bool, error) {
	if self.leveling != nil {
		if seg := self.leveling.Segment_length(); seg > 0 {
			dx := destination[X_AXIS] - self.Current_position[X_AXIS]
			dy := destination[Y_AXIS] - self.Current_position[Y_AXIS]
			if math.Hypot(dx, dy) > seg {
				return false, nil
			}
		}
	}

	target := destination
	target[Z_AXIS] = self.Wobble.Insert_zwobble_correction(destination[Z_AXIS])
	hyst := self.Hysteresis.Calc_hysteresis_correction(self.lastCorrected, target)
	corrected := target
	if self.leveling != nil {
		target[Z_AXIS] += self.leveling.Get_z_adjust(destination[X_AXIS], destination[Y_AXIS])
	}

	move := &PlannerMove{
		Target:          target,
		Feedrate:        feedrate,
		Extruder:        self.Active_extruder,
		CorrectionSteps: hyst.Steps,
	}
	if self.Dual != nil && self.Dual.Hotend_duplication_enabled {
		move.Duplication = true
		move.InactiveX = self.Dual.Inactive_x(target[X_AXIS])
	}
	if err := self.planner.Buffer_line(move); err != nil {
		return false, err
	}
	self.Hysteresis.Commit(hyst)
	if move.Duplication {
		self.Dual.Inactive_hotend_x_pos = move.InactiveX
	}
	self.lastCorrected = corrected
	self.Current_position = destination
	return true, nil
}
