// Perform Z Homing at specific XY coordinates.
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package project

import (
	"k3m/common/errors"
)

// homeZSafely moves to the configured safe XY point before seeking the Z
// endstop, so Z never homes over an unsupported part of the bed.
func (self *CartesianMechanics) homeZSafely() error {
	if self.Axis_unhomed(X_AXIS) || self.Axis_unhomed(Y_AXIS) {
		self.log.Warnw(errors.MustHomeXYAxesFirstError.Message, "session", self.session)
		return errors.MustHomeXYAxesFirstError
	}
	dest := self.Current_position
	dest[X_AXIS] = self.Config.Homing.SafeX
	dest[Y_AXIS] = self.Config.Homing.SafeY
	if err := self.doBlockingMoveTo(dest, self.Config.Homing.XYTravelFeedrate); err != nil {
		return err
	}
	self.log.Debugw("at safe Z home point", "x", dest[X_AXIS], "y", dest[Y_AXIS], "session", self.session)
	return self.homeaxis(Z_AXIS, 1)
}
