// Homing of cartesian axes
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package project

import (
	"math"

	uuid "github.com/satori/go.uuid"

	"k3m/common/errors"
)

const (
	HOMING_TRAVEL_FACTOR = 1.5
	// second Z pass of double Z homing runs at this fraction of the homing feedrate
	DOUBLE_Z_HOMING_SPEED_FACTOR = 0.5
)

// Home homes the requested axes, or all of them when alwaysHomeAll is set
// or no axis is given. On failure the failing axis is left unhomed and no
// further axis is homed.
func (self *CartesianMechanics) Home(alwaysHomeAll bool, axes ...int) error {
	self.guard.Check("home")
	var want [XYZ]bool
	for _, axis := range axes {
		if axis < X_AXIS || axis > Z_AXIS {
			return errors.Newf(errors.InvalidArgumentCode, "cannot home axis %d", axis)
		}
		want[axis] = true
	}
	homeAll := alwaysHomeAll || !(want[X_AXIS] || want[Y_AXIS] || want[Z_AXIS])
	homeX := homeAll || want[X_AXIS]
	homeY := homeAll || want[Y_AXIS]
	homeZ := homeAll || want[Z_AXIS]

	self.session = uuid.NewV4().String()
	log := self.log.With("session", self.session)
	log.Infof("homing X=%v Y=%v Z=%v", homeX, homeY, homeZ)
	err := self.home(homeX, homeY, homeZ)
	if err != nil {
		log.Errorf("homing aborted: %v", err)
	} else {
		log.Infof("homing done at %v", self.Current_position)
	}
	self.session = ""
	return err
}

func (self *CartesianMechanics) home(homeX, homeY, homeZ bool) error {
	zUp := self.axisConfig(Z_AXIS).HomeDir > 0
	if homeZ && zUp {
		if err := self.homeZ(); err != nil {
			return err
		}
	} else if raise := self.Config.Homing.ZRaiseBeforeHoming; raise > 0 && (homeX || homeY) && self.Homed[Z_AXIS] {
		dest := self.Current_position
		dest[Z_AXIS] = math.Min(dest[Z_AXIS]+raise, self.axisConfig(Z_AXIS).MaxPos)
		if err := self.doBlockingMoveTo(dest, self.Config.Homing.ZFeedrate); err != nil {
			return err
		}
	}

	if self.Config.Homing.QuickHome && homeX && homeY {
		if err := self.quickHomeXY(); err != nil {
			return err
		}
	}
	if homeX {
		if err := self.homeX(); err != nil {
			return err
		}
	}
	if homeY {
		if err := self.homeaxis(Y_AXIS, 1); err != nil {
			return err
		}
	}
	if homeZ && !zUp {
		if err := self.homeZ(); err != nil {
			return err
		}
	}
	self.Sync_plan_position()
	return nil
}

func (self *CartesianMechanics) homeX() error {
	dual := self.Dual
	if dual == nil {
		return self.homeaxis(X_AXIS, 1)
	}
	// second carriage first, its position is remembered for tool changes
	oldExtruder := self.Active_extruder
	self.Active_extruder = 1
	if err := self.homeaxis(X_AXIS, 1); err != nil {
		self.Active_extruder = oldExtruder
		return err
	}
	dual.Inactive_hotend_x_pos = self.Current_position[X_AXIS]
	self.Active_extruder = 0
	if err := self.homeaxis(X_AXIS, 1); err != nil {
		return err
	}
	dual.Raised_parked_position = self.Current_position
	dual.clearDelayedMove()
	// full control has nothing to unpark
	dual.Active_hotend_parked = dual.Mode != DXC_FULL_CONTROL_MODE
	dual.Hotend_duplication_enabled = false
	return nil
}

func (self *CartesianMechanics) homeZ() error {
	var err error
	if self.Config.Homing.SafeZHome && self.axisConfig(Z_AXIS).HomeDir < 0 {
		err = self.homeZSafely()
	} else {
		err = self.homeaxis(Z_AXIS, 1)
	}
	if err != nil || !self.Config.Homing.DoubleZHome {
		return err
	}
	return self.doubleHomeZ()
}

// doubleHomeZ retracts and homes Z again at reduced speed. The second
// result replaces the first.
func (self *CartesianMechanics) doubleHomeZ() error {
	z := self.axisConfig(Z_AXIS)
	retract := self.Config.Homing.ZRaiseBeforeHoming
	if retract <= 0 {
		retract = 2 * z.BumpMM
	}
	dest := self.Current_position
	dest[Z_AXIS] -= retract * float64(z.HomeDir)
	if err := self.doBlockingMoveTo(dest, self.Config.Homing.ZFeedrate); err != nil {
		return err
	}
	return self.homeaxis(Z_AXIS, DOUBLE_Z_HOMING_SPEED_FACTOR)
}

// quickHomeXY drives X and Y toward their endstops together; each stops
// on its own endstop. Precise homing of each axis follows.
func (self *CartesianMechanics) quickHomeXY() error {
	x, y := self.axisConfig(X_AXIS), self.axisConfig(Y_AXIS)
	self.Current_position[X_AXIS] = 0
	self.Current_position[Y_AXIS] = 0
	self.Sync_plan_position()

	mlx, mly := x.MaxLength, y.MaxLength
	mlratio := mlx / mly
	if mlx > mly {
		mlratio = mly / mlx
	}
	fr := math.Min(x.HomingFeedrate, y.HomingFeedrate) * math.Sqrt(mlratio*mlratio+1)

	req := &HomingRequest{
		Target:   self.Current_position,
		Feedrate: fr,
		Axes:     []int{X_AXIS, Y_AXIS},
		Extruder: self.Active_extruder,
	}
	req.Target[X_AXIS] = HOMING_TRAVEL_FACTOR * mlx * float64(self.homeDir(X_AXIS))
	req.Target[Y_AXIS] = HOMING_TRAVEL_FACTOR * mly * float64(y.HomeDir)
	reached, err := self.planner.Homing_move(req)
	if err != nil {
		return err
	}
	self.Current_position = reached
	self.Current_position[X_AXIS] = 0
	self.Current_position[Y_AXIS] = 0
	self.Sync_plan_position()
	self.log.Debugw("quick home", "x_triggered", self.endstops.Triggered(X_AXIS, self.Active_extruder),
		"y_triggered", self.endstops.Triggered(Y_AXIS, self.Active_extruder), "session", self.session)
	return nil
}

// homingMove moves axis by distance from a zeroed position, stopping on
// the endstop. It reports whether the endstop ended up triggered.
func (self *CartesianMechanics) homingMove(axis int, distance, feedrate float64) (bool, error) {
	self.Current_position[axis] = 0
	self.Sync_plan_position()
	req := &HomingRequest{
		Target:   self.Current_position,
		Feedrate: feedrate,
		Axes:     []int{axis},
		Extruder: self.Active_extruder,
	}
	req.Target[axis] = distance
	reached, err := self.planner.Homing_move(req)
	if err != nil {
		return false, err
	}
	self.Current_position = reached
	self.Sync_plan_position()
	return self.endstops.Triggered(axis, self.Active_extruder), nil
}

// homeaxis finds the endstop of one axis: fast approach, back off, slow
// re-approach. Both approaches travel in the home direction.
func (self *CartesianMechanics) homeaxis(axis int, speedFactor float64) error {
	cfg := self.axisConfig(axis)
	dir := float64(self.homeDir(axis))
	maxLength := cfg.MaxLength
	if axis == X_AXIS && self.Dual != nil {
		lo, hi := self.basePos(X_AXIS)
		maxLength = math.Max(maxLength, hi-lo)
	}
	fr := cfg.HomingFeedrate * speedFactor
	self.Homed[axis] = false

	triggered, err := self.homingMove(axis, HOMING_TRAVEL_FACTOR*maxLength*dir, fr)
	if err != nil {
		return err
	}
	if !triggered {
		return self.homingFailed(axis, "no endstop trigger within %.1f mm", HOMING_TRAVEL_FACTOR*maxLength)
	}

	if cfg.BumpMM > 0 {
		if _, err = self.homingMove(axis, -cfg.BumpMM*dir, fr); err != nil {
			return err
		}
		triggered, err = self.homingMove(axis, 2*cfg.BumpMM*dir, fr/cfg.BumpDivisor)
		if err != nil {
			return err
		}
		if !triggered {
			return self.homingFailed(axis, "endstop lost on re-approach")
		}
	}

	self.Hysteresis.Note_direction(axis, dir > 0)
	self.Set_axis_is_at_home(axis)
	self.Sync_plan_position()
	return nil
}

func (self *CartesianMechanics) homingFailed(axis int, format string, args ...interface{}) error {
	err := errors.Newf(errors.HomingFailedCode, axisCodes[axis]+": "+format, args...)
	self.Homed[axis] = false
	self.log.Errorw(err.Message, "axis", axisCodes[axis], "extruder", self.Active_extruder,
		"session", self.session)
	return err
}
