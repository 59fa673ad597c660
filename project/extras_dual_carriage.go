// Dual X carriage support
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package project

import (
	"fmt"
	"math"
	"time"

	"k3m/common/config"
	"k3m/common/errors"
	"k3m/common/logger"
)

type DualXMode int

const (
	DXC_FULL_CONTROL_MODE DualXMode = iota
	DXC_AUTO_PARK_MODE
	DXC_DUPLICATION_MODE
	DXC_MIRRORED_MODE
)

const (
	TOOLCHANGE_PARK_ZLIFT   = 0.2
	TOOLCHANGE_UNPARK_ZLIFT = 1.0
)

var dualXModeNames = map[DualXMode]string{
	DXC_FULL_CONTROL_MODE: "full_control",
	DXC_AUTO_PARK_MODE:    "auto_park",
	DXC_DUPLICATION_MODE:  "duplication",
	DXC_MIRRORED_MODE:     "mirrored",
}

func (self DualXMode) String() string {
	if name, ok := dualXModeNames[self]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(self))
}

func ParseDualXMode(name string) (DualXMode, error) {
	for mode, n := range dualXModeNames {
		if n == name {
			return mode, nil
		}
	}
	return DXC_FULL_CONTROL_MODE, errors.Newf(errors.InvalidArgumentCode, "unknown dual carriage mode %q", name)
}

func (self DualXMode) duplicating() bool {
	return self == DXC_DUPLICATION_MODE || self == DXC_MIRRORED_MODE
}

// DualCarriage holds the mode and geometry of a two carriage X axis.
// Carriage 0 homes with the X axis settings, carriage 1 with the x2_*
// settings. Each carriage keeps its own X coordinate frame.
type DualCarriage struct {
	cfg      config.DualCarriageConfig
	x0Home   float64
	x0Dir    int
	Now      func() time.Time
	parkWait time.Duration

	Mode                           DualXMode
	Inactive_hotend_x_pos          float64
	Raised_parked_position         Position
	Duplicate_extruder_x_offset    float64
	Duplicate_extruder_temp_offset int
	Active_hotend_parked           bool
	Hotend_duplication_enabled     bool
	mirrorPivot                    float64
	delayedMoveTime                time.Time
	forceUnpark                    bool
}

func NewDualCarriage(cfg *config.MachineConfig) *DualCarriage {
	self := &DualCarriage{}
	self.cfg = cfg.DualCarriage
	self.x0Home = cfg.Axes.X.HomePos
	self.x0Dir = cfg.Axes.X.HomeDir
	self.Now = time.Now
	self.parkWait = time.Duration(self.cfg.ParkDelayMS) * time.Millisecond
	self.Duplicate_extruder_x_offset = self.cfg.DuplicateXOffset
	self.Duplicate_extruder_temp_offset = self.cfg.DuplicateTempOffset
	mode, err := ParseDualXMode(self.cfg.DefaultMode)
	if err != nil {
		logger.Warnf("dual carriage: %v, using %s", err, DXC_FULL_CONTROL_MODE)
	}
	self.Mode = mode
	return self
}

func (self *DualCarriage) X_home_pos(extruder int) float64 {
	if extruder == 0 {
		return self.x0Home
	}
	// a positive x2_home_offset overrides the compiled in home of carriage 1
	if self.cfg.X2HomeOffset > 0 {
		return self.cfg.X2HomeOffset
	}
	return self.cfg.X2HomePos
}

func (self *DualCarriage) X_home_dir(extruder int) int {
	if extruder == 0 {
		return self.x0Dir
	}
	return self.cfg.X2HomeDir
}

// Inactive_x returns where the second carriage must be while the first is at x.
func (self *DualCarriage) Inactive_x(x float64) float64 {
	if self.Mode == DXC_MIRRORED_MODE {
		return 2*self.mirrorPivot - x
	}
	return x + self.Duplicate_extruder_x_offset
}

// Duplication_target_temp is the temperature to command on the second
// hotend while duplicating.
func (self *DualCarriage) Duplication_target_temp(activeTemp float64) float64 {
	return activeTemp + float64(self.Duplicate_extruder_temp_offset)
}

func (self *DualCarriage) armDelayedMove() {
	self.delayedMoveTime = self.Now()
	self.forceUnpark = false
}

func (self *DualCarriage) clearDelayedMove() {
	self.delayedMoveTime = time.Time{}
	self.forceUnpark = false
}

// delayedMoveDue reports whether a deferred auto-park move has waited long
// enough and must now be executed.
func (self *DualCarriage) delayedMoveDue(now time.Time) bool {
	if self.delayedMoveTime.IsZero() || self.forceUnpark {
		return false
	}
	return now.Sub(self.delayedMoveTime) >= self.parkWait
}

func (self *DualCarriage) checkDuplicationGeometry(x0, offset float64) error {
	lower := math.Max(self.cfg.MinSeparation, self.cfg.X2MinPos-self.X_home_pos(0))
	if offset < lower {
		return errors.Newf(errors.DualModeRefusedCode, "x offset %.3f below minimum %.3f", offset, lower)
	}
	if x0+offset > self.cfg.X2MaxPos {
		return errors.Newf(errors.DualModeRefusedCode, "second carriage at %.3f beyond x2_max_pos %.3f",
			x0+offset, self.cfg.X2MaxPos)
	}
	return nil
}

// Set_dual_x_carriage_mode switches the carriage mode. xOffset and
// tempOffset only apply to the duplication modes; a negative xOffset keeps
// the current offset. A refused change keeps the previous mode.
func (self *CartesianMechanics) Set_dual_x_carriage_mode(mode DualXMode, xOffset float64, tempOffset int) error {
	dual := self.Dual
	if dual == nil {
		return errors.Newf(errors.DualModeRefusedCode, "no dual carriage configured")
	}
	if _, ok := dualXModeNames[mode]; !ok {
		return errors.Newf(errors.InvalidArgumentCode, "unknown dual carriage mode %d", int(mode))
	}
	if mode.duplicating() {
		if xOffset < 0 {
			xOffset = dual.Duplicate_extruder_x_offset
		}
		var err error
		switch {
		case !self.Homed[X_AXIS]:
			err = errors.Newf(errors.DualModeRefusedCode, "X must be homed before %s", mode)
		case self.Active_extruder != 0:
			err = errors.Newf(errors.DualModeRefusedCode, "%s needs carriage 0 active", mode)
		default:
			err = dual.checkDuplicationGeometry(self.Current_position[X_AXIS], xOffset)
		}
		if err != nil {
			logger.Warnf("dual carriage: %v", err)
			return err
		}
		dual.Duplicate_extruder_x_offset = xOffset
		dual.Duplicate_extruder_temp_offset = tempOffset
		dual.mirrorPivot = self.Current_position[X_AXIS] + xOffset/2
	}

	prev := dual.Mode
	dual.Mode = mode
	dual.Hotend_duplication_enabled = false
	switch mode {
	case DXC_FULL_CONTROL_MODE:
		dual.Active_hotend_parked = false
		dual.clearDelayedMove()
	case DXC_AUTO_PARK_MODE:
		dual.Raised_parked_position = self.Current_position
		dual.Raised_parked_position[Z_AXIS] += TOOLCHANGE_UNPARK_ZLIFT
		dual.Active_hotend_parked = true
		dual.armDelayedMove()
	default:
		// the second carriage is positioned by the next move
		dual.Active_hotend_parked = true
		dual.clearDelayedMove()
	}
	logger.Infof("dual carriage: %s -> %s (x offset %.3f, temp offset %d)",
		prev, mode, dual.Duplicate_extruder_x_offset, dual.Duplicate_extruder_temp_offset)
	return nil
}

// Change_tool makes extruder the carriage driven by X moves.
func (self *CartesianMechanics) Change_tool(extruder int) error {
	self.guard.Check("change_tool")
	dual := self.Dual
	if dual == nil {
		if extruder != 0 {
			return errors.Newf(errors.ToolChangeRefusedCode, "no carriage %d", extruder)
		}
		return nil
	}
	if extruder != 0 && extruder != 1 {
		return errors.Newf(errors.ToolChangeRefusedCode, "no carriage %d", extruder)
	}
	if dual.Mode.duplicating() {
		return errors.Newf(errors.ToolChangeRefusedCode, "carriages are locked in %s", dual.Mode)
	}
	if extruder == self.Active_extruder {
		return nil
	}

	if dual.Mode == DXC_AUTO_PARK_MODE &&
		(!dual.delayedMoveTime.IsZero() || self.Current_position[X_AXIS] != dual.X_home_pos(self.Active_extruder)) {
		// park the old carriage: raise, move home, lower
		park := self.Current_position
		park[Z_AXIS] += TOOLCHANGE_PARK_ZLIFT
		if err := self.doBlockingMoveTo(park, self.Config.Homing.ZFeedrate); err != nil {
			return err
		}
		park[X_AXIS] = dual.X_home_pos(self.Active_extruder)
		if err := self.doBlockingMoveTo(park, self.Config.Homing.XYTravelFeedrate); err != nil {
			return err
		}
		park[Z_AXIS] = self.Current_position[Z_AXIS] - TOOLCHANGE_PARK_ZLIFT
		if err := self.doBlockingMoveTo(park, self.Config.Homing.ZFeedrate); err != nil {
			return err
		}
	}

	oldX := self.Current_position[X_AXIS]
	self.Current_position[X_AXIS] = dual.Inactive_hotend_x_pos
	dual.Inactive_hotend_x_pos = oldX
	logger.Infof("dual carriage: carriage %d -> %d", self.Active_extruder, extruder)
	self.Active_extruder = extruder

	if dual.Mode == DXC_AUTO_PARK_MODE {
		dual.Raised_parked_position = self.Current_position
		dual.Raised_parked_position[Z_AXIS] += TOOLCHANGE_UNPARK_ZLIFT
		dual.Active_hotend_parked = true
		dual.clearDelayedMove()
	}
	self.Sync_plan_position()
	return nil
}

// dualXCarriageUnpark runs before the cartesian path. It returns true when
// the move has been fully handled (deferred) here.
func (self *CartesianMechanics) dualXCarriageUnpark(destination Position) (bool, error) {
	dual := self.Dual
	if !dual.Active_hotend_parked {
		return false, nil
	}
	switch dual.Mode {
	case DXC_AUTO_PARK_MODE:
		if self.Current_position[E_AXIS] == destination[E_AXIS] && !dual.forceUnpark {
			// travel move: skip it but track the position
			self.Current_position = destination
			dual.Raised_parked_position[Z_AXIS] = math.Max(dual.Raised_parked_position[Z_AXIS], destination[Z_AXIS])
			dual.delayedMoveTime = dual.Now()
			return true, nil
		}
		// unpark: raise, move into starting XY position, lower
		raised := dual.Raised_parked_position
		steps := []struct {
			target   Position
			feedrate float64
		}{
			{raised, self.Config.Homing.ZFeedrate},
			{Position{self.Current_position[X_AXIS], self.Current_position[Y_AXIS], raised[Z_AXIS], self.Current_position[E_AXIS]},
				self.Config.Homing.XYTravelFeedrate},
			{self.Current_position, self.Config.Homing.ZFeedrate},
		}
		from := self.lastCorrected
		for _, step := range steps {
			move := &PlannerMove{Target: step.target, Feedrate: step.feedrate, Extruder: self.Active_extruder}
			if err := self.planner.Buffer_line(move); err != nil {
				return false, err
			}
			self.Hysteresis.Note_move(from, step.target)
			from = step.target
		}
		self.lastCorrected = self.Current_position
		dual.clearDelayedMove()
		dual.Active_hotend_parked = false
		logger.Debugf("dual carriage: carriage %d unparked", self.Active_extruder)
	case DXC_DUPLICATION_MODE, DXC_MIRRORED_MODE:
		if self.Active_extruder != 0 {
			return false, nil
		}
		second := self.Current_position
		second[X_AXIS] = dual.Inactive_x(self.Current_position[X_AXIS])
		move := &PlannerMove{Target: second, Feedrate: self.Config.Homing.XYTravelFeedrate, Extruder: 1}
		if err := self.planner.Buffer_line(move); err != nil {
			return false, err
		}
		if err := self.planner.Synchronize(); err != nil {
			return false, err
		}
		dual.Inactive_hotend_x_pos = second[X_AXIS]
		self.Sync_plan_position()
		dual.Hotend_duplication_enabled = true
		dual.Active_hotend_parked = false
		logger.Debugf("dual carriage: %s engaged, second carriage at %.3f", dual.Mode, second[X_AXIS])
	}
	return false, nil
}

// Manage_inactivity executes a deferred auto-park travel move once it has
// been pending for park_delay_ms.
func (self *CartesianMechanics) Manage_inactivity(now time.Time) error {
	dual := self.Dual
	if dual == nil || !dual.delayedMoveDue(now) {
		return nil
	}
	dual.forceUnpark = true
	_, err := self.Prepare_move_to_destination(self.Current_position, self.Config.Homing.XYTravelFeedrate)
	return err
}
