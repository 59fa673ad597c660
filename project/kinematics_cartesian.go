/*
Mechanics context for cartesian machines

Owns the tracked position, homed flags and the correction components. All
methods run on the main control loop.

This file may be distributed under the terms of the GNU GPLv3 license.
*/
package project

import (
	"go.uber.org/zap"

	"k3m/common/config"
	"k3m/common/logger"
	"k3m/common/utils/sys"
)

type CartesianMechanics struct {
	Config           *config.MachineConfig
	Current_position Position
	Active_extruder  int
	Homed            [XYZ]bool
	Hysteresis       *Hysteresis
	Wobble           *ZWobble
	// nil unless a second X carriage is configured
	Dual *DualCarriage

	planner  IPlanner
	endstops IEndstops
	leveling IBedLeveling
	guard    sys.LoopGuard
	// last target handed to the planner before leveling, in rod coordinates
	lastCorrected Position
	session       string
	log           *zap.SugaredLogger
}

// NewCartesianMechanics builds the mechanics context from a validated
// config. leveling may be nil.
func NewCartesianMechanics(cfg *config.MachineConfig, planner IPlanner, endstops IEndstops,
	leveling IBedLeveling) *CartesianMechanics {
	self := &CartesianMechanics{}
	self.Config = cfg
	self.planner = planner
	self.endstops = endstops
	self.leveling = leveling
	self.log = logger.Named("mechanics")

	h := cfg.Hysteresis
	self.Hysteresis = NewHysteresis(cfg.StepsPerMM, [XYZE]float64{h.X, h.Y, h.Z, h.E})
	self.Wobble = NewZWobble(cfg.Axes.Z.MinPos, cfg.Axes.Z.MaxPos, cfg.ZWobble.ScalingFactor)
	self.applyWobbleConfig()
	if cfg.DualCarriage.Enabled {
		self.Dual = NewDualCarriage(cfg)
		self.Dual.Inactive_hotend_x_pos = self.Dual.X_home_pos(1)
	}
	return self
}

func (self *CartesianMechanics) applyWobbleConfig() {
	zw := self.Config.ZWobble
	if zw.Amplitude != 0 || zw.Period != 0 {
		self.Wobble.Set_zwobble_period(zw.Period)
		self.Wobble.Set_zwobble_amplitude(zw.Amplitude)
		self.Wobble.Set_zwobble_phase(zw.Phase)
		return
	}
	for _, s := range zw.Samples {
		if err := self.Wobble.Set_zwobble_sample(s[0], s[1]); err != nil {
			self.log.Warnf("config sample (%.3f, %.3f) ignored: %v", s[0], s[1], err)
		}
	}
	for _, s := range zw.ScaledSamples {
		if err := self.Wobble.Set_zwobble_scaledsample(s[0], s[1]); err != nil {
			self.log.Warnf("config scaled sample (%.3f, %.3f) ignored: %v", s[0], s[1], err)
		}
	}
}

// Bind_main_loop makes the calling goroutine the only one allowed to drive
// the mechanics.
func (self *CartesianMechanics) Bind_main_loop() {
	self.guard.Bind()
}

func (self *CartesianMechanics) Loop_violations() uint64 {
	return self.guard.Violations()
}

func (self *CartesianMechanics) Set_leveling(leveling IBedLeveling) {
	self.leveling = leveling
}

func (self *CartesianMechanics) axisConfig(axis int) *config.AxisConfig {
	return self.Config.Axes.Get(axis)
}

func (self *CartesianMechanics) homeDir(axis int) int {
	if axis == X_AXIS && self.Dual != nil {
		return self.Dual.X_home_dir(self.Active_extruder)
	}
	return self.axisConfig(axis).HomeDir
}

func (self *CartesianMechanics) basePos(axis int) (float64, float64) {
	if axis == X_AXIS && self.Dual != nil && self.Active_extruder == 1 {
		return self.Config.DualCarriage.X2MinPos, self.Config.DualCarriage.X2MaxPos
	}
	a := self.axisConfig(axis)
	return a.MinPos, a.MaxPos
}

// Set_axis_is_at_home sets the tracked position of axis to its home
// coordinate. It does not touch the planner; callers resync afterwards.
func (self *CartesianMechanics) Set_axis_is_at_home(axis int) {
	if axis == X_AXIS && self.Dual != nil &&
		(self.Active_extruder == 1 || self.Dual.Mode == DXC_DUPLICATION_MODE) {
		self.Current_position[X_AXIS] = self.Dual.X_home_pos(self.Active_extruder)
	} else {
		self.Current_position[axis] = self.axisConfig(axis).HomePos
	}
	self.Homed[axis] = true
	self.log.Debugw("axis at home", "axis", axisCodes[axis], "pos", self.Current_position[axis],
		"session", self.session)
}

// Sync_plan_position tells the planner the tracked position.
func (self *CartesianMechanics) Sync_plan_position() {
	self.planner.Set_position(self.Current_position, self.Active_extruder)
	self.lastCorrected = self.Current_position
}

func (self *CartesianMechanics) Axis_unhomed(axis int) bool {
	return !self.Homed[axis]
}

// doBlockingMoveTo buffers an uncorrected move and waits for it.
func (self *CartesianMechanics) doBlockingMoveTo(target Position, feedrate float64) error {
	move := &PlannerMove{Target: target, Feedrate: feedrate, Extruder: self.Active_extruder}
	if err := self.planner.Buffer_line(move); err != nil {
		return err
	}
	self.Hysteresis.Note_move(self.lastCorrected, target)
	if err := self.planner.Synchronize(); err != nil {
		return err
	}
	self.Current_position = target
	self.lastCorrected = target
	return nil
}
