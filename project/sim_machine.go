// In-process planner and endstops for dry runs
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package project

import (
	"sync"

	"k3m/common/config"
	"k3m/common/errors"
	"k3m/project/queue"
)

const (
	SIM_QUEUE_DEPTH     = 16
	SIM_ENDSTOP_EPSILON = 1e-6
	// slot of the second X carriage, past E
	SIM_X2_SLOT = XYZE
)

const (
	SIM_MOVE_LINE = "line"
	SIM_MOVE_HOME = "home"
)

// SimMove records one planner request. Positions are in the planner frame
// of the carriage that moved.
type SimMove struct {
	Kind            string
	Start           Position
	Target          Position
	Reached         Position
	Axes            []int
	Extruder        int
	Feedrate        float64
	CorrectionSteps [XYZE]int64
	Duplication     bool
	InactiveX       float64
}

// SimulatedMachine stands in for the motion planner and the endstops.
// Buffered lines are consumed by a stepper goroutine through a bounded
// queue. Endstops sit at the configured home positions.
type SimulatedMachine struct {
	// Missing endstops never trigger; SIM_X2_SLOT is the second X carriage.
	Missing [SIM_X2_SLOT + 1]bool
	// Moves is appended to by the caller's goroutine only.
	Moves []SimMove

	endstop  [SIM_X2_SLOT + 1]float64
	dirs     [SIM_X2_SLOT + 1]int
	lock     sync.Mutex
	phys     Position
	physX2   float64
	offset   Position
	offsetX2 float64
	queue    *queue.Queue
	pending  sync.WaitGroup
	done     chan struct{}
}

// NewSimulatedMachine starts the machine with its carriages at start
// (physical coordinates); startX2 is the second carriage.
func NewSimulatedMachine(cfg *config.MachineConfig, start Position, startX2 float64) *SimulatedMachine {
	self := &SimulatedMachine{}
	for axis := 0; axis < XYZ; axis++ {
		a := cfg.Axes.Get(axis)
		self.endstop[axis] = a.HomePos
		self.dirs[axis] = a.HomeDir
	}
	self.endstop[SIM_X2_SLOT] = cfg.DualCarriage.X2HomePos
	self.dirs[SIM_X2_SLOT] = cfg.DualCarriage.X2HomeDir
	self.phys = start
	self.physX2 = startX2
	self.queue = queue.NewQueue(SIM_QUEUE_DEPTH)
	self.done = make(chan struct{})
	go self.stepper()
	return self
}

func (self *SimulatedMachine) stepper() {
	defer close(self.done)
	for {
		item := self.queue.Get()
		if item == nil {
			return
		}
		self.apply(item.(*PlannerMove))
		self.pending.Done()
	}
}

func (self *SimulatedMachine) Close() {
	self.queue.Close()
	<-self.done
}

// slot maps (axis, extruder) to the endstop/position slot.
func slot(axis, extruder int) int {
	if axis == X_AXIS && extruder == 1 {
		return SIM_X2_SLOT
	}
	return axis
}

func (self *SimulatedMachine) physical(axis, extruder int) float64 {
	if slot(axis, extruder) == SIM_X2_SLOT {
		return self.physX2
	}
	return self.phys[axis]
}

func (self *SimulatedMachine) setPhysical(axis, extruder int, v float64) {
	if slot(axis, extruder) == SIM_X2_SLOT {
		self.physX2 = v
	} else {
		self.phys[axis] = v
	}
}

func (self *SimulatedMachine) frameOffset(axis, extruder int) float64 {
	if slot(axis, extruder) == SIM_X2_SLOT {
		return self.offsetX2
	}
	return self.offset[axis]
}

func (self *SimulatedMachine) logical(extruder int) Position {
	var pos Position
	for axis := 0; axis < XYZE; axis++ {
		pos[axis] = self.physical(axis, extruder) + self.frameOffset(axis, extruder)
	}
	return pos
}

func (self *SimulatedMachine) apply(move *PlannerMove) {
	self.lock.Lock()
	defer self.lock.Unlock()
	for axis := 0; axis < XYZE; axis++ {
		self.setPhysical(axis, move.Extruder, move.Target[axis]-self.frameOffset(axis, move.Extruder))
	}
	if move.Duplication {
		self.physX2 = move.InactiveX - self.offsetX2
	}
}

func (self *SimulatedMachine) Buffer_line(move *PlannerMove) error {
	m := *move
	self.Moves = append(self.Moves, SimMove{
		Kind:            SIM_MOVE_LINE,
		Target:          m.Target,
		Extruder:        m.Extruder,
		Feedrate:        m.Feedrate,
		CorrectionSteps: m.CorrectionSteps,
		Duplication:     m.Duplication,
		InactiveX:       m.InactiveX,
	})
	self.pending.Add(1)
	if !self.queue.Put(&m) {
		self.pending.Done()
		return errors.Newf(errors.UnknownCode, "planner closed")
	}
	return nil
}

func (self *SimulatedMachine) Synchronize() error {
	self.pending.Wait()
	return nil
}

func (self *SimulatedMachine) Set_position(pos Position, extruder int) {
	self.pending.Wait()
	self.lock.Lock()
	defer self.lock.Unlock()
	for axis := 0; axis < XYZE; axis++ {
		off := pos[axis] - self.physical(axis, extruder)
		if slot(axis, extruder) == SIM_X2_SLOT {
			self.offsetX2 = off
		} else {
			self.offset[axis] = off
		}
	}
}

func (self *SimulatedMachine) triggered(s int, p float64) bool {
	if self.Missing[s] {
		return false
	}
	if self.dirs[s] < 0 {
		return p <= self.endstop[s]+SIM_ENDSTOP_EPSILON
	}
	return p >= self.endstop[s]-SIM_ENDSTOP_EPSILON
}

func (self *SimulatedMachine) Triggered(axis, extruder int) bool {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.triggered(slot(axis, extruder), self.physical(axis, extruder))
}

// Homing_move runs the move to completion except that every axis in
// req.Axes stops where its endstop triggers.
func (self *SimulatedMachine) Homing_move(req *HomingRequest) (Position, error) {
	self.pending.Wait()
	self.lock.Lock()
	defer self.lock.Unlock()

	start := self.logical(req.Extruder)
	homing := map[int]bool{}
	for _, axis := range req.Axes {
		homing[axis] = true
	}
	for axis := 0; axis < XYZE; axis++ {
		from := self.physical(axis, req.Extruder)
		to := req.Target[axis] - self.frameOffset(axis, req.Extruder)
		s := slot(axis, req.Extruder)
		if homing[axis] && axis < XYZ && !self.Missing[s] {
			dir := float64(self.dirs[s])
			if (to-from)*dir > 0 {
				es := self.endstop[s]
				if self.triggered(s, from) {
					to = from
				} else if (to-es)*dir >= 0 {
					to = es
				}
			}
		}
		self.setPhysical(axis, req.Extruder, to)
	}
	reached := self.logical(req.Extruder)
	self.Moves = append(self.Moves, SimMove{
		Kind:     SIM_MOVE_HOME,
		Start:    start,
		Target:   req.Target,
		Reached:  reached,
		Axes:     append([]int(nil), req.Axes...),
		Extruder: req.Extruder,
		Feedrate: req.Feedrate,
	})
	return reached, nil
}

// Physical returns the physical position with X of the given carriage.
func (self *SimulatedMachine) Physical(extruder int) Position {
	self.lock.Lock()
	defer self.lock.Unlock()
	pos := self.phys
	pos[X_AXIS] = self.physical(X_AXIS, extruder)
	return pos
}

// Home_moves filters the recorded homing moves.
func (self *SimulatedMachine) Home_moves() []SimMove {
	var moves []SimMove
	for _, m := range self.Moves {
		if m.Kind == SIM_MOVE_HOME {
			moves = append(moves, m)
		}
	}
	return moves
}

// FlatLeveling is a constant Z offset bed with optional segmentation.
type FlatLeveling struct {
	Offset  float64
	Segment float64
}

func (self *FlatLeveling) Get_z_adjust(x, y float64) float64 { return self.Offset }

func (self *FlatLeveling) Segment_length() float64 { return self.Segment }
