package project

const (
	X_AXIS = 0
	Y_AXIS = 1
	Z_AXIS = 2
	E_AXIS = 3

	XYZ  = 3
	XYZE = 4
)

var axisCodes = [XYZE]string{"X", "Y", "Z", "E"}

// Position is a machine coordinate in mm, indexed by X_AXIS..E_AXIS.
type Position [XYZE]float64

// PlannerMove is what the dispatcher hands to the motion planner: the fully
// corrected target plus the backlash steps to emit before it.
type PlannerMove struct {
	Target          Position
	Feedrate        float64
	Extruder        int
	CorrectionSteps [XYZE]int64
	// Duplication moves drive both carriages; InactiveX is the second
	// carriage's X target.
	Duplication bool
	InactiveX   float64
}

// HomingRequest is a move that halts each listed axis independently when
// its endstop reports triggered.
type HomingRequest struct {
	Target   Position
	Feedrate float64
	Axes     []int
	Extruder int
}

// IPlanner is the external motion planner / stepper queue.
type IPlanner interface {
	Buffer_line(move *PlannerMove) error
	Set_position(pos Position, extruder int)
	Synchronize() error
	Homing_move(req *HomingRequest) (Position, error)
}

// IEndstops reports endstop/probe state per axis. extruder selects the
// X endstop of the given carriage on dual-X machines.
type IEndstops interface {
	Triggered(axis int, extruder int) bool
}

// IBedLeveling supplies the Z adjustment composed after wobble and
// hysteresis correction.
type IBedLeveling interface {
	Get_z_adjust(x, y float64) float64
	// Segment_length > 0 means moves longer than it must be split by the
	// caller before they reach the dispatcher.
	Segment_length() float64
}

// ICalibrationStore persists calibration data across restarts.
type ICalibrationStore interface {
	Save_calibration(cal *Calibration) error
	Load_calibration() (*Calibration, error)
}
