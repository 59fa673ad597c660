// Persistent calibration storage
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package project

import (
	"database/sql"
	_ "embed"
	"time"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"k3m/common/errors"
	"k3m/common/logger"
)

//go:embed calibration_schema.sql
var calibrationSchemaSQL string

// Calibration is the persisted part of the mechanics state. Phase and
// puls are in radians.
type Calibration struct {
	Id             string
	Hysteresis_mm  [XYZE]float64
	Wobble_mode    string
	Amplitude      float64
	Puls           float64
	Phase          float64
	Scaling_factor float64
	Samples        []WobbleSample
}

type CalibrationHistory struct {
	Id       string
	Saved_at time.Time
	Mode     string
	Samples  int
}

type CalibrationStore struct {
	db *sql.DB
}

func NewCalibrationStore(path string) (*CalibrationStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Newf(errors.StoreFailureCode, "open %s: %v", path, err)
	}
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	}
	for _, pragma := range pragmas {
		if _, err = db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Newf(errors.StoreFailureCode, "%s: %v", pragma, err)
		}
	}
	if _, err = db.Exec(calibrationSchemaSQL); err != nil {
		db.Close()
		return nil, errors.Newf(errors.StoreFailureCode, "schema: %v", err)
	}
	logger.Infof("calibration store opened at %s", path)
	return &CalibrationStore{db: db}, nil
}

func (self *CalibrationStore) Close() error {
	return self.db.Close()
}

// Save_calibration replaces the stored calibration and appends a history
// row. cal.Id is filled in.
func (self *CalibrationStore) Save_calibration(cal *Calibration) (err error) {
	tx, err := self.db.Begin()
	if err != nil {
		return errors.Newf(errors.StoreFailureCode, "begin: %v", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != sql.ErrTxDone {
				err = multierr.Append(err, rbErr)
			}
		}
	}()

	exec := func(query string, args ...interface{}) {
		if err != nil {
			return
		}
		if _, e := tx.Exec(query, args...); e != nil {
			err = errors.Newf(errors.StoreFailureCode, "%v", e)
		}
	}
	exec(`DELETE FROM hysteresis`)
	for axis, mm := range cal.Hysteresis_mm {
		exec(`INSERT INTO hysteresis (axis, mm) VALUES (?, ?)`, axis, mm)
	}
	exec(`DELETE FROM zwobble_params`)
	exec(`INSERT INTO zwobble_params (id, mode, amplitude, puls, phase, scaling_factor) VALUES (1, ?, ?, ?, ?, ?)`,
		cal.Wobble_mode, cal.Amplitude, cal.Puls, cal.Phase, cal.Scaling_factor)
	exec(`DELETE FROM zwobble_samples`)
	for _, s := range cal.Samples {
		exec(`INSERT INTO zwobble_samples (rod, actual, scaled) VALUES (?, ?, ?)`, s.Rod, s.Actual, s.Scaled)
	}
	id := uuid.NewV4().String()
	exec(`INSERT INTO calibration_history (id, saved_at, mode, samples) VALUES (?, ?, ?, ?)`,
		id, time.Now().UnixNano(), cal.Wobble_mode, len(cal.Samples))
	if err != nil {
		return err
	}
	if e := tx.Commit(); e != nil {
		return errors.Newf(errors.StoreFailureCode, "commit: %v", e)
	}
	cal.Id = id
	return nil
}

// Load_calibration returns the stored calibration, or nil when nothing has
// been saved yet.
func (self *CalibrationStore) Load_calibration() (*Calibration, error) {
	cal := &Calibration{}
	row := self.db.QueryRow(`SELECT mode, amplitude, puls, phase, scaling_factor FROM zwobble_params WHERE id = 1`)
	err := row.Scan(&cal.Wobble_mode, &cal.Amplitude, &cal.Puls, &cal.Phase, &cal.Scaling_factor)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Newf(errors.StoreFailureCode, "zwobble_params: %v", err)
	}
	if err = self.db.QueryRow(`SELECT id FROM calibration_history ORDER BY saved_at DESC LIMIT 1`).
		Scan(&cal.Id); err != nil && err != sql.ErrNoRows {
		return nil, errors.Newf(errors.StoreFailureCode, "calibration_history: %v", err)
	}

	rows, err := self.db.Query(`SELECT axis, mm FROM hysteresis`)
	if err != nil {
		return nil, errors.Newf(errors.StoreFailureCode, "hysteresis: %v", err)
	}
	for rows.Next() {
		var axis int
		var mm float64
		if err = rows.Scan(&axis, &mm); err != nil {
			rows.Close()
			return nil, errors.Newf(errors.StoreFailureCode, "hysteresis: %v", err)
		}
		if axis >= 0 && axis < XYZE {
			cal.Hysteresis_mm[axis] = mm
		}
	}
	if err = multierr.Combine(rows.Err(), rows.Close()); err != nil {
		return nil, errors.Newf(errors.StoreFailureCode, "hysteresis: %v", err)
	}

	rows, err = self.db.Query(`SELECT rod, actual, scaled FROM zwobble_samples ORDER BY rod`)
	if err != nil {
		return nil, errors.Newf(errors.StoreFailureCode, "zwobble_samples: %v", err)
	}
	for rows.Next() {
		var s WobbleSample
		if err = rows.Scan(&s.Rod, &s.Actual, &s.Scaled); err != nil {
			rows.Close()
			return nil, errors.Newf(errors.StoreFailureCode, "zwobble_samples: %v", err)
		}
		cal.Samples = append(cal.Samples, s)
	}
	if err = multierr.Combine(rows.Err(), rows.Close()); err != nil {
		return nil, errors.Newf(errors.StoreFailureCode, "zwobble_samples: %v", err)
	}
	return cal, nil
}

// Calibration_history lists saved calibrations, newest first.
func (self *CalibrationStore) Calibration_history() ([]CalibrationHistory, error) {
	rows, err := self.db.Query(`SELECT id, saved_at, mode, samples FROM calibration_history ORDER BY saved_at DESC`)
	if err != nil {
		return nil, errors.Newf(errors.StoreFailureCode, "calibration_history: %v", err)
	}
	defer rows.Close()
	var history []CalibrationHistory
	for rows.Next() {
		var h CalibrationHistory
		var savedAt int64
		if err = rows.Scan(&h.Id, &savedAt, &h.Mode, &h.Samples); err != nil {
			return nil, errors.Newf(errors.StoreFailureCode, "calibration_history: %v", err)
		}
		h.Saved_at = time.Unix(0, savedAt)
		history = append(history, h)
	}
	return history, rows.Err()
}

// Export_calibration snapshots the current calibration.
func (self *CartesianMechanics) Export_calibration() *Calibration {
	cal := &Calibration{
		Hysteresis_mm:  self.Hysteresis.Mm,
		Wobble_mode:    self.Wobble.Mode(),
		Scaling_factor: self.Wobble.Scaling_factor,
		Samples:        self.Wobble.Samples(),
	}
	if s, ok := self.Wobble.Model.(*WobbleSinusoidal); ok {
		cal.Amplitude, cal.Puls, cal.Phase = s.Amplitude, s.Puls, s.Phase
	}
	return cal
}

// Apply_calibration replaces the calibration in use. Rejected samples are
// reported together; the others are kept.
func (self *CartesianMechanics) Apply_calibration(cal *Calibration) error {
	if cal == nil {
		return nil
	}
	h := cal.Hysteresis_mm
	self.Hysteresis.Set_hysteresis(h[X_AXIS], h[Y_AXIS], h[Z_AXIS], h[E_AXIS])
	if cal.Scaling_factor > 0 {
		self.Wobble.Scaling_factor = cal.Scaling_factor
	}
	self.Wobble.Reset_zwobble()

	var err error
	switch cal.Wobble_mode {
	case WOBBLE_MODE_SINUSOIDAL:
		self.Wobble.Model = &WobbleSinusoidal{Amplitude: cal.Amplitude, Puls: cal.Puls, Phase: cal.Phase}
		self.Wobble.calculateLut()
	case WOBBLE_MODE_TABLE:
		for _, s := range cal.Samples {
			err = multierr.Append(err, self.Wobble.insertInLut(s))
		}
	case WOBBLE_MODE_NONE, "":
	default:
		err = errors.Newf(errors.InvalidArgumentCode, "unknown z-wobble mode %q", cal.Wobble_mode)
	}
	self.log.Infof("calibration %s applied: hysteresis %v, z-wobble %s (consistent=%v)",
		cal.Id, self.Hysteresis.Mm, self.Wobble.Mode(), self.Wobble.Are_parameters_consistent())
	return err
}

// Save_calibration stores the current calibration.
func (self *CartesianMechanics) Save_calibration(store ICalibrationStore) (*Calibration, error) {
	cal := self.Export_calibration()
	if err := store.Save_calibration(cal); err != nil {
		return nil, err
	}
	return cal, nil
}

// Load_calibration applies the stored calibration, if any.
func (self *CartesianMechanics) Load_calibration(store ICalibrationStore) error {
	cal, err := store.Load_calibration()
	if err != nil {
		return err
	}
	if cal == nil {
		self.log.Infof("no stored calibration, using config")
		return nil
	}
	return self.Apply_calibration(cal)
}
