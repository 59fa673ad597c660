package main

import (
	"os"

	"k3m/common/config"
	"k3m/common/logger"
	"k3m/common/utils/sys"
	"k3m/project"
)

const DEFAULT_CONFIG_PATH = "machine.toml"

// startPosition puts every simulated axis in the middle of its travel.
func startPosition(cfg *config.MachineConfig) (project.Position, float64) {
	var pos project.Position
	for axis := 0; axis < project.XYZ; axis++ {
		a := cfg.Axes.Get(axis)
		pos[axis] = (a.MinPos + a.MaxPos) / 2
	}
	dc := cfg.DualCarriage
	return pos, (dc.X2MinPos + dc.X2MaxPos) / 2
}

func main() {
	defer sys.CatchPanic()
	path := DEFAULT_CONFIG_PATH
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatalf("load %s: %v", path, err)
	}
	logger.InitLogger(logger.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		Color:      cfg.Log.Color,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	})
	defer logger.Sync()
	logger.Debugf("main thread %d running", sys.GetGID())
	logger.Infof("machine %s", cfg)

	start, startX2 := startPosition(cfg)
	sim := project.NewSimulatedMachine(cfg, start, startX2)
	defer sim.Close()
	var leveling project.IBedLeveling
	if cfg.BedMesh.Enabled() {
		mesh, err := project.NewBedMesh(&cfg.BedMesh)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		leveling = mesh
	}
	mech := project.NewCartesianMechanics(cfg, sim, sim, leveling)
	mech.Bind_main_loop()

	var store *project.CalibrationStore
	if cfg.Store.Path != "" {
		store, err = project.NewCalibrationStore(cfg.Store.Path)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		defer store.Close()
		if err = mech.Load_calibration(store); err != nil {
			logger.Warnf("stored calibration partly applied: %v", err)
		}
	}

	if err = mech.Home(true); err != nil {
		logger.Errorf("homing failed: %v", err)
	}
	logger.Infof("endstops %s", mech.Report_endstops())
	for _, report := range []func() (string, error){mech.Report_hysteresis, mech.Report_zwobble, mech.Report_dual_x} {
		out, err := report()
		if err != nil {
			logger.Errorf("report: %v", err)
			continue
		}
		logger.Info(out)
	}

	if store != nil {
		cal, err := mech.Save_calibration(store)
		if err != nil {
			logger.Errorf("save calibration: %v", err)
			return
		}
		logger.Infof("calibration %s saved", cal.Id)
	}
}
