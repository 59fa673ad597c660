package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v2"

	"k3m/common/errors"
	"k3m/common/file"
)

const (
	DEFAULT_BUMP_MM        = 5.0
	DEFAULT_BUMP_DIVISOR   = 4.0
	DEFAULT_PARK_DELAY_MS  = 1000
	DEFAULT_LOG_MAX_SIZE   = 10
	DEFAULT_LOG_MAX_BACKUP = 3
	DEFAULT_LOG_MAX_AGE    = 7
)

type AxisConfig struct {
	MinPos         float64 `toml:"min_pos" yaml:"min_pos"`
	MaxPos         float64 `toml:"max_pos" yaml:"max_pos"`
	HomePos        float64 `toml:"home_pos" yaml:"home_pos"`
	HomeDir        int     `toml:"home_dir" yaml:"home_dir"`
	MaxLength      float64 `toml:"max_length" yaml:"max_length"`
	HomingFeedrate float64 `toml:"homing_feedrate" yaml:"homing_feedrate"`
	BumpMM         float64 `toml:"bump_mm" yaml:"bump_mm"`
	BumpDivisor    float64 `toml:"bump_divisor" yaml:"bump_divisor"`
}

type AxesConfig struct {
	X AxisConfig `toml:"x" yaml:"x"`
	Y AxisConfig `toml:"y" yaml:"y"`
	Z AxisConfig `toml:"z" yaml:"z"`
}

// Get returns the axis config for X=0, Y=1, Z=2.
func (a *AxesConfig) Get(axis int) *AxisConfig {
	switch axis {
	case 0:
		return &a.X
	case 1:
		return &a.Y
	default:
		return &a.Z
	}
}

type HomingConfig struct {
	QuickHome          bool    `toml:"quick_home" yaml:"quick_home"`
	SafeZHome          bool    `toml:"safe_z_home" yaml:"safe_z_home"`
	SafeX              float64 `toml:"safe_x" yaml:"safe_x"`
	SafeY              float64 `toml:"safe_y" yaml:"safe_y"`
	DoubleZHome        bool    `toml:"double_z_home" yaml:"double_z_home"`
	ZRaiseBeforeHoming float64 `toml:"z_raise_before_homing" yaml:"z_raise_before_homing"`
	XYTravelFeedrate   float64 `toml:"xy_travel_feedrate" yaml:"xy_travel_feedrate"`
	ZFeedrate          float64 `toml:"z_feedrate" yaml:"z_feedrate"`
}

type HysteresisConfig struct {
	X float64 `toml:"x" yaml:"x"`
	Y float64 `toml:"y" yaml:"y"`
	Z float64 `toml:"z" yaml:"z"`
	E float64 `toml:"e" yaml:"e"`
}

type ZWobbleConfig struct {
	Amplitude     float64      `toml:"amplitude" yaml:"amplitude"`
	Period        float64      `toml:"period" yaml:"period"`
	Phase         float64      `toml:"phase" yaml:"phase"`
	Samples       [][2]float64 `toml:"samples" yaml:"samples"`
	ScaledSamples [][2]float64 `toml:"scaled_samples" yaml:"scaled_samples"`
	ScalingFactor float64      `toml:"scaling_factor" yaml:"scaling_factor"`
}

type DualCarriageConfig struct {
	Enabled             bool    `toml:"enabled" yaml:"enabled"`
	X2MinPos            float64 `toml:"x2_min_pos" yaml:"x2_min_pos"`
	X2MaxPos            float64 `toml:"x2_max_pos" yaml:"x2_max_pos"`
	X2HomePos           float64 `toml:"x2_home_pos" yaml:"x2_home_pos"`
	X2HomeDir           int     `toml:"x2_home_dir" yaml:"x2_home_dir"`
	X2HomeOffset        float64 `toml:"x2_home_offset" yaml:"x2_home_offset"`
	DefaultMode         string  `toml:"default_mode" yaml:"default_mode"`
	DuplicateXOffset    float64 `toml:"duplicate_x_offset" yaml:"duplicate_x_offset"`
	DuplicateTempOffset int     `toml:"duplicate_temp_offset" yaml:"duplicate_temp_offset"`
	MinSeparation       float64 `toml:"min_separation" yaml:"min_separation"`
	ParkDelayMS         int     `toml:"park_delay_ms" yaml:"park_delay_ms"`
}

// BedMeshConfig is a probed grid; Points[row][col] runs Y rows by X columns.
type BedMeshConfig struct {
	MeshMin        [2]float64  `toml:"mesh_min" yaml:"mesh_min"`
	MeshMax        [2]float64  `toml:"mesh_max" yaml:"mesh_max"`
	Points         [][]float64 `toml:"points" yaml:"points"`
	SplitDeltaDist float64     `toml:"split_delta_distance" yaml:"split_delta_distance"`
}

func (self *BedMeshConfig) Enabled() bool {
	return len(self.Points) > 0
}

type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file" yaml:"file"`
	Color      bool   `toml:"color" yaml:"color"`
	MaxSize    int    `toml:"max_size" yaml:"max_size"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAge     int    `toml:"max_age" yaml:"max_age"`
}

type StoreConfig struct {
	Path string `toml:"path" yaml:"path"`
}

type MachineConfig struct {
	Axes         AxesConfig         `toml:"axis" yaml:"axis"`
	StepsPerMM   [4]float64         `toml:"steps_per_mm" yaml:"steps_per_mm"`
	Homing       HomingConfig       `toml:"homing" yaml:"homing"`
	Hysteresis   HysteresisConfig   `toml:"hysteresis" yaml:"hysteresis"`
	ZWobble      ZWobbleConfig      `toml:"zwobble" yaml:"zwobble"`
	DualCarriage DualCarriageConfig `toml:"dual_carriage" yaml:"dual_carriage"`
	BedMesh      BedMeshConfig      `toml:"bed_mesh" yaml:"bed_mesh"`
	Log          LogConfig          `toml:"log" yaml:"log"`
	Store        StoreConfig        `toml:"store" yaml:"store"`
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads a TOML or YAML machine config, fills defaults and validates it.
func Load(path string) (*MachineConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &MachineConfig{}
	if isYAML(path) {
		err = yaml.UnmarshalStrict(content, cfg)
	} else {
		_, err = toml.Decode(string(content), cfg)
	}
	if err != nil {
		return nil, errors.Newf(errors.InvalidConfigCode, "%s: %v", path, err)
	}
	cfg.ApplyDefaults()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back in the format implied by the file extension.
func Save(path string, cfg *MachineConfig) error {
	var data []byte
	if isYAML(path) {
		d, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		data = d
	} else {
		buf := &bytes.Buffer{}
		if err := toml.NewEncoder(buf).Encode(cfg); err != nil {
			return err
		}
		data = buf.Bytes()
	}
	return file.WriteFileWithSync(path, data)
}

func (self *MachineConfig) ApplyDefaults() {
	for axis := 0; axis < 3; axis++ {
		a := self.Axes.Get(axis)
		if a.MaxLength == 0 {
			a.MaxLength = a.MaxPos - a.MinPos
		}
		if a.BumpMM == 0 {
			a.BumpMM = DEFAULT_BUMP_MM
		}
		if a.BumpDivisor == 0 {
			a.BumpDivisor = DEFAULT_BUMP_DIVISOR
		}
	}
	if self.Homing.XYTravelFeedrate == 0 {
		self.Homing.XYTravelFeedrate = math.Min(self.Axes.X.HomingFeedrate, self.Axes.Y.HomingFeedrate)
	}
	if self.Homing.ZFeedrate == 0 {
		self.Homing.ZFeedrate = self.Axes.Z.HomingFeedrate
	}
	if self.ZWobble.ScalingFactor == 0 {
		self.ZWobble.ScalingFactor = 1.0
	}
	dc := &self.DualCarriage
	if dc.Enabled {
		if dc.X2HomeDir == 0 {
			dc.X2HomeDir = 1
		}
		if dc.DefaultMode == "" {
			dc.DefaultMode = "full_control"
		}
		if dc.ParkDelayMS == 0 {
			dc.ParkDelayMS = DEFAULT_PARK_DELAY_MS
		}
	}
	self.Store.Path = file.Normpath(self.Store.Path)
	self.Log.File = file.Normpath(self.Log.File)
	if self.Log.MaxSize == 0 {
		self.Log.MaxSize = DEFAULT_LOG_MAX_SIZE
	}
	if self.Log.MaxBackups == 0 {
		self.Log.MaxBackups = DEFAULT_LOG_MAX_BACKUP
	}
	if self.Log.MaxAge == 0 {
		self.Log.MaxAge = DEFAULT_LOG_MAX_AGE
	}
}

// Validate reports every violation at once.
func (self *MachineConfig) Validate() error {
	var err error
	bad := func(format string, args ...interface{}) {
		err = multierr.Append(err, errors.Newf(errors.InvalidConfigCode, format, args...))
	}
	for axis, name := range []string{"x", "y", "z"} {
		a := self.Axes.Get(axis)
		if a.MinPos > a.MaxPos {
			bad("axis.%s: min_pos %.3f above max_pos %.3f", name, a.MinPos, a.MaxPos)
		}
		if a.HomePos < a.MinPos || a.HomePos > a.MaxPos {
			bad("axis.%s: home_pos %.3f outside [%.3f, %.3f]", name, a.HomePos, a.MinPos, a.MaxPos)
		}
		if a.HomeDir != 1 && a.HomeDir != -1 {
			bad("axis.%s: home_dir must be -1 or 1", name)
		}
		if a.MaxLength <= 0 {
			bad("axis.%s: max_length must be positive", name)
		}
		if a.HomingFeedrate <= 0 {
			bad("axis.%s: homing_feedrate must be positive", name)
		}
		if a.BumpMM < 0 || a.BumpDivisor < 1 {
			bad("axis.%s: bump_mm must be >= 0 and bump_divisor >= 1", name)
		}
	}
	for i, s := range self.StepsPerMM {
		if s <= 0 {
			bad("steps_per_mm[%d] must be positive", i)
		}
	}
	h := self.Homing
	if h.SafeZHome {
		if h.SafeX < self.Axes.X.MinPos || h.SafeX > self.Axes.X.MaxPos ||
			h.SafeY < self.Axes.Y.MinPos || h.SafeY > self.Axes.Y.MaxPos {
			bad("homing: safe point (%.3f, %.3f) outside XY travel", h.SafeX, h.SafeY)
		}
	}
	if h.ZRaiseBeforeHoming < 0 {
		bad("homing: z_raise_before_homing must be >= 0")
	}
	if self.ZWobble.ScalingFactor <= 0 {
		bad("zwobble: scaling_factor must be positive")
	}
	dc := self.DualCarriage
	if dc.Enabled {
		if dc.X2MinPos > dc.X2MaxPos {
			bad("dual_carriage: x2_min_pos above x2_max_pos")
		}
		if dc.X2HomePos < dc.X2MinPos || dc.X2HomePos > dc.X2MaxPos {
			bad("dual_carriage: x2_home_pos %.3f outside [%.3f, %.3f]", dc.X2HomePos, dc.X2MinPos, dc.X2MaxPos)
		}
		if dc.X2HomeDir != 1 && dc.X2HomeDir != -1 {
			bad("dual_carriage: x2_home_dir must be -1 or 1")
		}
		if dc.MinSeparation < 0 {
			bad("dual_carriage: min_separation must be >= 0")
		}
		switch dc.DefaultMode {
		case "full_control", "auto_park", "duplication", "mirrored":
		default:
			bad("dual_carriage: unknown default_mode %q", dc.DefaultMode)
		}
	}
	bm := self.BedMesh
	if bm.Enabled() {
		if len(bm.Points) < 2 {
			bad("bed_mesh: need at least 2 rows of points")
		}
		for i, row := range bm.Points {
			if len(row) < 2 || len(row) != len(bm.Points[0]) {
				bad("bed_mesh: row %d must hold %d >= 2 points", i, len(bm.Points[0]))
			}
		}
		if bm.MeshMin[0] >= bm.MeshMax[0] || bm.MeshMin[1] >= bm.MeshMax[1] {
			bad("bed_mesh: mesh_min must be below mesh_max")
		}
		if bm.SplitDeltaDist < 0 {
			bad("bed_mesh: split_delta_distance must be >= 0")
		}
	}
	return err
}

// String is used by the host banner.
func (self *MachineConfig) String() string {
	return fmt.Sprintf("X[%.1f,%.1f] Y[%.1f,%.1f] Z[%.1f,%.1f] dual_x=%v",
		self.Axes.X.MinPos, self.Axes.X.MaxPos, self.Axes.Y.MinPos, self.Axes.Y.MaxPos,
		self.Axes.Z.MinPos, self.Axes.Z.MaxPos, self.DualCarriage.Enabled)
}
