// Bed mesh leveling
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package project

import (
	"math"

	"k3m/common/config"
	"k3m/common/errors"
	"k3m/common/logger"
	"k3m/common/utils/maths"
)

func Lerp(t, v0, v1 float64) float64 {
	return (1.-t)*v0 + t*v1
}

// ZMesh is a rectangular probed grid sampled directly, rows along Y.
type ZMesh struct {
	Mesh_matrix  [][]float64
	Mesh_offsets [2]float64
	Mesh_x_min   float64
	Mesh_x_max   float64
	Mesh_y_min   float64
	Mesh_y_max   float64
	Mesh_x_count int
	Mesh_y_count int
	Mesh_x_dist  float64
	Mesh_y_dist  float64
}

func NewZMesh(meshMin, meshMax [2]float64, points [][]float64) (*ZMesh, error) {
	if len(points) < 2 || len(points[0]) < 2 {
		return nil, errors.Newf(errors.InvalidArgumentCode, "bed_mesh: grid must be at least 2x2")
	}
	self := &ZMesh{}
	self.Mesh_x_min, self.Mesh_y_min = meshMin[0], meshMin[1]
	self.Mesh_x_max, self.Mesh_y_max = meshMax[0], meshMax[1]
	self.Mesh_y_count = len(points)
	self.Mesh_x_count = len(points[0])
	self.Mesh_matrix = make([][]float64, self.Mesh_y_count)
	for i, row := range points {
		if len(row) != self.Mesh_x_count {
			return nil, errors.Newf(errors.InvalidArgumentCode, "bed_mesh: row %d has %d points, want %d",
				i, len(row), self.Mesh_x_count)
		}
		self.Mesh_matrix[i] = append([]float64(nil), row...)
	}
	self.Mesh_x_dist = (self.Mesh_x_max - self.Mesh_x_min) / float64(self.Mesh_x_count-1)
	self.Mesh_y_dist = (self.Mesh_y_max - self.Mesh_y_min) / float64(self.Mesh_y_count-1)
	logger.Debugf("bed_mesh: Mesh Min: (%.2f,%.2f) Mesh Max: (%.2f,%.2f) grid %dx%d",
		self.Mesh_x_min, self.Mesh_y_min, self.Mesh_x_max, self.Mesh_y_max, self.Mesh_x_count, self.Mesh_y_count)
	return self, nil
}

func (self *ZMesh) Get_x_coordinate(index int) float64 {
	return self.Mesh_x_min + self.Mesh_x_dist*float64(index)
}

func (self *ZMesh) Get_y_coordinate(index int) float64 {
	return self.Mesh_y_min + self.Mesh_y_dist*float64(index)
}

func (self *ZMesh) Set_mesh_offsets(x, y float64) {
	self.Mesh_offsets = [2]float64{x, y}
}

// Get_linear_index returns the cell index and the clamped fraction within
// it. Coordinates outside the grid use the edge cell.
func (self *ZMesh) Get_linear_index(coord float64, axis int) (float64, int) {
	meshMin, meshCnt, meshDist := self.Mesh_x_min, self.Mesh_x_count, self.Mesh_x_dist
	cfunc := self.Get_x_coordinate
	if axis == Y_AXIS {
		meshMin, meshCnt, meshDist = self.Mesh_y_min, self.Mesh_y_count, self.Mesh_y_dist
		cfunc = self.Get_y_coordinate
	}
	idx := int(math.Floor((coord - meshMin) / meshDist))
	idx = int(maths.Saturate(float64(idx), 0, float64(meshCnt-2)))
	t := (coord - cfunc(idx)) / meshDist
	return maths.Saturate(t, 0., 1.), idx
}

func (self *ZMesh) Calc_z(x, y float64) float64 {
	tbl := self.Mesh_matrix
	tx, xidx := self.Get_linear_index(x+self.Mesh_offsets[0], X_AXIS)
	ty, yidx := self.Get_linear_index(y+self.Mesh_offsets[1], Y_AXIS)
	z0 := Lerp(tx, tbl[yidx][xidx], tbl[yidx][xidx+1])
	z1 := Lerp(tx, tbl[yidx+1][xidx], tbl[yidx+1][xidx+1])
	return Lerp(ty, z0, z1)
}

func (self *ZMesh) Get_z_range() (float64, float64) {
	meshMin, meshMax := math.Inf(1), math.Inf(-1)
	for _, row := range self.Mesh_matrix {
		for _, z := range row {
			meshMin = math.Min(meshMin, z)
			meshMax = math.Max(meshMax, z)
		}
	}
	return meshMin, meshMax
}

// BedMesh feeds the move dispatcher a Z adjustment from the active mesh.
type BedMesh struct {
	Z_mesh           *ZMesh
	Split_delta_dist float64
}

var _ IBedLeveling = (*BedMesh)(nil)

func NewBedMesh(cfg *config.BedMeshConfig) (*BedMesh, error) {
	self := &BedMesh{Split_delta_dist: cfg.SplitDeltaDist}
	if !cfg.Enabled() {
		return self, nil
	}
	mesh, err := NewZMesh(cfg.MeshMin, cfg.MeshMax, cfg.Points)
	if err != nil {
		return nil, err
	}
	self.Set_mesh(mesh)
	return self, nil
}

func (self *BedMesh) Set_mesh(mesh *ZMesh) {
	self.Z_mesh = mesh
	if mesh != nil {
		lo, hi := mesh.Get_z_range()
		logger.Infof("bed_mesh: mesh loaded, z range [%.4f, %.4f]", lo, hi)
	}
}

func (self *BedMesh) Get_z_adjust(x, y float64) float64 {
	if self.Z_mesh == nil {
		return 0.
	}
	return self.Z_mesh.Calc_z(x, y)
}

// Segment_length is zero while no mesh is active.
func (self *BedMesh) Segment_length() float64 {
	if self.Z_mesh == nil {
		return 0.
	}
	return self.Split_delta_dist
}
