package domain

import (
	"errors"
	"fmt"
	"math"
)

// ErrPrecondition marks input that violates a documented precondition:
// empty volumes, mismatched shapes, non-finite values or invalid bounds.
var ErrPrecondition = errors.New("precondition violated")

// Shape is the (timesteps, height, width) extent of a volume.
type Shape struct {
	Timesteps int `json:"timesteps"`
	Height    int `json:"height"`
	Width     int `json:"width"`
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s.Timesteps, s.Height, s.Width)
}

// Volume is a time-indexed 2D grid stored row-major as [t][y][x].
type Volume struct {
	shape Shape
	data  []float64
}

// NewVolume wraps data as a volume of the given shape. The slice is not copied.
func NewVolume(timesteps, height, width int, data []float64) (Volume, error) {
	if timesteps <= 0 || height <= 0 || width <= 0 {
		return Volume{}, fmt.Errorf("%w: volume shape (%d,%d,%d) must be positive in every dimension",
			ErrPrecondition, timesteps, height, width)
	}
	if want := timesteps * height * width; len(data) != want {
		return Volume{}, fmt.Errorf("%w: volume shape (%d,%d,%d) needs %d values, got %d",
			ErrPrecondition, timesteps, height, width, want, len(data))
	}
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Volume{}, fmt.Errorf("%w: non-finite value at flat index %d", ErrPrecondition, i)
		}
	}
	return Volume{shape: Shape{Timesteps: timesteps, Height: height, Width: width}, data: data}, nil
}

// VolumeFromNested builds a volume from a [t][y][x] nested slice, rejecting
// ragged input.
func VolumeFromNested(nested [][][]float64) (Volume, error) {
	if len(nested) == 0 || len(nested[0]) == 0 || len(nested[0][0]) == 0 {
		return Volume{}, fmt.Errorf("%w: volume is empty", ErrPrecondition)
	}
	t, h, w := len(nested), len(nested[0]), len(nested[0][0])
	data := make([]float64, 0, t*h*w)
	for ti, frame := range nested {
		if len(frame) != h {
			return Volume{}, fmt.Errorf("%w: timestep %d has %d rows, want %d", ErrPrecondition, ti, len(frame), h)
		}
		for yi, row := range frame {
			if len(row) != w {
				return Volume{}, fmt.Errorf("%w: timestep %d row %d has %d columns, want %d",
					ErrPrecondition, ti, yi, len(row), w)
			}
			data = append(data, row...)
		}
	}
	return NewVolume(t, h, w, data)
}

// Shape returns the volume's extent.
func (v Volume) Shape() Shape { return v.shape }

// At returns the value at (t, y, x).
func (v Volume) At(t, y, x int) float64 {
	return v.data[(t*v.shape.Height+y)*v.shape.Width+x]
}

// Frame returns the 2D slice for timestep t as a row-major view into the
// volume. Callers must not modify it.
func (v Volume) Frame(t int) []float64 {
	n := v.shape.Height * v.shape.Width
	return v.data[t*n : (t+1)*n]
}

// Nested returns a [t][y][x] copy of the volume, the layout used by the JSON
// forecast input.
func (v Volume) Nested() [][][]float64 {
	out := make([][][]float64, v.shape.Timesteps)
	for t := range out {
		frame := v.Frame(t)
		out[t] = make([][]float64, v.shape.Height)
		for y := range out[t] {
			row := make([]float64, v.shape.Width)
			copy(row, frame[y*v.shape.Width:(y+1)*v.shape.Width])
			out[t][y] = row
		}
	}
	return out
}

// ForecastVolumes groups the three variables of one forecast. Use
// NewForecastVolumes so the shared-shape invariant holds.
type ForecastVolumes struct {
	Depth     Volume
	VelocityX Volume
	VelocityY Volume
}

// NewForecastVolumes checks that all variables share one shape.
func NewForecastVolumes(depth, vx, vy Volume) (ForecastVolumes, error) {
	if depth.data == nil {
		return ForecastVolumes{}, fmt.Errorf("%w: depth volume is empty", ErrPrecondition)
	}
	if vx.shape != depth.shape {
		return ForecastVolumes{}, fmt.Errorf("%w: velocity_x shape %s does not match depth shape %s",
			ErrPrecondition, vx.shape, depth.shape)
	}
	if vy.shape != depth.shape {
		return ForecastVolumes{}, fmt.Errorf("%w: velocity_y shape %s does not match depth shape %s",
			ErrPrecondition, vy.shape, depth.shape)
	}
	return ForecastVolumes{Depth: depth, VelocityX: vx, VelocityY: vy}, nil
}

// Shape returns the shared shape of the grouped volumes.
func (f ForecastVolumes) Shape() Shape { return f.Depth.shape }

// Bounds is a geographic extent in EPSG:4326 degrees.
type Bounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// Validate enforces west < east, south < north and valid degree ranges.
func (b Bounds) Validate() error {
	switch {
	case b.West < -180 || b.East > 180:
		return fmt.Errorf("%w: longitude out of range in bounds %+v", ErrPrecondition, b)
	case b.South < -90 || b.North > 90:
		return fmt.Errorf("%w: latitude out of range in bounds %+v", ErrPrecondition, b)
	case b.West >= b.East:
		return fmt.Errorf("%w: bounds west %.6f must be less than east %.6f", ErrPrecondition, b.West, b.East)
	case b.South >= b.North:
		return fmt.Errorf("%w: bounds south %.6f must be less than north %.6f", ErrPrecondition, b.South, b.North)
	}
	return nil
}

// Center returns the midpoint of the bounds.
func (b Bounds) Center() LatLon {
	return LatLon{Lat: (b.South + b.North) / 2, Lon: (b.West + b.East) / 2}
}

// LatLon is a WGS-84 coordinate pair.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
