// Package raster encodes forecast grids as GeoTIFF, NetCDF and PNG artifacts.
package raster

import (
	"fmt"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
)

// Grid is one 2D frame, row-major with row 0 at the northern edge.
type Grid struct {
	Width  int
	Height int
	Data   []float64
}

// FrameGrid returns timestep t of v as a Grid. The data is shared, not copied.
func FrameGrid(v domain.Volume, t int) Grid {
	s := v.Shape()
	return Grid{Width: s.Width, Height: s.Height, Data: v.Frame(t)}
}

func (g Grid) validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: grid %dx%d is empty", domain.ErrPrecondition, g.Width, g.Height)
	}
	if len(g.Data) != g.Width*g.Height {
		return fmt.Errorf("%w: grid %dx%d needs %d values, got %d",
			domain.ErrPrecondition, g.Width, g.Height, g.Width*g.Height, len(g.Data))
	}
	return nil
}
