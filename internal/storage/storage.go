// Package storage uploads forecast artifacts to an object store and builds
// their public URLs.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// Uploader stores an artifact under key and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body []byte) (string, error)
	// URL returns the public URL for key without uploading anything.
	URL(key string) string
}

// Content types of the artifacts the pipeline produces.
const (
	ContentTypeNetCDF  = "application/x-netcdf"
	ContentTypeGeoTIFF = "image/tiff"
	ContentTypePNG     = "image/png"
)

// Variables rendered as per-timestep GeoTIFFs, in key spelling.
const (
	VarDepth     = "depth"
	VarVelocityX = "vel_x"
	VarVelocityY = "vel_y"
)

// Keys builds the object keys for one prediction. Downstream consumers
// derive URLs from this layout, so it must stay stable.
type Keys struct {
	PredictionID string
}

// NetCDF is the full forecast cube.
func (k Keys) NetCDF() string { return fmt.Sprintf("predictions/%s/forecast.nc", k.PredictionID) }

// CRF is where the cloud raster conversion of the NetCDF is published.
func (k Keys) CRF() string { return fmt.Sprintf("predictions/%s/forecast.crf", k.PredictionID) }

// GeoTIFF is the single-band raster of variable at timestep t.
func (k Keys) GeoTIFF(variable string, t int) string {
	return fmt.Sprintf("predictions/%s/%s_t%03d.tif", k.PredictionID, variable, t)
}

// Preview is the full-size PNG of depth at timestep t.
func (k Keys) Preview(t int) string {
	return fmt.Sprintf("previews/%s/t%03d.png", k.PredictionID, t)
}

// Thumbnail is the 256px PNG of depth at timestep t.
func (k Keys) Thumbnail(t int) string {
	return fmt.Sprintf("previews/%s/thumb_t%03d.png", k.PredictionID, t)
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

func uploadError(key string, err error) error {
	return fmt.Errorf("storage upload %s: %w", key, err)
}
