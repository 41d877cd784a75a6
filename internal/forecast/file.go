// Package forecast reads and writes forecast input files and generates
// synthetic forecasts for development runs.
package forecast

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
	"github.com/couchcryptid/flood-forecast-etl/internal/pipeline"
)

// File is the on-disk form of one model forecast: the three [t][y][x]
// volumes plus the metadata the pipeline needs.
type File struct {
	ForecastStart time.Time            `json:"forecast_start"`
	Bounds        domain.Bounds        `json:"bounds"`
	Location      domain.LocationInput `json:"location"`
	InputFeatures domain.InputFeatures `json:"input_features"`
	Model         domain.ModelMetadata `json:"model_metadata"`

	Depth     [][][]float64 `json:"depth"`
	VelocityX [][][]float64 `json:"velocity_x"`
	VelocityY [][][]float64 `json:"velocity_y"`
}

// Read decodes a forecast file.
func Read(r io.Reader) (File, error) {
	var f File
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return File{}, fmt.Errorf("decode forecast: %w", err)
	}
	return f, nil
}

// ReadFile opens and decodes path.
func ReadFile(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open forecast: %w", err)
	}
	defer fh.Close()
	return Read(fh)
}

// WriteFile encodes f to path.
func WriteFile(path string, f File) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write forecast: %w", err)
	}
	return nil
}

// Volumes validates the nested arrays and groups them.
func (f File) Volumes() (domain.ForecastVolumes, error) {
	depth, err := domain.VolumeFromNested(f.Depth)
	if err != nil {
		return domain.ForecastVolumes{}, fmt.Errorf("depth: %w", err)
	}
	vx, err := domain.VolumeFromNested(f.VelocityX)
	if err != nil {
		return domain.ForecastVolumes{}, fmt.Errorf("velocity_x: %w", err)
	}
	vy, err := domain.VolumeFromNested(f.VelocityY)
	if err != nil {
		return domain.ForecastVolumes{}, fmt.Errorf("velocity_y: %w", err)
	}
	return domain.NewForecastVolumes(depth, vx, vy)
}

// Request converts f into a pipeline request.
func (f File) Request(runSuffix string) (pipeline.Request, error) {
	vols, err := f.Volumes()
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{
		Volumes:       vols,
		Bounds:        f.Bounds,
		ForecastStart: f.ForecastStart,
		Location:      f.Location,
		InputFeatures: f.InputFeatures,
		Model:         f.Model,
		RunSuffix:     runSuffix,
	}, nil
}
