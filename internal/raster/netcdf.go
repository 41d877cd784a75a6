package raster

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
)

// NetCDF classic header tags and external types.
const (
	ncDimension = 0x0A
	ncVariable  = 0x0B
	ncAttribute = 0x0C

	ncChar   = 2
	ncFloat  = 5
	ncDouble = 6
)

// Dataset is everything written into one forecast NetCDF file.
type Dataset struct {
	PredictionID      string
	Start             time.Time
	Created           time.Time
	Model             string
	Bounds            domain.Bounds
	GroundResolutionM float64
	Volumes           domain.ForecastVolumes
}

type ncAttr struct {
	name string
	typ  uint32
	text string
	num  float64
}

func textAttr(name, v string) ncAttr { return ncAttr{name: name, typ: ncChar, text: v} }
func doubleAttr(name string, v float64) ncAttr { return ncAttr{name: name, typ: ncDouble, num: v} }

type ncVar struct {
	name  string
	dims  []uint32
	attrs []ncAttr
	typ   uint32
	// values streams the variable's data in file order.
	values func(emit func(float64) error) error
	count  int
}

func (v ncVar) size() int64 {
	elem := int64(4)
	if v.typ == ncDouble {
		elem = 8
	}
	return pad4(int64(v.count) * elem)
}

func pad4(n int64) int64 { return (n + 3) &^ 3 }

// EncodeNetCDF writes ds in the NetCDF classic format with dimensions
// (time, lat, lon). Files whose data would overflow 32-bit offsets use the
// 64-bit offset variant; everything else is CDF-1.
func EncodeNetCDF(w io.Writer, ds Dataset) error {
	shape := ds.Volumes.Shape()
	if shape.Timesteps <= 0 || shape.Height <= 0 || shape.Width <= 0 {
		return fmt.Errorf("%w: cannot encode empty volume %s", domain.ErrPrecondition, shape)
	}
	if err := ds.Bounds.Validate(); err != nil {
		return err
	}

	const (
		dimTime = 0
		dimLat  = 1
		dimLon  = 2
	)
	start := ds.Start.UTC()
	gridValues := func(v domain.Volume) func(func(float64) error) error {
		return func(emit func(float64) error) error {
			for t := 0; t < shape.Timesteps; t++ {
				for _, x := range v.Frame(t) {
					if err := emit(x); err != nil {
						return err
					}
				}
			}
			return nil
		}
	}
	n := shape.Timesteps * shape.Height * shape.Width

	vars := []ncVar{
		{
			name: "time", dims: []uint32{dimTime}, typ: ncDouble, count: shape.Timesteps,
			attrs: []ncAttr{
				textAttr("units", "hours since "+start.Format("2006-01-02 15:04:05")),
				textAttr("calendar", "standard"),
				textAttr("long_name", "Forecast time"),
			},
			values: func(emit func(float64) error) error {
				for t := 0; t < shape.Timesteps; t++ {
					if err := emit(float64(t)); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			name: "lat", dims: []uint32{dimLat}, typ: ncDouble, count: shape.Height,
			attrs: []ncAttr{
				textAttr("units", "degrees_north"),
				textAttr("long_name", "Latitude"),
			},
			values: linspace(ds.Bounds.North, ds.Bounds.South, shape.Height),
		},
		{
			name: "lon", dims: []uint32{dimLon}, typ: ncDouble, count: shape.Width,
			attrs: []ncAttr{
				textAttr("units", "degrees_east"),
				textAttr("long_name", "Longitude"),
			},
			values: linspace(ds.Bounds.West, ds.Bounds.East, shape.Width),
		},
		{
			name: "water_depth", dims: []uint32{dimTime, dimLat, dimLon}, typ: ncFloat, count: n,
			attrs: []ncAttr{
				textAttr("units", "meters"),
				textAttr("long_name", "Water depth"),
				textAttr("description", "Predicted flood water depth"),
			},
			values: gridValues(ds.Volumes.Depth),
		},
		{
			name: "velocity_x", dims: []uint32{dimTime, dimLat, dimLon}, typ: ncFloat, count: n,
			attrs: []ncAttr{
				textAttr("units", "m/s"),
				textAttr("long_name", "Velocity X component"),
				textAttr("description", "East-west velocity component"),
			},
			values: gridValues(ds.Volumes.VelocityX),
		},
		{
			name: "velocity_y", dims: []uint32{dimTime, dimLat, dimLon}, typ: ncFloat, count: n,
			attrs: []ncAttr{
				textAttr("units", "m/s"),
				textAttr("long_name", "Velocity Y component"),
				textAttr("description", "North-south velocity component"),
			},
			values: gridValues(ds.Volumes.VelocityY),
		},
	}

	globals := []ncAttr{
		textAttr("prediction_id", ds.PredictionID),
		textAttr("crs", domain.SpatialReference),
		doubleAttr("ground_resolution_m", ds.GroundResolutionM),
		textAttr("model", ds.Model),
		textAttr("created", ds.Created.UTC().Format(time.RFC3339)),
		doubleAttr("bounds_west", ds.Bounds.West),
		doubleAttr("bounds_south", ds.Bounds.South),
		doubleAttr("bounds_east", ds.Bounds.East),
		doubleAttr("bounds_north", ds.Bounds.North),
		textAttr("Conventions", "CF-1.8"),
	}

	var dataSize int64
	for _, v := range vars {
		dataSize += v.size()
	}
	h := ncHeader{
		dims: []ncDim{
			{"time", uint32(shape.Timesteps)},
			{"lat", uint32(shape.Height)},
			{"lon", uint32(shape.Width)},
		},
		globals: globals,
		vars:    vars,
	}
	// Header length depends only on the offset width, not the offset values.
	headerLen := int64(len(h.encode(false, nil)))
	offset64 := headerLen+dataSize > math.MaxInt32

	begins := make([]int64, len(vars))
	next := int64(len(h.encode(offset64, nil)))
	for i, v := range vars {
		begins[i] = next
		next += v.size()
	}

	bw := bufio.NewWriterSize(w, 1<<16)
	if _, err := bw.Write(h.encode(offset64, begins)); err != nil {
		return fmt.Errorf("write netcdf header: %w", err)
	}

	var scratch [8]byte
	for _, v := range vars {
		var written int64
		emit := func(x float64) error {
			if v.typ == ncDouble {
				binary.BigEndian.PutUint64(scratch[:], math.Float64bits(x))
				written += 8
				_, err := bw.Write(scratch[:8])
				return err
			}
			binary.BigEndian.PutUint32(scratch[:], math.Float32bits(float32(x)))
			written += 4
			_, err := bw.Write(scratch[:4])
			return err
		}
		if err := v.values(emit); err != nil {
			return fmt.Errorf("write netcdf variable %s: %w", v.name, err)
		}
		if padding := v.size() - written; padding > 0 {
			if _, err := bw.Write(make([]byte, padding)); err != nil {
				return fmt.Errorf("write netcdf variable %s: %w", v.name, err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush netcdf: %w", err)
	}
	return nil
}

// linspace yields n evenly spaced values from first to last inclusive.
func linspace(first, last float64, n int) func(func(float64) error) error {
	return func(emit func(float64) error) error {
		for i := 0; i < n; i++ {
			v := first
			if n > 1 {
				v = first + (last-first)*float64(i)/float64(n-1)
			}
			if err := emit(v); err != nil {
				return err
			}
		}
		return nil
	}
}

type ncDim struct {
	name   string
	length uint32
}

type ncHeader struct {
	dims    []ncDim
	globals []ncAttr
	vars    []ncVar
}

// encode renders the header. begins may be nil to measure the length.
func (h ncHeader) encode(offset64 bool, begins []int64) []byte {
	var b bytes.Buffer
	put := func(v uint32) { _ = binary.Write(&b, binary.BigEndian, v) }
	name := func(s string) {
		put(uint32(len(s)))
		b.WriteString(s)
		b.Write(make([]byte, pad4(int64(len(s)))-int64(len(s))))
	}
	attrs := func(list []ncAttr) {
		if len(list) == 0 {
			put(0)
			put(0)
			return
		}
		put(ncAttribute)
		put(uint32(len(list)))
		for _, a := range list {
			name(a.name)
			put(a.typ)
			if a.typ == ncChar {
				name(a.text)
				continue
			}
			put(1)
			_ = binary.Write(&b, binary.BigEndian, math.Float64bits(a.num))
		}
	}

	b.WriteString("CDF")
	if offset64 {
		b.WriteByte(2)
	} else {
		b.WriteByte(1)
	}
	put(0) // numrecs: no record dimension

	put(ncDimension)
	put(uint32(len(h.dims)))
	for _, d := range h.dims {
		name(d.name)
		put(d.length)
	}

	attrs(h.globals)

	put(ncVariable)
	put(uint32(len(h.vars)))
	for i, v := range h.vars {
		name(v.name)
		put(uint32(len(v.dims)))
		for _, id := range v.dims {
			put(id)
		}
		attrs(v.attrs)
		put(v.typ)
		vsize := v.size()
		if vsize > math.MaxUint32 {
			vsize = math.MaxUint32
		}
		put(uint32(vsize))
		var begin int64
		if begins != nil {
			begin = begins[i]
		}
		if offset64 {
			_ = binary.Write(&b, binary.BigEndian, uint64(begin))
		} else {
			put(uint32(begin))
		}
	}
	return b.Bytes()
}
