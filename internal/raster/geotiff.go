package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
)

// TIFF field types.
const (
	tiffASCII  = 2
	tiffShort  = 3
	tiffLong   = 4
	tiffDouble = 12
)

// Baseline and GeoTIFF tag numbers.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagDescription     = 270
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339

	TagModelPixelScale = 33550
	TagModelTiepoint   = 33922
	TagGeoKeyDirectory = 34735
)

// GeoKey ids and values for a geographic WGS 84 raster.
const (
	geoKeyModelType         = 1024
	geoKeyRasterType        = 1025
	geoKeyGeographicType    = 2048
	geoKeyGeogAngularUnits  = 2054
	modelTypeGeographic     = 2
	rasterPixelIsArea       = 1
	epsgWGS84               = 4326
	angularUnitDegree       = 9102
	sampleFormatIEEEFloat   = 3
	photometricBlackIsZero  = 1
	compressionNone         = 1
	planarConfigContiguous  = 1
	float32BitsPerSample    = 32
	geoKeyDirectoryRevision = 1
)

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	// data is the little-endian encoded value. Values of four bytes or less
	// are stored inline; longer ones are written after the IFD.
	data []byte
}

func shortEntry(tag uint16, vals ...uint16) ifdEntry {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return ifdEntry{tag: tag, typ: tiffShort, count: uint32(len(vals)), data: b}
}

func longEntry(tag uint16, v uint32) ifdEntry {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return ifdEntry{tag: tag, typ: tiffLong, count: 1, data: b}
}

func doubleEntry(tag uint16, vals ...float64) ifdEntry {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return ifdEntry{tag: tag, typ: tiffDouble, count: uint32(len(vals)), data: b}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: tiffASCII, count: uint32(len(b)), data: b}
}

// EncodeGeoTIFF writes g as a single-band, uncompressed float32 GeoTIFF
// georeferenced to bounds in EPSG:4326. description becomes the
// ImageDescription tag, e.g. "depth at T+12h".
func EncodeGeoTIFF(w io.Writer, g Grid, bounds domain.Bounds, description string) error {
	if err := g.validate(); err != nil {
		return err
	}
	if err := bounds.Validate(); err != nil {
		return err
	}

	stripBytes := uint32(g.Width * g.Height * 4)
	pixelW := (bounds.East - bounds.West) / float64(g.Width)
	pixelH := (bounds.North - bounds.South) / float64(g.Height)

	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(g.Width)),
		longEntry(tagImageLength, uint32(g.Height)),
		shortEntry(tagBitsPerSample, float32BitsPerSample),
		shortEntry(tagCompression, compressionNone),
		shortEntry(tagPhotometric, photometricBlackIsZero),
		asciiEntry(tagDescription, description),
		longEntry(tagStripOffsets, 0), // patched below
		shortEntry(tagSamplesPerPixel, 1),
		longEntry(tagRowsPerStrip, uint32(g.Height)),
		longEntry(tagStripByteCounts, stripBytes),
		shortEntry(tagPlanarConfig, planarConfigContiguous),
		shortEntry(tagSampleFormat, sampleFormatIEEEFloat),
		doubleEntry(TagModelPixelScale, pixelW, pixelH, 0),
		// Raster (0,0) is the top-left corner, i.e. (west, north).
		doubleEntry(TagModelTiepoint, 0, 0, 0, bounds.West, bounds.North, 0),
		shortEntry(TagGeoKeyDirectory,
			geoKeyDirectoryRevision, 1, 0, 4,
			geoKeyModelType, 0, 1, modelTypeGeographic,
			geoKeyRasterType, 0, 1, rasterPixelIsArea,
			geoKeyGeographicType, 0, 1, epsgWGS84,
			geoKeyGeogAngularUnits, 0, 1, angularUnitDegree,
		),
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	const headerSize = 8
	ifdSize := uint32(2 + 12*len(entries) + 4)
	next := headerSize + ifdSize

	// Lay out out-of-line values on word boundaries, then the pixel strip.
	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			offsets[i] = next
			next += uint32(len(e.data))
			next += next & 1
		}
	}
	stripOffset := next
	for i := range entries {
		if entries[i].tag == tagStripOffsets {
			binary.LittleEndian.PutUint32(entries[i].data, stripOffset)
		}
	}

	var buf bytes.Buffer
	buf.Grow(int(stripOffset))
	buf.WriteString("II")
	_ = binary.Write(&buf, binary.LittleEndian, uint16(42))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(headerSize))

	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(entries)))
	for i, e := range entries {
		_ = binary.Write(&buf, binary.LittleEndian, e.tag)
		_ = binary.Write(&buf, binary.LittleEndian, e.typ)
		_ = binary.Write(&buf, binary.LittleEndian, e.count)
		if len(e.data) > 4 {
			_ = binary.Write(&buf, binary.LittleEndian, offsets[i])
			continue
		}
		var inline [4]byte
		copy(inline[:], e.data)
		buf.Write(inline[:])
	}
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))

	for _, e := range entries {
		if len(e.data) > 4 {
			buf.Write(e.data)
			if buf.Len()&1 == 1 {
				buf.WriteByte(0)
			}
		}
	}
	if uint32(buf.Len()) != stripOffset {
		return fmt.Errorf("geotiff layout: header is %d bytes, expected %d", buf.Len(), stripOffset)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write geotiff header: %w", err)
	}

	row := make([]byte, 4*g.Width)
	for y := 0; y < g.Height; y++ {
		for x, v := range g.Data[y*g.Width : (y+1)*g.Width] {
			binary.LittleEndian.PutUint32(row[4*x:], math.Float32bits(float32(v)))
		}
		if _, err := w.Write(row); err != nil {
			return fmt.Errorf("write geotiff row %d: %w", y, err)
		}
	}
	return nil
}
