package domain

// FeatureCollection is a minimal GeoJSON (RFC 7946) feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a GeoJSON feature with free-form properties.
type Feature struct {
	Type       string         `json:"type"`
	ID         string         `json:"id,omitempty"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// Geometry holds Point coordinates ([lon, lat]) or Polygon rings.
type Geometry struct {
	Type        string `json:"type"`
	Coordinates any    `json:"coordinates"`
}

// GeoJSON exports the prediction as two features: the location center as a
// Point carrying the risk summary, and the forecast extent as a Polygon.
func (p Prediction) GeoJSON() FeatureCollection {
	c := p.Location.Center
	b := p.Location.Bounds
	m := p.AggregatedMetrics
	r := p.RiskAssessment

	center := Feature{
		Type: "Feature",
		ID:   p.PredictionID,
		Geometry: Geometry{
			Type:        "Point",
			Coordinates: []float64{c.Lon, c.Lat},
		},
		Properties: map[string]any{
			"prediction_id":        p.PredictionID,
			"basin":                p.Location.Basin,
			"region":               p.Location.Region,
			"forecast_cycle":       p.ForecastCycle,
			"inference_timestamp":  p.InferenceTimestamp,
			"severity_class":       r.SeverityClass,
			"risk_score":           r.RiskScore,
			"confidence":           r.Confidence,
			"peak_timestamp":       m.PeakTimestamp,
			"peak_depth_max":       m.PeakDepthMax,
			"affected_area_km2":    m.AffectedAreaKm2,
			"flood_duration_hours": m.FloodDurationHours,
		},
	}

	// Exterior ring, counterclockwise, closed.
	ring := [][]float64{
		{b.West, b.South},
		{b.East, b.South},
		{b.East, b.North},
		{b.West, b.North},
		{b.West, b.South},
	}
	extent := Feature{
		Type: "Feature",
		ID:   p.PredictionID + "_extent",
		Geometry: Geometry{
			Type:        "Polygon",
			Coordinates: [][][]float64{ring},
		},
		Properties: map[string]any{
			"prediction_id":     p.PredictionID,
			"spatial_reference": p.Location.SpatialReference,
		},
	}

	return FeatureCollection{Type: "FeatureCollection", Features: []Feature{center, extent}}
}
