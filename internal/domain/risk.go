package domain

import (
	"fmt"
	"math"
)

// Severity is the four-level flood severity class.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityModerate Severity = "MODERATE"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities from 0 (LOW) to 3 (CRITICAL). Unknown values rank -1.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityModerate:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is one of the four known classes.
func (s Severity) Valid() bool { return s.Rank() >= 0 }

// Alerting reports whether predictions of this class notify responders.
func (s Severity) Alerting() bool { return s.Rank() >= SeverityHigh.Rank() }

// RiskComponent is one weighted, saturating term of the risk score:
// Weight * clamp(value/Scale, 0, 1).
type RiskComponent struct {
	Weight float64 `yaml:"weight"`
	Scale  float64 `yaml:"scale"`
}

func (c RiskComponent) contribution(value float64) float64 {
	return c.Weight * clamp01(value/c.Scale)
}

// SeverityThresholds are lower bounds (inclusive) for each class above LOW.
type SeverityThresholds struct {
	Critical float64 `yaml:"critical"`
	High     float64 `yaml:"high"`
	Moderate float64 `yaml:"moderate"`
}

// ScoringConfig parameterizes ScoreRisk.
type ScoringConfig struct {
	Depth      RiskComponent      `yaml:"depth"`
	Area       RiskComponent      `yaml:"area"`
	Duration   RiskComponent      `yaml:"duration"`
	Thresholds SeverityThresholds `yaml:"thresholds"`

	// Confidence and UncertaintyStd describe the model, not the grid. They are
	// reported as-is until the model exports its own uncertainty estimate.
	Confidence     float64 `yaml:"confidence"`
	UncertaintyStd float64 `yaml:"uncertainty_std"`
}

// DefaultScoringConfig returns the operational weights:
// 0.4 depth (5 m), 0.3 area (200 km²), 0.3 duration (72 h).
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Depth:    RiskComponent{Weight: 0.4, Scale: 5.0},
		Area:     RiskComponent{Weight: 0.3, Scale: 200.0},
		Duration: RiskComponent{Weight: 0.3, Scale: 72.0},
		Thresholds: SeverityThresholds{
			Critical: 0.85,
			High:     0.6,
			Moderate: 0.3,
		},
		Confidence:     0.92,
		UncertaintyStd: 0.08,
	}
}

// Validate keeps the score inside [0, 1] and the thresholds ordered.
func (c ScoringConfig) Validate() error {
	components := []struct {
		name string
		RiskComponent
	}{
		{"depth", c.Depth},
		{"area", c.Area},
		{"duration", c.Duration},
	}
	var sum float64
	for _, rc := range components {
		name := rc.name
		if rc.Weight < 0 {
			return fmt.Errorf("%w: %s weight %v must be >= 0", ErrPrecondition, name, rc.Weight)
		}
		if !(rc.Scale > 0) {
			return fmt.Errorf("%w: %s scale %v must be > 0", ErrPrecondition, name, rc.Scale)
		}
		sum += rc.Weight
	}
	// Small tolerance: 0.4+0.3+0.3 is not exactly 1 in binary floating point.
	if sum > 1+1e-9 {
		return fmt.Errorf("%w: risk weights sum to %v, must be <= 1", ErrPrecondition, sum)
	}
	t := c.Thresholds
	if !(0 < t.Moderate && t.Moderate <= t.High && t.High <= t.Critical && t.Critical <= 1) {
		return fmt.Errorf("%w: severity thresholds must satisfy 0 < moderate <= high <= critical <= 1, got %+v",
			ErrPrecondition, t)
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v must be in [0,1]", ErrPrecondition, c.Confidence)
	}
	if c.UncertaintyStd < 0 {
		return fmt.Errorf("%w: uncertainty std %v must be >= 0", ErrPrecondition, c.UncertaintyStd)
	}
	return nil
}

// RiskAssessment is the risk section of the Prediction Record.
type RiskAssessment struct {
	RiskScore      float64  `json:"risk_score" validate:"gte=0,lte=1"`
	SeverityClass  Severity `json:"severity_class" validate:"required,oneof=LOW MODERATE HIGH CRITICAL"`
	Confidence     float64  `json:"confidence" validate:"gte=0,lte=1"`
	UncertaintyStd *float64 `json:"uncertainty_std,omitempty" validate:"omitempty,gte=0"`

	BuildingsAtRisk     *int `json:"buildings_at_risk,omitempty" validate:"omitempty,gte=0"`
	RoadSegmentsFlooded *int `json:"road_segments_flooded,omitempty" validate:"omitempty,gte=0"`
	PopulationExposed   *int `json:"population_exposed,omitempty" validate:"omitempty,gte=0"`
}

// ScoreRisk maps metrics to a risk score and severity class. It is pure and
// total; cfg is assumed valid.
func ScoreRisk(m GridMetrics, cfg ScoringConfig) RiskAssessment {
	score := cfg.Depth.contribution(m.PeakDepthMax) +
		cfg.Area.contribution(m.AffectedAreaKm2) +
		cfg.Duration.contribution(float64(m.FloodDurationHours))
	// Saturated terms can sum to a hair above 1 in floating point.
	score = clamp01(score)

	uncertainty := cfg.UncertaintyStd
	return RiskAssessment{
		RiskScore:      score,
		SeverityClass:  ClassifySeverity(score, cfg.Thresholds),
		Confidence:     cfg.Confidence,
		UncertaintyStd: &uncertainty,
	}
}

// ClassifySeverity evaluates thresholds from CRITICAL down; the first lower
// bound the score reaches wins.
func ClassifySeverity(score float64, t SeverityThresholds) Severity {
	switch {
	case score >= t.Critical:
		return SeverityCritical
	case score >= t.High:
		return SeverityHigh
	case score >= t.Moderate:
		return SeverityModerate
	default:
		return SeverityLow
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
