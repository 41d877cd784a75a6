package domain

// TimestepSelection picks the forecast hours rendered as rasters: every hour
// up to HourlyUntil, then every Step hours.
type TimestepSelection struct {
	HourlyUntil int `yaml:"hourly_until"`
	Step        int `yaml:"step"`
}

// DefaultTimestepSelection renders the first day hourly, then every 6 hours.
func DefaultTimestepSelection() TimestepSelection {
	return TimestepSelection{HourlyUntil: 24, Step: 6}
}

// Select applies the selection to a forecast of total hours.
func (s TimestepSelection) Select(total int) []int {
	return SelectTimesteps(total, s.HourlyUntil, s.Step)
}

// SelectTimesteps picks the forecast hours that get rasters and previews:
// every hour below hourlyUntil, then every step hours, clipped to total.
// A non-positive step stops selection after the hourly window.
func SelectTimesteps(total, hourlyUntil, step int) []int {
	if total <= 0 {
		return nil
	}
	var out []int
	for t := 0; t < total && t < hourlyUntil; t++ {
		out = append(out, t)
	}
	if step <= 0 {
		return out
	}
	start := max(hourlyUntil, 0)
	for t := start; t < total; t += step {
		out = append(out, t)
	}
	return out
}
