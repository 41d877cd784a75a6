package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Status of a run or one of its steps.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
)

// ReportFile is the report's file name inside a run directory.
const ReportFile = "pipeline_report.json"

// ErrRunNotFound is returned for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// StageReport records one step.
type StageReport struct {
	Name       string  `json:"name"`
	Status     Status  `json:"status"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// RunReport is the persisted record of one Process call.
type RunReport struct {
	RunID        string        `json:"run_id"`
	PredictionID string        `json:"prediction_id"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      *time.Time    `json:"end_time,omitempty"`
	Status       Status        `json:"status"`
	Stages       []StageReport `json:"stages"`
	StoredID     int64         `json:"stored_id,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// RunID formats a run identifier, e.g. "run_2026_02_14_060000_AUTO".
func RunID(now time.Time, suffix string) string {
	return fmt.Sprintf("run_%s_%s", now.UTC().Format("2006_01_02_150405"), suffix)
}

func newRunReport(runID, predictionID string, started time.Time) *RunReport {
	return &RunReport{
		RunID:        runID,
		PredictionID: predictionID,
		StartTime:    started,
		Status:       StatusInProgress,
		Stages:       []StageReport{},
	}
}

func (r *RunReport) addStage(name string, status Status, elapsed time.Duration, err error) {
	s := StageReport{
		Name:       name,
		Status:     status,
		DurationMS: float64(elapsed.Microseconds()) / 1000,
	}
	if err != nil {
		s.Error = err.Error()
	}
	r.Stages = append(r.Stages, s)
}

func (r *RunReport) finish(at time.Time, err error) {
	r.EndTime = &at
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = StatusCompleted
}

// Duration is the wall time of a finished run, zero while in progress.
func (r RunReport) Duration() time.Duration {
	if r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// RunStore keeps run reports at {dir}/{run_id}/pipeline_report.json.
type RunStore struct {
	dir string
}

// NewRunStore stores reports under dataDir/runs.
func NewRunStore(dataDir string) *RunStore {
	return &RunStore{dir: filepath.Join(dataDir, "runs")}
}

// Dir is the directory holding one subdirectory per run.
func (s *RunStore) Dir() string { return s.dir }

// Save writes r atomically, replacing any earlier version.
func (s *RunStore) Save(r RunReport) error {
	if !validRunID(r.RunID) {
		return fmt.Errorf("save run report: invalid run id %q", r.RunID)
	}
	runDir := filepath.Join(s.dir, r.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run report: %w", err)
	}
	tmp, err := os.CreateTemp(runDir, ReportFile+".*")
	if err != nil {
		return fmt.Errorf("write run report: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write run report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write run report: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(runDir, ReportFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write run report: %w", err)
	}
	return nil
}

// Get reads the report of runID.
func (s *RunStore) Get(runID string) (RunReport, error) {
	if !validRunID(runID) {
		return RunReport{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, runID, ReportFile))
	if errors.Is(err, fs.ErrNotExist) {
		return RunReport{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return RunReport{}, fmt.Errorf("read run report %s: %w", runID, err)
	}
	var r RunReport
	if err := json.Unmarshal(data, &r); err != nil {
		return RunReport{}, fmt.Errorf("decode run report %s: %w", runID, err)
	}
	return r, nil
}

// List returns every readable report, newest run first. Directories without
// a report are ignored.
func (s *RunStore) List() ([]RunReport, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	var reports []RunReport
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "run_") {
			continue
		}
		r, err := s.Get(e.Name())
		if errors.Is(err, ErrRunNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	sort.SliceStable(reports, func(i, j int) bool {
		if !reports[i].StartTime.Equal(reports[j].StartTime) {
			return reports[i].StartTime.After(reports[j].StartTime)
		}
		return reports[i].RunID > reports[j].RunID
	})
	return reports, nil
}

func validRunID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
