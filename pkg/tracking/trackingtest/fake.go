// Package trackingtest provides an in-memory tracking client for tests.
package trackingtest

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
)

// Fake is an in-memory tracking client. Set the Err fields to make the
// matching call fail.
type Fake struct {
	mu sync.Mutex

	Experiments map[string]*models.Experiment
	Runs        map[string]*models.Run
	Artifacts   map[string][]string
	Versions    []*models.ModelVersion

	PingErr          error
	CreateRunErr     error
	LogArtifactErr   error
	CreateVersionErr error

	// Calls counts method invocations by name.
	Calls map[string]int

	nextID int
	clock  time.Time
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		Experiments: make(map[string]*models.Experiment),
		Runs:        make(map[string]*models.Run),
		Artifacts:   make(map[string][]string),
		Calls:       make(map[string]int),
		clock:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *Fake) record(name string) {
	f.Calls[name]++
}

func (f *Fake) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

// tick returns a strictly increasing timestamp so runs sort deterministically.
func (f *Fake) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Ping")
	return f.PingErr
}

func (f *Fake) GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetExperimentByName")
	for _, e := range f.Experiments {
		if e.Name == name {
			cp := *e
			return &cp, nil
		}
	}
	return nil, errors.NotFoundf("experiment not found: %s", name)
}

func (f *Fake) CreateExperiment(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateExperiment")
	id := f.id("exp-")
	f.Experiments[id] = &models.Experiment{ID: id, Name: name, CreatedAt: f.tick()}
	return id, nil
}

func (f *Fake) CreateRun(ctx context.Context, experimentID, runName string, tags map[string]string) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateRun")
	if f.CreateRunErr != nil {
		return nil, f.CreateRunErr
	}
	if _, ok := f.Experiments[experimentID]; !ok {
		return nil, errors.NotFoundf("experiment not found: %s", experimentID)
	}
	r := &models.Run{
		ID:           f.id("run-"),
		ExperimentID: experimentID,
		Name:         runName,
		Status:       models.RunStatusRunning,
		Params:       map[string]string{},
		Metrics:      map[string]float64{},
		Tags:         map[string]string{},
		StartTime:    f.tick(),
	}
	for k, v := range tags {
		r.Tags[k] = v
	}
	f.Runs[r.ID] = r
	cp := *r
	return &cp, nil
}

func (f *Fake) LogBatch(ctx context.Context, runID string, params map[string]string, metrics map[string]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LogBatch")
	r, ok := f.Runs[runID]
	if !ok {
		return errors.NotFoundf("run not found: %s", runID)
	}
	for k, v := range params {
		r.Params[k] = v
	}
	for k, v := range metrics {
		r.Metrics[k] = v
	}
	return nil
}

func (f *Fake) LogArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LogArtifact")
	if f.LogArtifactErr != nil {
		return f.LogArtifactErr
	}
	if _, ok := f.Runs[runID]; !ok {
		return errors.NotFoundf("run not found: %s", runID)
	}
	f.Artifacts[runID] = append(f.Artifacts[runID], path.Join(artifactPath, path.Base(localPath)))
	return nil
}

func (f *Fake) UpdateRun(ctx context.Context, runID string, status models.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateRun")
	r, ok := f.Runs[runID]
	if !ok {
		return errors.NotFoundf("run not found: %s", runID)
	}
	r.Status = status
	end := f.tick()
	r.EndTime = &end
	return nil
}

func (f *Fake) SearchRuns(ctx context.Context, experimentIDs []string) ([]*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SearchRuns")
	want := make(map[string]bool, len(experimentIDs))
	for _, id := range experimentIDs {
		want[id] = true
	}
	var out []*models.Run
	for _, r := range f.Runs {
		if want[r.ExperimentID] {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (f *Fake) CreateModelVersion(ctx context.Context, name, source, runID string) (*models.ModelVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateModelVersion")
	if f.CreateVersionErr != nil {
		return nil, f.CreateVersionErr
	}
	n := 1
	for _, v := range f.Versions {
		if v.Name == name {
			n++
		}
	}
	mv := &models.ModelVersion{Name: name, Version: strconv.Itoa(n), Source: source, RunID: runID, Status: "READY", CreatedAt: f.tick()}
	f.Versions = append(f.Versions, mv)
	cp := *mv
	return &cp, nil
}

func (f *Fake) UpdateModelVersion(ctx context.Context, name, version, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateModelVersion")
	for _, v := range f.Versions {
		if v.Name == name && v.Version == version {
			v.Description = description
			return nil
		}
	}
	return errors.NotFoundf("model version not found: %s/%s", name, version)
}

func (f *Fake) Close() error {
	return nil
}

// AddRun seeds a finished run with metrics, creating the experiment when needed.
func (f *Fake) AddRun(experiment string, metrics map[string]float64) *models.Run {
	f.mu.Lock()
	var expID string
	for id, e := range f.Experiments {
		if e.Name == experiment {
			expID = id
		}
	}
	f.mu.Unlock()
	if expID == "" {
		expID, _ = f.CreateExperiment(context.Background(), experiment)
	}
	r, _ := f.CreateRun(context.Background(), expID, "", nil)
	_ = f.LogBatch(context.Background(), r.ID, nil, metrics)
	_ = f.UpdateRun(context.Background(), r.ID, models.RunStatusFinished)

	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.Runs[r.ID]
	return &cp
}

// CallCount returns how often the named method was called.
func (f *Fake) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[name]
}
