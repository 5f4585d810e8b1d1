// Package tracking records training runs, their parameters, metrics and
// artifacts, and registers model versions. Runs go either to an MLflow
// tracking server or to a local SQLite store.
package tracking

import (
	"context"
	"net/url"
	"strings"

	"github.com/telcovision/churn/pkg/config"
	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
)

const (
	// DefaultLocalRoot is where the local store lives when no tracking URI is set.
	DefaultLocalRoot = "mlruns"
	// DatabaseFile is the SQLite file inside a local store root.
	DatabaseFile = "tracking.db"
)

// Client is the tracking backend used by training, experiments and the registry.
type Client interface {
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// GetExperimentByName returns an ErrNotFound error when no experiment has the name.
	GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error)
	CreateExperiment(ctx context.Context, name string) (string, error)

	CreateRun(ctx context.Context, experimentID, runName string, tags map[string]string) (*models.Run, error)
	LogBatch(ctx context.Context, runID string, params map[string]string, metrics map[string]float64) error
	// LogArtifact uploads the file at localPath under artifactPath of the run.
	LogArtifact(ctx context.Context, runID, localPath, artifactPath string) error
	UpdateRun(ctx context.Context, runID string, status models.RunStatus) error
	// SearchRuns returns every run of the experiments, newest first.
	SearchRuns(ctx context.Context, experimentIDs []string) ([]*models.Run, error)

	// CreateModelVersion registers source as a new version of name, creating
	// the registered model when needed.
	CreateModelVersion(ctx context.Context, name, source, runID string) (*models.ModelVersion, error)
	UpdateModelVersion(ctx context.Context, name, version, description string) error

	Close() error
}

// Open builds the client selected by the tracking URI: an http(s) URI is an
// MLflow server, anything else a local store directory.
func Open(s config.TrackingSettings) (Client, error) {
	if s.Remote() {
		opts := []RESTOption{}
		if s.HasCredentials() {
			opts = append(opts, WithBasicAuth(s.Username, s.Password))
		}
		return NewRESTClient(s.URI, opts...)
	}
	root, err := LocalRoot(s.URI)
	if err != nil {
		return nil, err
	}
	return NewLocalStore(root)
}

// Connect opens the client and pings it. Callers treat any error as
// "tracking unavailable".
func Connect(ctx context.Context, s config.TrackingSettings) (Client, error) {
	c, err := Open(s)
	if err != nil {
		return nil, err
	}
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, errors.ExternalService(err, "tracking backend unreachable")
	}
	return c, nil
}

// LocalRoot maps a non-http tracking URI onto a local directory.
func LocalRoot(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return DefaultLocalRoot, nil
	}
	if !strings.Contains(uri, ":") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", errors.Validationf("invalid tracking URI %q: %v", uri, err)
	}
	if u.Scheme != "file" {
		return "", errors.WithHint(
			errors.Validationf("unsupported tracking URI scheme %q", u.Scheme),
			"use an http(s) MLflow server URI, a file: URI or a directory path",
		)
	}
	if u.Opaque != "" {
		return u.Opaque, nil
	}
	return u.Path, nil
}

// GetOrCreateExperiment returns the id of the named experiment, creating it
// when it does not exist.
func GetOrCreateExperiment(ctx context.Context, c Client, name string) (string, error) {
	exp, err := c.GetExperimentByName(ctx, name)
	if err == nil {
		return exp.ID, nil
	}
	if !errors.IsNotFound(err) {
		return "", err
	}
	return c.CreateExperiment(ctx, name)
}
