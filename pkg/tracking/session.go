package tracking

import (
	"context"

	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/logger"
	"github.com/telcovision/churn/pkg/models"
)

// Session is one active run.
type Session struct {
	client Client
	run    *models.Run
	ended  bool
}

// StartRun creates the experiment when missing and starts a run in it.
func StartRun(ctx context.Context, c Client, experiment, runName string, tags map[string]string) (*Session, error) {
	expID, err := GetOrCreateExperiment(ctx, c, experiment)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve experiment %s", experiment)
	}
	run, err := c.CreateRun(ctx, expID, runName, tags)
	if err != nil {
		return nil, errors.Wrap(err, "create run")
	}
	logger.Named("tracking").Infow("run started",
		logger.FieldExperiment, experiment,
		logger.FieldRunID, run.ID,
	)
	return &Session{client: c, run: run}, nil
}

// Run returns the run record as created.
func (s *Session) Run() *models.Run {
	return s.run
}

// RunID returns the id of the run.
func (s *Session) RunID() string {
	return s.run.ID
}

// Client returns the backend the run lives on.
func (s *Session) Client() Client {
	return s.client
}

// LogParams records run parameters.
func (s *Session) LogParams(ctx context.Context, params map[string]string) error {
	if len(params) == 0 {
		return nil
	}
	return s.client.LogBatch(ctx, s.run.ID, params, nil)
}

// LogMetrics records every metric that has a value. A nil ROC-AUC is not logged.
func (s *Session) LogMetrics(ctx context.Context, m models.Metrics) error {
	return s.client.LogBatch(ctx, s.run.ID, nil, m.Map())
}

// LogArtifact uploads a local file under artifactPath.
func (s *Session) LogArtifact(ctx context.Context, localPath, artifactPath string) error {
	return s.client.LogArtifact(ctx, s.run.ID, localPath, artifactPath)
}

// End marks the run FINISHED, or FAILED when runErr is non-nil. Calling End
// more than once is a no-op.
func (s *Session) End(ctx context.Context, runErr error) error {
	if s.ended {
		return nil
	}
	s.ended = true
	status := models.RunStatusFinished
	if runErr != nil {
		status = models.RunStatusFailed
	}
	if err := s.client.UpdateRun(ctx, s.run.ID, status); err != nil {
		return errors.Wrapf(err, "end run %s", s.run.ID)
	}
	return nil
}
