// Package registry promotes tracked runs into the model registry.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/logger"
	"github.com/telcovision/churn/pkg/models"
	"github.com/telcovision/churn/pkg/tracking"
)

// Defaults used by the register command.
const (
	DefaultMetric       = models.MetricROCAUC
	DefaultArtifactPath = "model"
)

// Direction says whether higher or lower metric values are better.
type Direction string

const (
	Descending Direction = "DESC"
	Ascending  Direction = "ASC"
)

// Status is the outcome kind of a promotion.
type Status string

const (
	StatusRegistered Status = "registered"
	StatusNotFound   Status = "not_found"
)

// Outcome describes a promotion attempt.
type Outcome struct {
	Status     Status               `json:"status"`
	Experiment string               `json:"experiment,omitempty"`
	Metric     string               `json:"metric,omitempty"`
	Value      *float64             `json:"value,omitempty"`
	RunID      string               `json:"run_id,omitempty"`
	Params     map[string]string    `json:"params,omitempty"`
	Version    *models.ModelVersion `json:"version,omitempty"`
	// Reason explains a not-found outcome.
	Reason string `json:"reason,omitempty"`
}

// Registered reports whether a model version was created.
func (o *Outcome) Registered() bool {
	return o.Status == StatusRegistered
}

// Promoter registers runs through a tracking client.
type Promoter struct {
	Client       tracking.Client
	ArtifactPath string
}

// NewPromoter returns a promoter registering the default artifact path.
func NewPromoter(c tracking.Client) *Promoter {
	return &Promoter{Client: c, ArtifactPath: DefaultArtifactPath}
}

// MetricName strips an optional "metrics." prefix.
func MetricName(metric string) string {
	return strings.TrimPrefix(strings.TrimSpace(metric), "metrics.")
}

// BestRun picks the run with the best value of metric. Runs without the
// metric are ignored. Ties keep the earlier run in the input order.
func BestRun(runs []*models.Run, metric string, dir Direction) (*models.Run, float64, bool) {
	var best *models.Run
	var bestValue float64
	for _, r := range runs {
		v, ok := r.Metric(metric)
		if !ok {
			continue
		}
		if best == nil || (dir == Ascending && v < bestValue) || (dir != Ascending && v > bestValue) {
			best, bestValue = r, v
		}
	}
	return best, bestValue, best != nil
}

// PromoteBest registers the best run of an experiment under modelName. A
// missing experiment or an experiment without ranked runs yields a
// StatusNotFound outcome and a nil error; nothing is registered.
func (p *Promoter) PromoteBest(ctx context.Context, experiment, metric string, dir Direction, modelName string) (*Outcome, error) {
	if err := validateName(modelName); err != nil {
		return nil, err
	}
	metric = MetricName(metric)
	if metric == "" {
		metric = DefaultMetric
	}
	log := logger.Named("registry").With(logger.FieldExperiment, experiment, logger.FieldMetric, metric)
	out := &Outcome{Status: StatusNotFound, Experiment: experiment, Metric: metric}

	exp, err := p.Client.GetExperimentByName(ctx, experiment)
	if errors.IsNotFound(err) {
		out.Reason = fmt.Sprintf("experiment %q not found", experiment)
		log.Warnw("experiment not found")
		return out, nil
	}
	if err != nil {
		return nil, errors.ExternalService(err, "look up experiment")
	}

	runs, err := p.Client.SearchRuns(ctx, []string{exp.ID})
	if err != nil {
		return nil, errors.ExternalService(err, "search runs")
	}
	best, value, ok := BestRun(runs, metric, dir)
	if !ok {
		out.Reason = fmt.Sprintf("no runs with metric %s in experiment %q", metric, experiment)
		log.Warnw("no ranked runs", "runs", len(runs))
		return out, nil
	}
	log.Infow("best run selected", logger.FieldRunID, best.ID, "value", value, "runs", len(runs))

	out.RunID = best.ID
	out.Value = models.Float(value)
	out.Params = best.Params
	if err := p.register(ctx, out, modelName); err != nil {
		return nil, err
	}
	return out, nil
}

// PromoteRun registers an explicit run under modelName.
func (p *Promoter) PromoteRun(ctx context.Context, runID, modelName string) (*Outcome, error) {
	if err := validateName(modelName); err != nil {
		return nil, err
	}
	if strings.TrimSpace(runID) == "" {
		return nil, errors.Validationf("run id is required")
	}
	out := &Outcome{RunID: runID}
	if err := p.register(ctx, out, modelName); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Promoter) register(ctx context.Context, out *Outcome, modelName string) error {
	artifactPath := p.ArtifactPath
	if artifactPath == "" {
		artifactPath = DefaultArtifactPath
	}
	source := tracking.RunURI(out.RunID, artifactPath)

	mv, err := p.Client.CreateModelVersion(ctx, modelName, source, out.RunID)
	if err != nil {
		return errors.ExternalService(err, "register model")
	}
	mv.Description = fmt.Sprintf("Best model based on run %s", out.RunID)
	if err := p.Client.UpdateModelVersion(ctx, mv.Name, mv.Version, mv.Description); err != nil {
		return errors.ExternalService(err, "describe model version")
	}

	out.Status = StatusRegistered
	out.Version = mv
	logger.Named("registry").Infow("model registered",
		logger.FieldModel, mv.Name,
		"version", mv.Version,
		"source", source,
		logger.FieldRunID, out.RunID,
	)
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.Validationf("model name is required")
	}
	return nil
}
