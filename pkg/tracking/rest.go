package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/logger"
	"github.com/telcovision/churn/pkg/models"
)

const (
	apiPrefix       = "/api/2.0/mlflow"
	artifactsPrefix = "/api/2.0/mlflow-artifacts/artifacts"
	// MLflow rejects log-batch requests with more than 100 params.
	maxParamsPerBatch = 100
	searchPageSize    = 1000
)

// RESTClient talks to an MLflow tracking server over its REST API.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	username   string
	password   string

	mu           sync.Mutex
	artifactURIs map[string]string
}

// RESTOption configures a RESTClient.
type RESTOption func(*RESTClient)

// WithBasicAuth sends basic auth credentials on every request.
func WithBasicAuth(username, password string) RESTOption {
	return func(c *RESTClient) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(hc *http.Client) RESTOption {
	return func(c *RESTClient) {
		c.httpClient = hc
	}
}

// NewRESTClient creates a client for the server at baseURL.
func NewRESTClient(baseURL string, opts ...RESTOption) (*RESTClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Host == "" {
		return nil, errors.Validationf("invalid tracking server URL %q", baseURL)
	}
	c := &RESTClient{
		baseURL: u.String(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		artifactURIs: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// apiError is the error body MLflow returns with non-2xx responses.
type apiError struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func (c *RESTClient) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

// call sends a JSON request to an MLflow endpoint and decodes the response into out.
func (c *RESTClient) call(ctx context.Context, method, endpoint string, query url.Values, in, out any) error {
	target := c.baseURL + apiPrefix + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, target, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, endpoint, out)
}

func (c *RESTClient) send(req *http.Request, endpoint string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.ExternalService(err, "failed to send request to "+endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.ExternalService(err, "failed to read response from "+endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(data, &apiErr)
		if resp.StatusCode == http.StatusNotFound || apiErr.ErrorCode == "RESOURCE_DOES_NOT_EXIST" {
			return errors.NotFoundf("%s: %s", endpoint, apiErr.Message)
		}
		msg := apiErr.Message
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		err := errors.Newf("tracking server error (status %d, %s): %s", resp.StatusCode, apiErr.ErrorCode, msg)
		if apiErr.ErrorCode == "RESOURCE_ALREADY_EXISTS" {
			return errors.Mark(err, errAlreadyExists)
		}
		return errors.ExternalService(err, endpoint)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.ExternalService(err, "failed to parse response from "+endpoint)
	}
	return nil
}

var errAlreadyExists = errors.New("resource already exists")

// Ping checks the server health endpoint.
func (c *RESTClient) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	return c.send(req, "/health", nil)
}

type restExperiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location"`
	LifecycleStage   string `json:"lifecycle_stage"`
	CreationTime     int64  `json:"creation_time"`
}

// GetExperimentByName looks the experiment up by name.
func (c *RESTClient) GetExperimentByName(ctx context.Context, name string) (*models.Experiment, error) {
	var resp struct {
		Experiment restExperiment `json:"experiment"`
	}
	q := url.Values{"experiment_name": {name}}
	if err := c.call(ctx, http.MethodGet, "/experiments/get-by-name", q, nil, &resp); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NotFoundf("experiment not found: %s", name)
		}
		return nil, err
	}
	e := resp.Experiment
	return &models.Experiment{
		ID:               e.ExperimentID,
		Name:             e.Name,
		ArtifactLocation: e.ArtifactLocation,
		LifecycleStage:   e.LifecycleStage,
		CreatedAt:        fromMillis(e.CreationTime),
	}, nil
}

// CreateExperiment creates an experiment and returns its id.
func (c *RESTClient) CreateExperiment(ctx context.Context, name string) (string, error) {
	var resp struct {
		ExperimentID string `json:"experiment_id"`
	}
	if err := c.call(ctx, http.MethodPost, "/experiments/create", nil, map[string]string{"name": name}, &resp); err != nil {
		return "", err
	}
	return resp.ExperimentID, nil
}

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type restMetric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

type restRun struct {
	Info struct {
		RunID        string `json:"run_id"`
		ExperimentID string `json:"experiment_id"`
		RunName      string `json:"run_name"`
		Status       string `json:"status"`
		StartTime    int64  `json:"start_time"`
		EndTime      int64  `json:"end_time"`
		ArtifactURI  string `json:"artifact_uri"`
	} `json:"info"`
	Data struct {
		Metrics []restMetric `json:"metrics"`
		Params  []keyValue   `json:"params"`
		Tags    []keyValue   `json:"tags"`
	} `json:"data"`
}

func (r *restRun) toModel() *models.Run {
	run := &models.Run{
		ID:           r.Info.RunID,
		ExperimentID: r.Info.ExperimentID,
		Name:         r.Info.RunName,
		Status:       models.RunStatus(r.Info.Status),
		ArtifactURI:  r.Info.ArtifactURI,
		StartTime:    fromMillis(r.Info.StartTime),
		Params:       make(map[string]string, len(r.Data.Params)),
		Metrics:      make(map[string]float64, len(r.Data.Metrics)),
		Tags:         make(map[string]string, len(r.Data.Tags)),
	}
	if r.Info.EndTime > 0 {
		end := fromMillis(r.Info.EndTime)
		run.EndTime = &end
	}
	for _, p := range r.Data.Params {
		run.Params[p.Key] = p.Value
	}
	for _, m := range r.Data.Metrics {
		run.Metrics[m.Key] = m.Value
	}
	for _, t := range r.Data.Tags {
		run.Tags[t.Key] = t.Value
	}
	return run
}

// CreateRun starts a RUNNING run in the experiment.
func (c *RESTClient) CreateRun(ctx context.Context, experimentID, runName string, tags map[string]string) (*models.Run, error) {
	req := struct {
		ExperimentID string     `json:"experiment_id"`
		RunName      string     `json:"run_name,omitempty"`
		StartTime    int64      `json:"start_time"`
		Tags         []keyValue `json:"tags,omitempty"`
	}{
		ExperimentID: experimentID,
		RunName:      runName,
		StartTime:    toMillis(time.Now()),
		Tags:         sortedPairs(tags),
	}
	var resp struct {
		Run restRun `json:"run"`
	}
	if err := c.call(ctx, http.MethodPost, "/runs/create", nil, req, &resp); err != nil {
		return nil, err
	}
	run := resp.Run.toModel()

	c.mu.Lock()
	c.artifactURIs[run.ID] = run.ArtifactURI
	c.mu.Unlock()
	return run, nil
}

// LogBatch logs params and metrics, splitting params into batches the
// server accepts.
func (c *RESTClient) LogBatch(ctx context.Context, runID string, params map[string]string, metrics map[string]float64) error {
	now := toMillis(time.Now())
	ms := make([]restMetric, 0, len(metrics))
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ms = append(ms, restMetric{Key: k, Value: metrics[k], Timestamp: now})
	}

	ps := sortedPairs(params)
	for first := true; first || len(ps) > 0; first = false {
		n := min(len(ps), maxParamsPerBatch)
		req := struct {
			RunID   string       `json:"run_id"`
			Params  []keyValue   `json:"params"`
			Metrics []restMetric `json:"metrics"`
		}{RunID: runID, Params: ps[:n], Metrics: ms}
		if err := c.call(ctx, http.MethodPost, "/runs/log-batch", nil, req, nil); err != nil {
			return err
		}
		ps = ps[n:]
		ms = nil
	}
	return nil
}

// UpdateRun sets the run status and, for terminal states, its end time.
func (c *RESTClient) UpdateRun(ctx context.Context, runID string, status models.RunStatus) error {
	req := struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		EndTime int64  `json:"end_time,omitempty"`
	}{RunID: runID, Status: string(status)}
	if status != models.RunStatusRunning {
		req.EndTime = toMillis(time.Now())
	}
	return c.call(ctx, http.MethodPost, "/runs/update", nil, req, nil)
}

// SearchRuns pages through every run of the experiments.
func (c *RESTClient) SearchRuns(ctx context.Context, experimentIDs []string) ([]*models.Run, error) {
	var runs []*models.Run
	token := ""
	for {
		req := struct {
			ExperimentIDs []string `json:"experiment_ids"`
			MaxResults    int      `json:"max_results"`
			OrderBy       []string `json:"order_by"`
			PageToken     string   `json:"page_token,omitempty"`
		}{
			ExperimentIDs: experimentIDs,
			MaxResults:    searchPageSize,
			OrderBy:       []string{"attributes.start_time DESC"},
			PageToken:     token,
		}
		var resp struct {
			Runs          []restRun `json:"runs"`
			NextPageToken string    `json:"next_page_token"`
		}
		if err := c.call(ctx, http.MethodPost, "/runs/search", nil, req, &resp); err != nil {
			return nil, err
		}
		for i := range resp.Runs {
			runs = append(runs, resp.Runs[i].toModel())
		}
		if resp.NextPageToken == "" {
			return runs, nil
		}
		token = resp.NextPageToken
	}
}

type restModelVersion struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	Source            string `json:"source"`
	RunID             string `json:"run_id"`
	Description       string `json:"description"`
	Status            string `json:"status"`
	CreationTimestamp int64  `json:"creation_timestamp"`
}

// CreateModelVersion registers source under name. An existing registered
// model is reused.
func (c *RESTClient) CreateModelVersion(ctx context.Context, name, source, runID string) (*models.ModelVersion, error) {
	err := c.call(ctx, http.MethodPost, "/registered-models/create", nil, map[string]string{"name": name}, nil)
	if err != nil && !errors.Is(err, errAlreadyExists) {
		return nil, err
	}

	var resp struct {
		ModelVersion restModelVersion `json:"model_version"`
	}
	req := map[string]string{"name": name, "source": source, "run_id": runID}
	if err := c.call(ctx, http.MethodPost, "/model-versions/create", nil, req, &resp); err != nil {
		return nil, err
	}
	mv := resp.ModelVersion
	return &models.ModelVersion{
		Name:        mv.Name,
		Version:     mv.Version,
		Source:      mv.Source,
		RunID:       mv.RunID,
		Description: mv.Description,
		Status:      mv.Status,
		CreatedAt:   fromMillis(mv.CreationTimestamp),
	}, nil
}

// UpdateModelVersion sets the description of a model version.
func (c *RESTClient) UpdateModelVersion(ctx context.Context, name, version, description string) error {
	req := map[string]string{"name": name, "version": version, "description": description}
	return c.call(ctx, http.MethodPatch, "/model-versions/update", nil, req, nil)
}

// LogArtifact uploads a file through the server's artifact proxy. Runs whose
// artifact store is not proxied by the server are rejected.
func (c *RESTClient) LogArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	root, err := c.artifactURI(ctx, runID)
	if err != nil {
		return err
	}
	const scheme = "mlflow-artifacts:"
	if !strings.HasPrefix(root, scheme) {
		return errors.WithHint(
			errors.ExternalService(errors.Newf("artifact URI %q is not served by the tracking server", root), "log artifact"),
			"start the server with --serve-artifacts",
		)
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(root, scheme), "//")
	if u, err := url.Parse(root); err == nil && u.Host != "" {
		rel = u.Path
	}
	dest := path.Join(strings.TrimPrefix(rel, "/"), artifactPath, filepath.Base(localPath))

	file, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open artifact %s", localPath)
	}
	defer file.Close()

	req, err := c.newRequest(ctx, http.MethodPut, c.baseURL+artifactsPrefix+"/"+escapePath(dest), file)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if err := c.send(req, "artifacts/"+dest, nil); err != nil {
		return err
	}
	logger.Named("tracking").Debugw("artifact uploaded", logger.FieldRunID, runID, logger.FieldPath, dest)
	return nil
}

func (c *RESTClient) artifactURI(ctx context.Context, runID string) (string, error) {
	c.mu.Lock()
	uri, ok := c.artifactURIs[runID]
	c.mu.Unlock()
	if ok && uri != "" {
		return uri, nil
	}

	var resp struct {
		Run restRun `json:"run"`
	}
	if err := c.call(ctx, http.MethodGet, "/runs/get", url.Values{"run_id": {runID}}, nil, &resp); err != nil {
		return "", err
	}
	uri = resp.Run.Info.ArtifactURI

	c.mu.Lock()
	c.artifactURIs[runID] = uri
	c.mu.Unlock()
	return uri, nil
}

// Close releases idle connections.
func (c *RESTClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func sortedPairs(m map[string]string) []keyValue {
	out := make([]keyValue, 0, len(m))
	for k, v := range m {
		out = append(out, keyValue{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// RunURI is the registry source for an artifact path of a run.
func RunURI(runID, artifactPath string) string {
	return fmt.Sprintf("runs:/%s/%s", runID, strings.Trim(artifactPath, "/"))
}
