package tracking

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telcovision/churn/pkg/errors"
	"github.com/telcovision/churn/pkg/models"
)

// mlflowServer is a minimal MLflow tracking server backed by maps.
type mlflowServer struct {
	mu          sync.Mutex
	experiments map[string]string
	params      map[string]string
	metrics     map[string]float64
	status      string
	uploads     map[string]string
	versions    int
	description string
	batches     int
	auth        string
}

func newMLflowServer(t *testing.T) (*mlflowServer, *httptest.Server) {
	s := &mlflowServer{
		experiments: map[string]string{},
		params:      map[string]string{},
		metrics:     map[string]float64{},
		uploads:     map[string]string{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.auth = r.Header.Get("Authorization")

		var body map[string]any
		if r.Body != nil && r.Header.Get("Content-Type") == "application/json" {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		}
		reply := func(v any) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(v)
		}

		switch {
		case r.URL.Path == "/health":
			_, _ = io.WriteString(w, "OK")
		case r.URL.Path == "/api/2.0/mlflow/experiments/get-by-name":
			id, ok := s.experiments[r.URL.Query().Get("experiment_name")]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				reply(apiError{ErrorCode: "RESOURCE_DOES_NOT_EXIST", Message: "no such experiment"})
				return
			}
			reply(map[string]any{"experiment": map[string]any{"experiment_id": id, "name": r.URL.Query().Get("experiment_name")}})
		case r.URL.Path == "/api/2.0/mlflow/experiments/create":
			id := "7"
			s.experiments[body["name"].(string)] = id
			reply(map[string]string{"experiment_id": id})
		case r.URL.Path == "/api/2.0/mlflow/runs/create":
			reply(map[string]any{"run": map[string]any{"info": map[string]any{
				"run_id":        "abc",
				"experiment_id": body["experiment_id"],
				"status":        "RUNNING",
				"artifact_uri":  "mlflow-artifacts:/7/abc/artifacts",
			}}})
		case r.URL.Path == "/api/2.0/mlflow/runs/log-batch":
			s.batches++
			for _, p := range body["params"].([]any) {
				kv := p.(map[string]any)
				s.params[kv["key"].(string)] = kv["value"].(string)
			}
			if ms, ok := body["metrics"].([]any); ok {
				for _, m := range ms {
					kv := m.(map[string]any)
					s.metrics[kv["key"].(string)] = kv["value"].(float64)
				}
			}
			reply(map[string]any{})
		case r.URL.Path == "/api/2.0/mlflow/runs/update":
			s.status = body["status"].(string)
			reply(map[string]any{})
		case r.URL.Path == "/api/2.0/mlflow/runs/search":
			if body["page_token"] == nil {
				reply(map[string]any{
					"runs":            []any{map[string]any{"info": map[string]any{"run_id": "r1", "status": "FINISHED"}, "data": map[string]any{"metrics": []any{map[string]any{"key": "roc_auc", "value": 0.8}}}}},
					"next_page_token": "p2",
				})
				return
			}
			reply(map[string]any{"runs": []any{map[string]any{"info": map[string]any{"run_id": "r2"}}}})
		case r.URL.Path == "/api/2.0/mlflow/registered-models/create":
			w.WriteHeader(http.StatusBadRequest)
			reply(apiError{ErrorCode: "RESOURCE_ALREADY_EXISTS", Message: "exists"})
		case r.URL.Path == "/api/2.0/mlflow/model-versions/create":
			s.versions++
			reply(map[string]any{"model_version": map[string]any{"name": body["name"], "version": "3", "source": body["source"], "run_id": body["run_id"]}})
		case r.URL.Path == "/api/2.0/mlflow/model-versions/update":
			assert.Equal(t, http.MethodPatch, r.Method)
			s.description = body["description"].(string)
			reply(map[string]any{})
		case r.Method == http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			s.uploads[r.URL.Path] = string(data)
		default:
			w.WriteHeader(http.StatusInternalServerError)
			reply(apiError{ErrorCode: "INTERNAL_ERROR", Message: "unexpected " + r.URL.Path})
		}
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func TestRESTClientRunLifecycle(t *testing.T) {
	state, srv := newMLflowServer(t)
	c, err := NewRESTClient(srv.URL, WithBasicAuth("user", "secret"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))
	assert.Contains(t, state.auth, "Basic ")

	expID, err := GetOrCreateExperiment(ctx, c, "churn")
	require.NoError(t, err)
	assert.Equal(t, "7", expID)

	again, err := GetOrCreateExperiment(ctx, c, "churn")
	require.NoError(t, err)
	assert.Equal(t, expID, again)

	run, err := c.CreateRun(ctx, expID, "rf", map[string]string{"source": "test"})
	require.NoError(t, err)
	assert.Equal(t, "abc", run.ID)
	assert.Equal(t, models.RunStatusRunning, run.Status)

	params := map[string]string{"model_type": "RandomForest"}
	for i := 0; i < 150; i++ {
		params["p"+string(rune('a'+i%26))+string(rune('a'+i/26))] = "v"
	}
	require.NoError(t, c.LogBatch(ctx, run.ID, params, map[string]float64{"accuracy": 0.9}))
	assert.Equal(t, 2, state.batches, "params are split into batches of 100")
	assert.Len(t, state.params, len(params))
	assert.Equal(t, 0.9, state.metrics["accuracy"])

	file := filepath.Join(t.TempDir(), "model.gob")
	require.NoError(t, os.WriteFile(file, []byte("weights"), 0o644))
	require.NoError(t, c.LogArtifact(ctx, run.ID, file, "model"))
	assert.Equal(t, "weights", state.uploads["/api/2.0/mlflow-artifacts/artifacts/7/abc/artifacts/model/model.gob"])

	require.NoError(t, c.UpdateRun(ctx, run.ID, models.RunStatusFinished))
	assert.Equal(t, "FINISHED", state.status)
}

func TestRESTClientSearchAndRegister(t *testing.T) {
	state, srv := newMLflowServer(t)
	c, err := NewRESTClient(srv.URL + "/")
	require.NoError(t, err)
	ctx := context.Background()

	runs, err := c.SearchRuns(ctx, []string{"7"})
	require.NoError(t, err)
	require.Len(t, runs, 2, "both pages are read")
	v, ok := runs[0].Metric("roc_auc")
	assert.True(t, ok)
	assert.Equal(t, 0.8, v)

	mv, err := c.CreateModelVersion(ctx, "TelcoChurn_Model", RunURI("r1", "model"), "r1")
	require.NoError(t, err, "an existing registered model is reused")
	assert.Equal(t, "3", mv.Version)
	assert.Equal(t, "runs:/r1/model", mv.Source)

	require.NoError(t, c.UpdateModelVersion(ctx, mv.Name, mv.Version, "best"))
	assert.Equal(t, "best", state.description)
}

func TestRESTClientErrors(t *testing.T) {
	_, srv := newMLflowServer(t)
	c, err := NewRESTClient(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.GetExperimentByName(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))

	err = c.call(ctx, http.MethodPost, "/unknown", nil, map[string]string{}, nil)
	assert.True(t, errors.IsExternalService(err))

	_, err = NewRESTClient("not a url")
	assert.True(t, errors.IsValidation(err))

	srv.Close()
	assert.True(t, errors.IsExternalService(c.Ping(ctx)))
}

func TestRunURI(t *testing.T) {
	assert.Equal(t, "runs:/abc/model", RunURI("abc", "model"))
	assert.Equal(t, "runs:/abc/model", RunURI("abc", "/model/"))
}
