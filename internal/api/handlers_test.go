package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/foresight/internal/pipeline"
	"github.com/kalambet/foresight/internal/storage"
)

const testToken = "test-token-12345"

const dbBody = `{"context":"optimize database queries with slow performance","decision":"add database indexes"}`

func setupHandler(t *testing.T, token string) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := pipeline.New(store, pipeline.Config{})
	return NewHandler(Deps{Engine: engine, Token: token}), store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

func errorType(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	s, _ := e["type"].(string)
	return s
}

func TestHealth_Unauthenticated(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rec, body := do(t, h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestAuth(t *testing.T) {
	h, _ := setupHandler(t, testToken)

	rec, body := do(t, h, authReq(http.MethodPost, "/process", dbBody, ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "authentication_error", errorType(body))

	rec, _ = do(t, h, authReq(http.MethodPost, "/process", dbBody, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, h, authReq(http.MethodPost, "/process", dbBody, testToken))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthDisabledWithoutToken(t *testing.T) {
	h, _ := setupHandler(t, "")
	rec, _ := do(t, h, authReq(http.MethodGet, "/patterns/top", "", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProcess(t *testing.T) {
	h, _ := setupHandler(t, "")

	rec, body := do(t, h, authReq(http.MethodPost, "/process", dbBody, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	direct := body["direct_solution"].(map[string]any)
	assert.Equal(t, "analysis", direct["source"])
	metrics := body["intelligence_metrics"].(map[string]any)
	assert.EqualValues(t, 1, metrics["delta"])
	assert.Contains(t, body, "brutal_honesty")
}

func TestProcess_Errors(t *testing.T) {
	h, _ := setupHandler(t, "")

	tests := []struct {
		name    string
		url     string
		body    string
		errType string
	}{
		{"missing context", "/process", `{"decision":"x"}`, "validation_error"},
		{"blank context", "/process", `{"context":"   "}`, "validation_error"},
		{"malformed body", "/process", `{"context":`, "validation_error"},
		{"depth too deep", "/process?cascade_depth=15", dbBody, "configuration_error"},
		{"bad threshold", "/process?similarity_threshold=1.5", dbBody, "configuration_error"},
		{"bad predict flag", "/process?predict_future=maybe", dbBody, "validation_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := do(t, h, authReq(http.MethodPost, tc.url, tc.body, ""))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.errType, errorType(body))
		})
	}
}

func TestProcess_PipelineFailure(t *testing.T) {
	h, store := setupHandler(t, "")
	require.NoError(t, store.Close())

	rec, body := do(t, h, authReq(http.MethodPost, "/process", dbBody, ""))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	e := body["error"].(map[string]any)
	assert.Equal(t, "pipeline_error", e["type"])
	assert.Equal(t, pipeline.StageStore, e["stage"])
	assert.NotEmpty(t, e["message"])
}

func TestProcess_RateLimited(t *testing.T) {
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	h := NewHandler(Deps{
		Engine:         pipeline.New(store, pipeline.Config{}),
		ProcessLimiter: NewProcessLimiter(0.001, 1),
	})

	rec, _ := do(t, h, authReq(http.MethodPost, "/process", dbBody, ""))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, authReq(http.MethodPost, "/process", dbBody, ""))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limit_error", errorType(body))

	// Other routes are not throttled.
	rec, _ = do(t, h, authReq(http.MethodGet, "/memory/history", "", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewProcessLimiter_Disabled(t *testing.T) {
	assert.Nil(t, NewProcessLimiter(0, 10))
	assert.NotNil(t, NewProcessLimiter(1, 0))
}

func TestPatterns(t *testing.T) {
	h, _ := setupHandler(t, "")
	rec, _ := do(t, h, authReq(http.MethodPost, "/process", dbBody, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, authReq(http.MethodPost, "/patterns/search",
		`{"context":{"input":"slow database queries"},"similarity_threshold":0.5}`, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, body["total_found"])
	patterns := body["patterns"].([]any)
	require.Len(t, patterns, 1)
	match := patterns[0].(map[string]any)
	pattern := match["pattern"].(map[string]any)
	assert.Equal(t, "database", pattern["pattern_type"])
	id := pattern["pattern_id"].(string)

	rec, body = do(t, h, authReq(http.MethodPost, "/patterns/search", `{"context":{}}`, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(body))

	rec, _ = do(t, h, authReq(http.MethodPost, "/patterns/search",
		`{"context":{"input":"x"},"similarity_threshold":3}`, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, h, authReq(http.MethodGet, "/patterns/top?limit=5&min_accuracy=0", "", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = do(t, h, authReq(http.MethodPost, "/patterns/"+id+"/outcome", `{"success":true}`, ""))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", body["status"])
	assert.NotEmpty(t, body["job_id"])

	rec, _ = do(t, h, authReq(http.MethodPost, "/patterns/"+id+"/outcome", `{}`, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, h, authReq(http.MethodPost, "/patterns/missing/outcome", `{"success":false}`, ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorType(body))
}

func TestDecisions(t *testing.T) {
	h, _ := setupHandler(t, "")

	rec, body := do(t, h, authReq(http.MethodPost, "/decisions/analyze",
		`{"decision":"migrate to postgres","immediate_impact":{"effect":"schema rewrite"},"confidence_score":0.9,"cascade_depth":3}`, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["decision_id"])
	assert.EqualValues(t, 0, body["total_levels"], "no earlier decisions to learn from")
	assert.EqualValues(t, 0.9, body["confidence"])

	rec, body = do(t, h, authReq(http.MethodGet, "/decisions/cascades/migrate%20to%20postgres?depth=3", "", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "migrate to postgres", body["decision"])
	assert.EqualValues(t, 3, body["depth"])
	cascades := body["cascades"].([]any)
	first := cascades[0].(map[string]any)
	assert.Equal(t, "schema rewrite", first["effect"])

	rec, body = do(t, h, authReq(http.MethodGet, "/decisions/cascades/anything?depth=15", "", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "configuration_error", errorType(body))

	rec, _ = do(t, h, authReq(http.MethodPost, "/decisions/analyze", `{"decision":"x","confidence_score":2}`, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemory(t *testing.T) {
	h, _ := setupHandler(t, "")
	for range 2 {
		rec, _ := do(t, h, authReq(http.MethodPost, "/process", dbBody, ""))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, body := do(t, h, authReq(http.MethodGet, "/memory/history?limit=1", "", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = do(t, h, authReq(http.MethodGet, "/memory/intelligence-score?hours=2", "", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["time_period_hours"])
	assert.InDelta(t, 0.75, body["intelligence_score"], 1e-9)

	rec, body = do(t, h, authReq(http.MethodGet, "/memory/recent", "", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])
}

func TestErrors(t *testing.T) {
	h, _ := setupHandler(t, "")

	rec, body := do(t, h, authReq(http.MethodPost, "/errors/solution", `{"code":"E42"}`, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["found"])

	rec, body = do(t, h, authReq(http.MethodPost, "/errors/log",
		`{"error_context":{"code":"E42"},"solution":{"fix":"restart"},"resolution_time_seconds":30}`, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "logged", body["status"])
	assert.NotEmpty(t, body["error_id"])

	rec, body = do(t, h, authReq(http.MethodPost, "/errors/solution", `{"code":"E42"}`, ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["found"])
	sol := body["solution"].(map[string]any)
	assert.Equal(t, map[string]any{"fix": "restart"}, sol["solution"])

	rec, _ = do(t, h, authReq(http.MethodPost, "/errors/log", `{"solution":{"fix":"x"}}`, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, authReq(http.MethodPost, "/errors/log", `{"error_context":{"a":1},"resolution_time_seconds":-1}`, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalytics(t *testing.T) {
	h, _ := setupHandler(t, "")
	rec, _ := do(t, h, authReq(http.MethodPost, "/process", dbBody, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, authReq(http.MethodGet, "/analytics/intelligence?hours=48", "", ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 48, body["time_period_hours"])
	system := body["system"].(map[string]any)
	assert.Equal(t, "learning", system["system_status"])
	db := body["database"].(map[string]any)
	assert.EqualValues(t, 1, db["total_interactions"])

	rec, body = do(t, h, authReq(http.MethodGet, "/analytics/patterns/effectiveness", "", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := setupHandler(t, testToken)
	rec, _ := do(t, h, authReq(http.MethodPost, "/process", dbBody, testToken))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "foresight_processed_total")
}
