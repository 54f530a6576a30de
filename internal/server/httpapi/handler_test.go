package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"asyncgate/internal/domain/task"
	"asyncgate/internal/engine"
	"asyncgate/internal/observability"
	"asyncgate/internal/testutil"
)

const testTenant = "00000000-0000-0000-0000-000000000001"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	stores := testutil.NewMemStores(testutil.DefaultMemConfig())
	eng := engine.New(stores, engine.DefaultConfig(), "test-instance")
	srv := httptest.NewServer(NewHandler(eng).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, headers map[string]string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func agentHeaders() map[string]string {
	return map[string]string{
		"X-Tenant-ID":      testTenant,
		"X-Principal-Kind": "agent",
		"X-Principal-ID":   "planner-1",
	}
}

func workerHeaders() map[string]string {
	return map[string]string{
		"X-Tenant-ID":      testTenant,
		"X-Principal-Kind": "worker",
		"X-Principal-ID":   "w1",
	}
}

func TestCreateAndGetTask(t *testing.T) {
	srv := newTestServer(t)

	resp, created := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks", agentHeaders(), map[string]any{
		"type":    "echo",
		"payload": map[string]any{"msg": "hi"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	taskID := created["task_id"].(string)
	assert.Equal(t, "queued", created["status"])

	resp, fetched := doJSON(t, http.MethodGet, srv.URL+"/v1/tasks/"+taskID, agentHeaders(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo", fetched["type"])
}

func TestCreateTaskRequiresIdentityHeaders(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks", nil, map[string]any{"type": "echo"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body["code"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/tasks",
		map[string]string{"X-Tenant-ID": testTenant}, map[string]any{"type": "echo"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUnknownTaskIs404(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/tasks/"+uuid.NewString(), agentHeaders(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "task_not_found", body["code"])
}

func TestClaimRequiresWorkerPrincipal(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/leases/claim", agentHeaders(), map[string]any{
		"max_tasks": 1,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "unauthorized", body["code"])
}

func TestClaimCompleteRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	_, created := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks", agentHeaders(), map[string]any{
		"type": "echo",
	})
	taskID := created["task_id"].(string)

	resp, claimed := doJSON(t, http.MethodPost, srv.URL+"/v1/leases/claim", workerHeaders(), map[string]any{
		"max_tasks": 1,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	claims := claimed["claims"].([]any)
	require.Len(t, claims, 1)
	leaseInfo := claims[0].(map[string]any)["lease"].(map[string]any)
	leaseID := leaseInfo["lease_id"].(string)

	resp, result := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/v1/tasks/%s/complete", srv.URL, taskID), workerHeaders(), map[string]any{
			"lease_id":  leaseID,
			"artifacts": []any{map[string]any{"type": "mem", "key": "k1"}},
		})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "succeeded", result["status"])

	// Completing again without the (now released) lease is a conflict.
	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/v1/tasks/%s/complete", srv.URL, taskID), workerHeaders(), map[string]any{
			"lease_id":  leaseID,
			"artifacts": []any{map[string]any{"type": "mem", "key": "k1"}},
		})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "lease_invalid_or_expired", body["code"])
}

func TestOpenObligationsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/v1/tasks", agentHeaders(), map[string]any{"type": "echo"})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/obligations/open", agentHeaders(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	open := body["open_obligations"].([]any)
	require.Len(t, open, 1)
	assert.Equal(t, "task.assigned", open[0].(map[string]any)["receipt_type"])
}

func TestCancelConflictOnTerminalTask(t *testing.T) {
	srv := newTestServer(t)

	_, created := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks", agentHeaders(), map[string]any{"type": "echo"})
	taskID := created["task_id"].(string)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks/"+taskID+"/cancel", agentHeaders(),
		map[string]any{"reason": "no longer needed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/tasks/"+taskID+"/cancel", agentHeaders(),
		map[string]any{"reason": "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_state_transition", body["code"])
}

func TestHealthAndConfig(t *testing.T) {
	srv := newTestServer(t)

	resp, health := doJSON(t, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])

	resp, cfg := doJSON(t, http.MethodGet, srv.URL+"/v1/config", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(10), cfg["max_claim_tasks"])
	assert.NotContains(t, cfg, "database_url")
}

func TestListTasksFilters(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/v1/tasks", agentHeaders(), map[string]any{"type": "echo"})
	doJSON(t, http.MethodPost, srv.URL+"/v1/tasks", agentHeaders(), map[string]any{"type": "shell"})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/v1/tasks?type=echo", agentHeaders(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tasks := body["tasks"].([]any)
	require.Len(t, tasks, 1)
	assert.Equal(t, "echo", tasks[0].(map[string]any)["type"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/tasks?status=bogus", agentHeaders(), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMalformedJSONBody(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/tasks", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	for k, v := range agentHeaders() {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTaskStatusFilterMatchesDomain(t *testing.T) {
	// Guard against the status vocabulary drifting between facade and domain.
	for _, s := range []task.Status{task.StatusQueued, task.StatusLeased, task.StatusSucceeded, task.StatusFailed, task.StatusCanceled} {
		assert.True(t, s.Valid())
	}
}

func TestTracedRequestsRecordSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	stores := testutil.NewMemStores(testutil.DefaultMemConfig())
	eng := engine.New(stores, engine.DefaultConfig(), "test-instance")
	srv := httptest.NewServer(NewHandler(eng, WithTracer(provider.Tracer("test"))).Router())
	t.Cleanup(srv.Close)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/health", agentHeaders(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, observability.SpanHTTPRequest, spans[0].Name())

	attrs := make(map[attribute.Key]attribute.Value, len(spans[0].Attributes()))
	for _, kv := range spans[0].Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "/v1/health", attrs[attribute.Key(observability.AttrHTTPRoute)].AsString())
	assert.Equal(t, int64(http.StatusOK), attrs[attribute.Key(observability.AttrHTTPStatus)].AsInt64())
}
