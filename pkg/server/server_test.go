package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/cascadegate/pkg/adapter"
	"github.com/zen-systems/cascadegate/pkg/archive"
	"github.com/zen-systems/cascadegate/pkg/cascade"
	"github.com/zen-systems/cascadegate/pkg/config"
	"github.com/zen-systems/cascadegate/pkg/metrics"
	"github.com/zen-systems/cascadegate/pkg/toolcall"
)

func newTestServer(t *testing.T, m *adapter.MockAdapter, opts ...Option) (*Server, *metrics.Tracker) {
	t.Helper()
	tracker := metrics.NewTracker()
	c, err := cascade.New(map[string]adapter.Adapter{"mock": m}, config.DefaultCascadeConfig(), cascade.WithTracker(tracker))
	require.NoError(t, err)
	s, err := New(c, opts...)
	require.NoError(t, err)
	return s, tracker
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresCascade(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, adapter.NewMockAdapter())
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCascadeEndpoint(t *testing.T) {
	m := adapter.NewMockAdapter().Script("mock-draft", adapter.MockResponse{Content: "4"})
	s, tracker := newTestServer(t, m)

	rec := do(t, s, http.MethodPost, "/v1/cascade", `{"prompt":"What is 2+2?"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out cascade.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, cascade.StatusAccepted, out.Status)
	assert.Equal(t, "4", out.Content)
	assert.Equal(t, 1, tracker.Len())
}

func TestCascadeEndpointErrors(t *testing.T) {
	s, _ := newTestServer(t, adapter.NewMockAdapter())

	rec := do(t, s, http.MethodPost, "/v1/cascade", `{"prompt":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request_error")

	rec = do(t, s, http.MethodPost, "/v1/cascade", `{"prompt":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON payload")

	rec = do(t, s, http.MethodPost, "/v1/cascade", `{"prompt":"a"}{"prompt":"b"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/cascade", ``)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "request body is required")
}

func TestCascadeEndpointVerifierFailure(t *testing.T) {
	m := adapter.NewMockAdapter().
		Script("mock-draft", adapter.MockResponse{Content: ""}).
		Script("mock-verifier", adapter.MockResponse{Err: assert.AnError})
	s, _ := newTestServer(t, m)

	rec := do(t, s, http.MethodPost, "/v1/cascade", `{"prompt":"What is 2+2?"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var out cascade.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, cascade.StatusFailed, out.Status)
	assert.NotEmpty(t, out.Error)
}

func TestStreamEndpoint(t *testing.T) {
	m := adapter.NewMockAdapter().Script("mock-draft", adapter.MockResponse{Content: "4"})
	s, _ := newTestServer(t, m)

	rec := do(t, s, http.MethodPost, "/v1/cascade/stream", `{"prompt":"What is 2+2?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var names []string
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	assert.Equal(t, []string{"DRAFT_START", "CHUNK", "DRAFT_DECISION", "COMPLETE"}, names)
}

func TestStreamEndpointRejectsEmptyQuery(t *testing.T) {
	s, _ := newTestServer(t, adapter.NewMockAdapter())
	rec := do(t, s, http.MethodPost, "/v1/cascade/stream", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyEndpoint(t *testing.T) {
	s, _ := newTestServer(t, adapter.NewMockAdapter())
	rec := do(t, s, http.MethodPost, "/v1/classify", `{"prompt":"What is 2+2?","domain_hint":"math"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "math", got["domain"])
	assert.Equal(t, "trivial", got["complexity"])
}

func TestValidateEndpoint(t *testing.T) {
	s, _ := newTestServer(t, adapter.NewMockAdapter())
	body := `{
		"tools": [{"name":"delete_file","parameters":{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}}],
		"calls": [{"id":"1","name":"delete_file","arguments":{"path":"; rm -rf /"}}]
	}`
	rec := do(t, s, http.MethodPost, "/v1/validate", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var res toolcall.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Valid)
	assert.False(t, res.Safety.Valid)
	assert.True(t, res.Structural.Valid)

	rec = do(t, s, http.MethodPost, "/v1/validate", `{"calls":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsAndOutcomes(t *testing.T) {
	m := adapter.NewMockAdapter().Script("mock-draft", adapter.MockResponse{Content: "4"})
	s, _ := newTestServer(t, m)

	for i := 0; i < 3; i++ {
		rec := do(t, s, http.MethodPost, "/v1/cascade", `{"prompt":"What is 2+2?"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := do(t, s, http.MethodGet, "/v1/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum metrics.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 3, sum.DraftAccepted)

	rec = do(t, s, http.MethodGet, "/v1/outcomes?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var recs []metrics.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)

	rec = do(t, s, http.MethodGet, "/v1/outcomes?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOutcomesFromArchive(t *testing.T) {
	store, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Write(context.Background(), metrics.Record{ID: "a", Status: metrics.StatusAccepted}))

	s, _ := newTestServer(t, adapter.NewMockAdapter(), WithArchive(store))
	rec := do(t, s, http.MethodGet, "/v1/outcomes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var recs []metrics.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)
}
