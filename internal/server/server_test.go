package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"liteproxy/internal/audit"
	"liteproxy/internal/config"
	"liteproxy/internal/proxy"
	"liteproxy/internal/store"
	"liteproxy/internal/store/cache"
	"liteproxy/internal/store/model"
	"liteproxy/internal/store/sqlite"
)

type testEnv struct {
	server *Server
	repo   store.Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo, err := sqlite.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})

	logger := zap.NewNop()

	recorder := audit.NewRecorder(logger, repo)
	recorder.Start()
	t.Cleanup(recorder.Stop)

	service := proxy.NewService(logger, repo, cache.NewMemoryCache(), recorder)

	cfg := &config.Config{}
	cfg.Server.Port = "0"
	cfg.Server.Env = "test"

	return &testEnv{
		server: New(cfg, logger, service, repo),
		repo:   repo,
	}
}

// closeNotifyRecorder makes httptest.ResponseRecorder usable with streaming
// handlers, which require the writer to implement http.CloseNotifier.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func (e *testEnv) do(method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if header != nil {
		req.Header = header
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(&closeNotifyRecorder{w}, req)
	return w
}

func (e *testEnv) seedConfig(t *testing.T, name, baseURL string) {
	t.Helper()
	payload := fmt.Sprintf(`{
		"proxy_model_name": %q,
		"base_url": %q,
		"backend_model_name": "backend-model"
	}`, name, baseURL)
	w := e.do(http.MethodPost, "/admin/configs", []byte(payload), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestChatCompletions_EndToEnd(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "backend-model", payload["model"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cmpl-1","choices":[]}`))
	}))
	defer backend.Close()

	env := newTestEnv(t)
	env.seedConfig(t, "my-alias", backend.URL)

	body := []byte(`{"model":"my-alias","messages":[{"role":"user","content":"hi"}]}`)
	w := env.do(http.MethodPost, "/v1/chat/completions", body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"cmpl-1","choices":[]}`, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestChatCompletions_UnknownModel(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/v1/chat/completions", []byte(`{"model":"ghost"}`), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error.Message, "ghost")
	assert.Equal(t, "not_found", resp.Error.Type)
}

func TestChatCompletions_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodDelete, "/v1/chat/completions", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestChatCompletions_Streaming(t *testing.T) {
	frames := "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(frames))
	}))
	defer backend.Close()

	env := newTestEnv(t)
	env.seedConfig(t, "my-alias", backend.URL)

	body := []byte(`{"model":"my-alias","stream":true,"messages":[]}`)
	w := env.do(http.MethodPost, "/v1/chat/completions", body, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, frames, w.Body.String())

	// the provisional record was written synchronously and finalized with
	// the accumulated transcript
	entry, err := env.repo.Logs().MostRecentByPath(context.Background(), "/v1/chat/completions")
	require.NoError(t, err)
	assert.True(t, entry.IsStream)
	require.True(t, entry.ResponseBody.Valid)
	assert.Equal(t, frames, entry.ResponseBody.Data)
}

func TestModels_Aggregation(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"alpha"},{"id":"beta"}]}`))
	}))
	defer backend.Close()

	env := newTestEnv(t)
	env.seedConfig(t, "m1", backend.URL)
	env.seedConfig(t, "m2", backend.URL) // same base URL, queried once

	w := env.do(http.MethodGet, "/v1/models", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Object string            `json:"object"`
		Data   []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	assert.Len(t, list.Data, 2)
}

func TestAdminConfigs_CRUD(t *testing.T) {
	env := newTestEnv(t)

	create := []byte(`{
		"proxy_model_name": "alias",
		"base_url": "https://backend.example.com/v1",
		"backend_model_name": "gpt-4o",
		"backend_api_key": "sk-1"
	}`)
	w := env.do(http.MethodPost, "/admin/configs", create, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// duplicate name is a conflict
	w = env.do(http.MethodPost, "/admin/configs", create, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// validation failure
	w = env.do(http.MethodPost, "/admin/configs", []byte(`{"proxy_model_name":"x"}`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/admin/configs", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var listResp struct {
		Data []model.ProxyConfig `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResp))
	require.Len(t, listResp.Data, 1)
	assert.Equal(t, "gpt-4o", listResp.Data[0].BackendModelName)

	update := []byte(`{
		"proxy_model_name": "alias",
		"base_url": "https://backend.example.com/v1",
		"backend_model_name": "gpt-4o-mini"
	}`)
	w = env.do(http.MethodPut, "/admin/configs/alias", update, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodPut, "/admin/configs/missing", update, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodDelete, "/admin/configs/alias", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodDelete, "/admin/configs/alias", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminLogs_FilterAndPage(t *testing.T) {
	env := newTestEnv(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	entries := []*model.LogEntry{
		{Timestamp: base, RequestMethod: "POST", RequestPath: "/v1/chat/completions", ResponseStatusCode: 200},
		{Timestamp: base.Add(time.Hour), RequestMethod: "GET", RequestPath: "/v1/models", ResponseStatusCode: 200},
		{Timestamp: base.Add(2 * time.Hour), RequestMethod: "POST", RequestPath: "/v1/chat/completions", ResponseStatusCode: 503},
	}
	for i, e := range entries {
		e.ID = fmt.Sprintf("entry-%d", i)
		require.NoError(t, env.repo.Logs().Insert(context.Background(), e))
	}

	var resp struct {
		Total int              `json:"total"`
		Data  []model.LogEntry `json:"data"`
	}

	w := env.do(http.MethodGet, "/admin/logs", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Data, 3)
	// newest first
	assert.Equal(t, "entry-2", resp.Data[0].ID)

	w = env.do(http.MethodGet, "/admin/logs?status_min=500", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)

	w = env.do(http.MethodGet, "/admin/logs?method=GET&path=models", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "/v1/models", resp.Data[0].RequestPath)

	w = env.do(http.MethodGet, "/admin/logs?start=2026-08-01T12%3A30%3A00Z&end=2026-08-01T13%3A30%3A00Z", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "entry-1", resp.Data[0].ID)

	w = env.do(http.MethodGet, "/admin/logs?limit=2&skip=2", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "entry-0", resp.Data[0].ID)

	w = env.do(http.MethodGet, "/admin/logs?start=not-a-time", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
