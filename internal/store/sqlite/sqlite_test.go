package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liteproxy/internal/store"
	"liteproxy/internal/store/model"
)

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func testConfig(name, baseURL string) *model.ProxyConfig {
	now := time.Now().UTC()
	return &model.ProxyConfig{
		ProxyModelName:   name,
		BaseURL:          baseURL,
		BackendModelName: "backend-" + name,
		BackendAPIKey:    "sk-test",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestConfigRepository_CRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cfg := testConfig("fast-model", "https://backend.example.com/v1")
	require.NoError(t, repo.Configs().Create(ctx, cfg))

	got, err := repo.Configs().GetByName(ctx, "fast-model")
	require.NoError(t, err)
	assert.Equal(t, "fast-model", got.ProxyModelName)
	assert.Equal(t, "https://backend.example.com/v1", got.BaseURL)
	assert.Equal(t, "backend-fast-model", got.BackendModelName)
	assert.Equal(t, "sk-test", got.BackendAPIKey)
	assert.False(t, got.IgnoreSSLVerify)

	got.BackendModelName = "gpt-4o"
	got.BackendAPIKey = ""
	require.NoError(t, repo.Configs().UpdateByName(ctx, "fast-model", got))

	updated, err := repo.Configs().GetByName(ctx, "fast-model")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", updated.BackendModelName)
	assert.Empty(t, updated.BackendAPIKey)

	configs, err := repo.Configs().List(ctx)
	require.NoError(t, err)
	assert.Len(t, configs, 1)

	require.NoError(t, repo.Configs().DeleteByName(ctx, "fast-model"))

	_, err = repo.Configs().GetByName(ctx, "fast-model")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConfigRepository_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Configs().GetByName(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = repo.Configs().UpdateByName(ctx, "missing", testConfig("missing", "https://x.example.com"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = repo.Configs().DeleteByName(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConfigRepository_DistinctBaseURLs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Configs().Create(ctx, testConfig("a", "https://b.example.com/v1")))
	require.NoError(t, repo.Configs().Create(ctx, testConfig("b", "https://a.example.com/v1")))
	require.NoError(t, repo.Configs().Create(ctx, testConfig("c", "https://b.example.com/v1")))

	urls, err := repo.Configs().DistinctBaseURLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com/v1", "https://b.example.com/v1"}, urls)
}

func testEntry(ts time.Time, method, path string, status int) *model.LogEntry {
	return &model.LogEntry{
		ID:                 uuid.NewString(),
		Timestamp:          ts,
		RequestMethod:      method,
		RequestPath:        path,
		RequestHeaders:     model.HeaderMap{"Content-Type": "application/json"},
		RequestBody:        model.JSONBody(map[string]interface{}{"model": "m"}),
		ResponseStatusCode: status,
		ResponseHeaders:    model.HeaderMap{"Content-Type": "application/json"},
		ResponseBody:       model.JSONBody(map[string]interface{}{"ok": true}),
		ProcessingTime:     0.42,
	}
}

func TestLogRepository_FindOrderingAndPaging(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		entry := testEntry(base.Add(time.Duration(i)*time.Minute), "POST", "/v1/chat/completions", 200)
		require.NoError(t, repo.Logs().Insert(ctx, entry))
	}

	entries, err := repo.Logs().Find(ctx, model.LogFilter{}, 0, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// newest first
	assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))

	page2, err := repo.Logs().Find(ctx, model.LogFilter{}, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.True(t, entries[1].Timestamp.After(page2[0].Timestamp))

	total, err := repo.Logs().Count(ctx, model.LogFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
}

func TestLogRepository_Filters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Logs().Insert(ctx, testEntry(base, "POST", "/v1/chat/completions", 200)))
	require.NoError(t, repo.Logs().Insert(ctx, testEntry(base.Add(time.Hour), "GET", "/v1/models", 200)))
	require.NoError(t, repo.Logs().Insert(ctx, testEntry(base.Add(2*time.Hour), "POST", "/v1/chat/completions", 502)))

	byStatus, err := repo.Logs().Find(ctx, model.LogFilter{StatusMin: 500}, 0, 10)
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, 502, byStatus[0].ResponseStatusCode)

	byMethod, err := repo.Logs().Find(ctx, model.LogFilter{Method: "GET"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, byMethod, 1)
	assert.Equal(t, "/v1/models", byMethod[0].RequestPath)

	byPath, err := repo.Logs().Find(ctx, model.LogFilter{PathContains: "CHAT"}, 0, 10)
	require.NoError(t, err)
	assert.Len(t, byPath, 2)

	start := base.Add(30 * time.Minute)
	end := base.Add(90 * time.Minute)
	byRange, err := repo.Logs().Find(ctx, model.LogFilter{Start: &start, End: &end}, 0, 10)
	require.NoError(t, err)
	require.Len(t, byRange, 1)
	assert.Equal(t, "/v1/models", byRange[0].RequestPath)

	count, err := repo.Logs().Count(ctx, model.LogFilter{StatusMin: 200, StatusMax: 299})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestLogRepository_BodyRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	structured := testEntry(time.Now().UTC(), "POST", "/v1/chat/completions", 200)
	structured.ResponseBody = model.JSONBody(map[string]interface{}{"id": "cmpl-1", "n": float64(3)})
	require.NoError(t, repo.Logs().Insert(ctx, structured))

	raw := testEntry(time.Now().UTC(), "POST", "/v1/chat/completions", 200)
	raw.ResponseBody = model.TextBody("data: [DONE]\n\n")
	require.NoError(t, repo.Logs().Insert(ctx, raw))

	absent := testEntry(time.Now().UTC(), "GET", "/v1/models", 200)
	absent.RequestBody = model.Body{}
	absent.ResponseBody = model.Body{}
	require.NoError(t, repo.Logs().Insert(ctx, absent))

	got, err := repo.Logs().MostRecentByPath(ctx, "/v1/models")
	require.NoError(t, err)
	assert.False(t, got.RequestBody.Valid)
	assert.False(t, got.ResponseBody.Valid)

	entries, err := repo.Logs().Find(ctx, model.LogFilter{Method: "POST"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, e := range entries {
		require.True(t, e.ResponseBody.Valid)
		switch e.ID {
		case structured.ID:
			data, ok := e.ResponseBody.Data.(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "cmpl-1", data["id"])
			assert.Equal(t, float64(3), data["n"])
		case raw.ID:
			assert.Equal(t, "data: [DONE]\n\n", e.ResponseBody.Data)
		default:
			t.Fatalf("unexpected entry %s", e.ID)
		}
	}
}

func TestLogRepository_UpdateResponseBody(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	entry := testEntry(time.Now().UTC(), "POST", "/v1/chat/completions", 200)
	entry.ResponseBody = model.Body{}
	entry.IsStream = true
	require.NoError(t, repo.Logs().Insert(ctx, entry))

	patched := model.TextBody("data: {\"delta\":\"hi\"}\n\n")
	require.NoError(t, repo.Logs().UpdateResponseBody(ctx, entry.ID, patched))

	got, err := repo.Logs().MostRecentByPath(ctx, "/v1/chat/completions")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, got.ID)
	assert.True(t, got.IsStream)
	require.True(t, got.ResponseBody.Valid)
	assert.Equal(t, "data: {\"delta\":\"hi\"}\n\n", got.ResponseBody.Data)

	err = repo.Logs().UpdateResponseBody(ctx, "no-such-id", patched)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLogRepository_MostRecentByPath_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Logs().MostRecentByPath(context.Background(), "/nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	err := repo.WithTx(ctx, func(tx store.Repository) error {
		if err := tx.Configs().Create(ctx, testConfig("tx-model", "https://tx.example.com")); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = repo.Configs().GetByName(ctx, "tx-model")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
