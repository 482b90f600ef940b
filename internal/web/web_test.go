package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedline/internal/config"
	"schedline/internal/engine"
	"schedline/internal/horizon"
	"schedline/internal/planner"
	"schedline/internal/store"
)

var now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	clock := func() time.Time { return now }
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "web.db"), store.Options{Location: time.UTC, Now: clock})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	eng := engine.New(engine.Options{Clock: clock, Location: time.UTC})
	hz := horizon.New(horizon.Config{Horizon: 7 * 24 * time.Hour}, st, eng)
	return NewServer(cfg, planner.New(st, eng, hz)).Handler()
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	return cfg
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestBasicAuth(t *testing.T) {
	cfg := testConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "s3cret"}
	h := newTestServer(t, cfg)

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/items", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.SetBasicAuth("admin", "wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.SetBasicAuth("admin", "s3cret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestBasicAuthDisabledWithoutPassword(t *testing.T) {
	cfg := testConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin"}
	h := newTestServer(t, cfg)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/items", "").Code)
}

func TestParse(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec := do(t, h, http.MethodPost, "/api/parse", `{"entry":"~ Call mom @p 2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[parseResponse](t, rec)
	assert.Equal(t, "~ Call mom @p 2", got.Entry)
	assert.Equal(t, "task", got.Item.Type)
	assert.Equal(t, 2, got.Item.Priority)

	tests := []struct {
		name string
		body string
		kind string
	}{
		{name: "no marker", body: `{"entry":"Call mom"}`, kind: "lex"},
		{name: "bad priority", body: `{"entry":"~ Call mom @p high"}`, kind: "field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/parse", tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decode[entryErrorResponse](t, rec).Kind)
		})
	}

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/parse", `{"text":1}`).Code)
}

func TestItemLifecycle(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec := do(t, h, http.MethodPost, "/api/items", `{"entry":"* Team sync @s 2025-03-03 09:00 @e 1h @r w &i 1 &c 4"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	event := decode[itemDTO](t, rec)
	assert.Equal(t, "event", event.Type)
	assert.Equal(t, "rule-recurring", event.State)

	rec = do(t, h, http.MethodGet, "/api/occurrences?days=30&backfill=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	occs := decode[occurrencesResponse](t, rec)
	require.Len(t, occs.Occurrences, 4)
	assert.Equal(t, event.ID, occs.Occurrences[0].ItemID)
	assert.False(t, occs.Occurrences[0].AllDay)
	require.NotNil(t, occs.Occurrences[0].End)
	assert.Equal(t, time.Hour, occs.Occurrences[0].End.Sub(occs.Occurrences[0].Start))

	rec = do(t, h, http.MethodPost, "/api/items", `{"entry":"~ Water plants @s 2025-03-03"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	task := decode[itemDTO](t, rec)

	rec = do(t, h, http.MethodGet, "/api/occurrences?days=30&backfill=0", "")
	occs = decode[occurrencesResponse](t, rec)
	require.Len(t, occs.Occurrences, 5)
	assert.True(t, occs.Occurrences[0].AllDay)

	rec = do(t, h, http.MethodPost, "/api/items/"+itoa(event.ID)+"/finish", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/items/"+itoa(task.ID)+"/finish", `{"completed_at":"2025-03-01T12:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[finishResponse](t, rec)
	assert.True(t, done.Finished)
	require.NotNil(t, done.Item.FinishedAt)
	assert.True(t, done.Item.FinishedAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))

	rec = do(t, h, http.MethodPost, "/api/items/"+itoa(task.ID)+"/finish", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/items", "")
	assert.Len(t, decode[[]itemDTO](t, rec), 1)
	rec = do(t, h, http.MethodGet, "/api/items?finished=1", "")
	assert.Len(t, decode[[]itemDTO](t, rec), 2)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/items/"+itoa(event.ID), "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/items/"+itoa(event.ID), "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/items/abc", "").Code)
}

func TestFinishJob(t *testing.T) {
	h := newTestServer(t, testConfig())

	rec := do(t, h, http.MethodPost, "/api/items", `{"entry":"^ Move @s 2025-03-10 @j pack &r 1 @j load &r 2: 1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	project := decode[itemDTO](t, rec)
	require.Len(t, project.Jobs, 2)

	rec = do(t, h, http.MethodPost, "/api/items/"+itoa(project.ID)+"/finish", `{"job_id":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[finishResponse](t, rec)
	assert.False(t, res.Finished)
	assert.Equal(t, []int{2}, res.Available)
	require.NotNil(t, res.Item.Jobs[0].Finished)

	rec = do(t, h, http.MethodPost, "/api/items/"+itoa(project.ID)+"/finish", `{"job_id":7}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
