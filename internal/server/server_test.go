package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/piwi3910/GangNest/internal/engine"
	"github.com/piwi3910/GangNest/internal/model"
	"github.com/piwi3910/GangNest/internal/report"
	"github.com/piwi3910/GangNest/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type call struct {
	context    string
	sheetWidth float64
	images     []model.ImageRef
	result     model.NestingResult
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeRecorder) Record(_ context.Context, runContext string, sheetWidth float64, images []model.ImageRef, result model.NestingResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{runContext, sheetWidth, images, result})
}

func newTestServer(t *testing.T) (*Server, *fakeRecorder, *telemetry.MemorySink) {
	t.Helper()
	cfg := model.DefaultAppConfig()
	e := engine.New(engine.DefaultRegistry(), cfg.Engine)
	c := engine.NewComparator(e, 2)
	c.TimeResolution = time.Hour
	sink := telemetry.NewMemorySink()
	rec := &fakeRecorder{}
	return New(cfg, e, c, rec, report.New(sink, 10, 0.05)), rec, sink
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s.Router(), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	s.healthy.Store(false)
	w = do(t, s.Router(), http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStrategies(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := do(t, s.Router(), http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Strategies []string  `json:"strategies"`
		Default    string    `json:"default"`
		Presets    []float64 `json:"presets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Strategies, "polygon")
	assert.Equal(t, "shelf", body.Default)
	assert.Equal(t, []float64{13, 17}, body.Presets)
}

func TestNesting_Success(t *testing.T) {
	s, rec, _ := newTestServer(t)
	body := `{
		"context": "live",
		"sheetWidth": 17,
		"images": [{"id": "logo", "name": "Logo", "url": "https://cdn/logo.png", "width": 10, "height": 5, "copies": 2}],
		"marginConfig": {"margin": 0.25}
	}`
	w := do(t, s.Router(), http.MethodPost, "/api/nesting", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp nestingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "shelf", resp.Strategy)
	require.Len(t, resp.Sheets, 1)
	assert.Len(t, resp.Sheets[0].Placements, 2)
	assert.Equal(t, []string{}, resp.UnplacedPieceIDs)
	assert.InDelta(t, 10.5, resp.TotalLength, 1e-9)
	assert.Greater(t, resp.Utilization, 0.8)
	assert.False(t, resp.Quality.Bad)
	require.NotNil(t, resp.Estimate)
	assert.Equal(t, 1, resp.Estimate.Sheets)
	assert.InDelta(t, 25+100*0.65, resp.Estimate.MaterialCost, 1e-9)

	require.Len(t, rec.calls, 1)
	assert.Equal(t, model.ContextLive, rec.calls[0].context)
	assert.Equal(t, 17.0, rec.calls[0].sheetWidth)
	assert.Equal(t, "https://cdn/logo.png", rec.calls[0].images[0].URL)
}

func TestNesting_TooWideIsAResultNotAnError(t *testing.T) {
	s, _, _ := newTestServer(t)
	body := `{"sheetWidth": 13, "images": [{"id": "banner", "width": 14, "height": 4, "quantity": 1, "rotations": "none"}]}`
	w := do(t, s.Router(), http.MethodPost, "/api/nesting", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp nestingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Sheets)
	assert.Equal(t, []string{"banner"}, resp.UnplacedPieceIDs)
	require.Len(t, resp.Unplaced, 1)
	assert.Equal(t, model.ReasonTooWide, resp.Unplaced[0].Reason)
}

func TestNesting_RecordOptOut(t *testing.T) {
	s, rec, _ := newTestServer(t)
	body := `{"sheetWidth": 13, "record": false, "images": [{"id": "a", "width": 2, "height": 2, "quantity": 1}]}`
	w := do(t, s.Router(), http.MethodPost, "/api/nesting", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, rec.calls)
}

func TestNesting_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"sheetWidth": 13,`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"wrong type", `{"sheetWidth": "wide"}`, http.StatusUnprocessableEntity},
		{"no images", `{"sheetWidth": 13, "images": []}`, http.StatusUnprocessableEntity},
		{"zero width", `{"sheetWidth": 0, "images": [{"id": "a", "width": 2, "height": 2, "quantity": 1}]}`, http.StatusUnprocessableEntity},
		{"negative margin", `{"sheetWidth": 13, "marginConfig": {"margin": -1}, "images": [{"id": "a", "width": 2, "height": 2, "quantity": 1}]}`, http.StatusUnprocessableEntity},
		{"unknown strategy", `{"sheetWidth": 13, "strategy": "tetris", "images": [{"id": "a", "width": 2, "height": 2, "quantity": 1}]}`, http.StatusBadRequest},
		{"too many copies", `{"sheetWidth": 13, "images": [{"id": "a", "width": 0.5, "height": 0.5, "quantity": 2000000}]}`, http.StatusUnprocessableEntity},
		{"unknown context", `{"context": "../../escaped", "sheetWidth": 13, "images": [{"id": "a", "width": 2, "height": 2, "quantity": 1}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rec, _ := newTestServer(t)
			w := do(t, s.Router(), http.MethodPost, "/api/nesting", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
			assert.Empty(t, rec.calls)
		})
	}
}

func TestTelemetry_AlwaysOK(t *testing.T) {
	s, rec, _ := newTestServer(t)
	h := s.Router()

	w := do(t, h, http.MethodPost, "/api/nesting-telemetry", `{"context": "tester", "sheetWidth": 17, "result": {"strategy": "shelf", "utilization": 0.9}}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "tester", rec.calls[0].context)
	assert.Equal(t, 0.9, rec.calls[0].result.Utilization)

	w = do(t, h, http.MethodPost, "/api/nesting-telemetry", `garbage`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.Len(t, rec.calls, 1)
}

func TestTelemetry_ContextCannotLeaveTelemetryDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "logs", "gangnest")
	sink := telemetry.NewFileSink(dir, true)
	rec := telemetry.NewRecorder(sink, 8)
	cfg := model.DefaultAppConfig()
	e := engine.New(engine.DefaultRegistry(), cfg.Engine)
	s := New(cfg, e, engine.NewComparator(e, 1), rec, report.New(sink, 10, 0.05))
	h := s.Router()

	images := `[{"id": "a", "width": 2, "height": 2, "quantity": 1}]`
	w := do(t, h, http.MethodPost, "/api/nesting-telemetry", `{"context": "../../escaped", "sheetWidth": 13, "images": `+images+`}`)
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodPost, "/api/nesting", `{"context": "../../escaped", "sheetWidth": 13, "images": `+images+`}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	w = do(t, h, http.MethodPost, "/api/nesting-telemetry", `{"context": "tester", "sheetWidth": 13, "images": `+images+`}`)
	assert.Equal(t, http.StatusOK, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rec.Close(ctx))

	_, err := os.Stat(filepath.Join(root, "escaped-13in.json"))
	assert.True(t, os.IsNotExist(err))
	records, err := sink.Records(ctx, model.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.ContextTester, records[0].Context)
	fixtures, err := sink.LoadFixtures()
	require.NoError(t, err)
	require.Len(t, fixtures, 1)
	assert.Equal(t, "tester-13in", fixtures[0].Name)
}

func TestCompare(t *testing.T) {
	s, _, _ := newTestServer(t)
	body := `{
		"sheetWidth": 13,
		"strategies": ["skyline", "shelf", "nope"],
		"images": [
			{"id": "a", "width": 6, "height": 4, "quantity": 1},
			{"id": "b", "width": 3, "height": 3, "quantity": 1},
			{"id": "c", "width": 5, "height": 2, "quantity": 1},
			{"id": "d", "width": 2, "height": 7, "quantity": 1},
			{"id": "e", "width": 4, "height": 4, "quantity": 1}
		]
	}`
	w := do(t, s.Router(), http.MethodPost, "/api/compare", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var run model.ComparisonRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	require.Len(t, run.Entries, 3)
	assert.ElementsMatch(t, []string{"shelf", "skyline"}, run.Ranking)
	assert.Equal(t, "nope", run.Entries[2].Strategy)
	assert.NotEmpty(t, run.Entries[2].Error)
}

func TestCompare_DefaultsAndScoring(t *testing.T) {
	s, _, _ := newTestServer(t)
	images := `"images": [{"id": "a", "width": 2, "height": 3, "quantity": 3}]`

	w := do(t, s.Router(), http.MethodPost, "/api/compare", `{"sheetWidth": 13, "scoring": "economy", `+images+`}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var run model.ComparisonRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, "economy", run.Scoring)
	assert.Len(t, run.Entries, len(s.Config.Compare.Strategies))

	w = do(t, s.Router(), http.MethodPost, "/api/compare", `{"sheetWidth": 13, "scoring": "vibes", `+images+`}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReport(t *testing.T) {
	s, _, sink := newTestServer(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, u := range []float64{0.9, 0.88, 0.91, 0.6} {
		require.NoError(t, sink.Append(ctx, model.TelemetryRecord{
			RunID:      string(rune('a' + i)),
			Timestamp:  base.Add(time.Duration(i) * time.Hour),
			Context:    model.ContextLive,
			SheetWidth: 13,
			Result:     model.NestingResult{Strategy: "shelf", Utilization: u, PieceCount: 1, PlacedCount: 1},
		}))
	}
	h := s.Router()

	w := do(t, h, http.MethodGet, "/api/report?context=live&sheetWidth=13", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var d report.Diagnostics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, 4, d.Runs)
	require.Len(t, d.Regressions, 1)
	assert.Equal(t, "d", d.Regressions[0].RunID)

	w = do(t, h, http.MethodGet, "/api/report?until=2026-01-01T02:00:00Z", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, 2, d.Runs)

	w = do(t, h, http.MethodGet, "/api/report?format=markdown", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "# Nesting Algorithm Performance Report"))
	assert.Contains(t, w.Header().Get("Content-Type"), "text/markdown")

	w = do(t, h, http.MethodGet, "/api/report?format=xlsx", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")

	w = do(t, h, http.MethodGet, "/api/report?format=html", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<html")

	for _, q := range []string{"sheetWidth=abc", "since=yesterday", "limit=-1", "format=pdf"} {
		w = do(t, h, http.MethodGet, "/api/report?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}
