package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icssync/internal/syncer"
)

type staticReports struct{ rep *syncer.Report }

func (s staticReports) LastReport() *syncer.Report { return s.rep }

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(staticReports{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStatusBeforeFirstCycle(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(staticReports{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStatusServesLastReport(t *testing.T) {
	rep := &syncer.Report{
		CycleID: "c1",
		Counts:  syncer.Counts{Created: 2, Failed: 1},
		Sources: []syncer.SourceReport{{Name: "team", Error: "fetch failed"}},
	}
	rec := httptest.NewRecorder()
	NewRouter(staticReports{rep}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "c1", got["cycle_id"])
	assert.EqualValues(t, 2, got["created"])
	assert.EqualValues(t, 1, got["failed"])
	sources := got["sources"].([]any)
	require.Len(t, sources, 1)
	assert.Equal(t, "fetch failed", sources[0].(map[string]any)["error"])
}

func TestUnknownRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(staticReports{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
