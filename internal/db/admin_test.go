package db

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusion.capture/internal/protocol"
	"github.com/banshee-data/fusion.capture/internal/testutil"
)

func adminMux(t *testing.T, db *DB) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))
	return mux
}

func TestGetDatabaseStats(t *testing.T) {
	db := setupTestDB(t)
	store, err := db.StartSession(SessionInfo{ID: "s"})
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(t, store.AppendTelemetry(protocol.TelemetryRecord{Timestamp: int64(i)}))
	}

	stats, err := db.GetDatabaseStats()
	require.NoError(t, err)
	assert.Greater(t, stats.TotalSizeMB, 0.0)

	counts := make(map[string]int64)
	for _, table := range stats.Tables {
		counts[table.Name] = table.RowCount
	}
	assert.Equal(t, int64(5), counts["telemetry"])
	assert.Equal(t, int64(1), counts["sessions"])
	assert.Contains(t, counts, "frames")
	assert.Contains(t, counts, "events")
	assert.Contains(t, counts, "schema_migrations")
}

func TestAdminRoutes_DBStats(t *testing.T) {
	db := setupTestDB(t)
	mux := adminMux(t, db)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewLocalRequest(http.MethodGet, "/debug/db-stats"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)

	var stats DatabaseStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.NotEmpty(t, stats.Tables)
}

func TestAdminRoutes_Sessions(t *testing.T) {
	db := setupTestDB(t)
	mux := adminMux(t, db)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewLocalRequest(http.MethodGet, "/debug/sessions"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	_, err := db.StartSession(SessionInfo{ID: "abc", Variant: "stream"})
	require.NoError(t, err)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewLocalRequest(http.MethodGet, "/debug/sessions"))
	var sessions []SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "abc", sessions[0].ID)
	assert.Equal(t, "stream", sessions[0].Variant)
}

func TestAdminRoutes_Backup(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.StartSession(SessionInfo{ID: "backed-up"})
	require.NoError(t, err)
	mux := adminMux(t, db)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewLocalRequest(http.MethodGet, "/debug/backup"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment; filename=backup-")

	gz, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("SQLite format 3\x00")), "backup is not a sqlite file")
}

func TestAdminRoutes_DebugIndexListsRoutes(t *testing.T) {
	db := setupTestDB(t)
	mux := adminMux(t, db)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, testutil.NewLocalRequest(http.MethodGet, "/debug/"))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	body := w.Body.String()
	for _, route := range []string{"tailsql/", "backup", "db-stats", "sessions"} {
		assert.Contains(t, body, route)
	}
}

func TestAdminRoutes_ClosedDB(t *testing.T) {
	db := setupTestDB(t)
	mux := adminMux(t, db)
	require.NoError(t, db.Close())

	for _, path := range []string{"/debug/db-stats", "/debug/sessions", "/debug/backup"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, testutil.NewLocalRequest(http.MethodGet, path))
		testutil.AssertStatusCode(t, w.Code, http.StatusInternalServerError)
	}
}
