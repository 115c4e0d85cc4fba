package db

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/fusion.capture/internal/httputil"
	"github.com/banshee-data/fusion.capture/internal/monitoring"
	"github.com/banshee-data/fusion.capture/internal/security"
)

// TableStats describes one table of the store.
type TableStats struct {
	Name     string  `json:"name"`
	RowCount int64   `json:"row_count"`
	SizeMB   float64 `json:"size_mb"`
}

// DatabaseStats is served by /debug/db-stats.
type DatabaseStats struct {
	TotalSizeMB float64      `json:"total_size_mb"`
	Tables      []TableStats `json:"tables"`
}

const bytesPerMB = 1024 * 1024

// GetDatabaseStats reports row counts and on-disk sizes per table. Table
// sizes come from the dbstat virtual table and are zero when it is not
// available.
func (db *DB) GetDatabaseStats() (*DatabaseStats, error) {
	rows, err := db.Query(`
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sizes := make(map[string]int64)
	if rows, err := db.Query(`SELECT name, SUM(pgsize) FROM dbstat GROUP BY name`); err == nil {
		for rows.Next() {
			var name string
			var size int64
			if rows.Scan(&name, &size) == nil {
				sizes[name] = size
			}
		}
		rows.Close()
	}

	stats := &DatabaseStats{Tables: make([]TableStats, 0, len(names))}
	for _, name := range names {
		var count int64
		if err := db.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %q`, name)).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		stats.Tables = append(stats.Tables, TableStats{
			Name:     name,
			RowCount: count,
			SizeMB:   float64(sizes[name]) / bytesPerMB,
		})
	}

	var pageCount, pageSize int64
	if err := db.QueryRow(`PRAGMA page_count`).Scan(&pageCount); err != nil {
		return nil, err
	}
	if err := db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return nil, err
	}
	stats.TotalSizeMB = float64(pageCount*pageSize) / bytesPerMB
	return stats, nil
}

// AttachAdminRoutes mounts tailsql, a gzip backup download, the database
// stats and the session list on the tsweb debug page.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://capture.db", db.DB, &tailsql.DBOptions{
		Label: "Capture DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(db.serveBackup))

	debug.HandleFunc("db-stats", "Database table sizes and row counts", func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.GetDatabaseStats()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to read database stats: %v", err))
			return
		}
		httputil.WriteJSONOK(w, stats)
	})

	debug.HandleFunc("sessions", "Stored capture sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := db.Sessions()
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to list sessions: %v", err))
			return
		}
		if sessions == nil {
			sessions = []SessionRecord{}
		}
		httputil.WriteJSONOK(w, sessions)
	})
	return nil
}

func (db *DB) serveBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("backup-%d.db", time.Now().UnixNano())
	backupPath := filepath.Join(os.TempDir(), name)
	if err := security.ValidateExportPath(backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Invalid backup path: %v", err))
		return
	}
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to create backup: %v", err))
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("failed to remove backup file: %v", err)
		}
	}()

	backupFile, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to open backup file: %v", err))
		return
	}
	defer backupFile.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, backupFile); err != nil {
		monitoring.Logf("backup download interrupted: %v", err)
	}
}
