package api

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

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/recovery"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/version"
)

// AttachAdminRoutes mounts the tsweb debug index under /debug/ with live SQL
// over the calibration database, a backup download and engine key values.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://calibration.db", s.deps.DB, &tailsql.DBOptions{
		Label: "Calibration DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the calibration database now", http.HandlerFunc(s.backup))

	o := s.deps.Orchestrator
	debug.KV("Build", version.String())
	debug.KV("Fusion strategy", string(o.Config().Strategy))
	debug.KVFunc("History", func() any {
		return fmt.Sprintf("%d/%d", len(o.History()), o.HistoryCap())
	})
	debug.KVFunc("Degraded", func() any {
		st := o.Settings()
		if !st.Degraded() {
			return "no"
		}
		return fmt.Sprintf("yes %v", st.Reasons)
	})
	if s.deps.Recovery != nil {
		debug.KVFunc("Open breakers", func() any {
			n := 0
			for _, b := range s.deps.Recovery.Snapshot() {
				if b.State != recovery.CircuitClosed {
					n++
				}
			}
			return n
		})
	}
	return nil
}

func (s *Server) backup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "calibration-backup")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.log.WithError(err).Warn("failed to remove backup dir")
		}
	}()

	name := fmt.Sprintf("calibration-%d.db", time.Now().Unix())
	path := filepath.Join(dir, name)
	if _, err := s.deps.DB.ExecContext(r.Context(), "VACUUM INTO ?", path); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		s.log.WithError(err).Warn("backup transfer interrupted")
	}
}
