package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/api"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration/sqlitestore"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fsutil"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fusion"
)

type serveOptions struct {
	listen  string
	dbPath  string
	auto    bool
	userID  string
	sources sourceOptions
}

func newServeCommand(root *rootOptions) *cobra.Command {
	o := &serveOptions{listen: ":8080", sources: sourceOptions{synthetic: 2, seed: 1}}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the diagnostics API over live sources",
		Long: `Serve the diagnostics API. Each POST /api/measure runs one fusion cycle
over the configured sources; with --auto the daemon also runs cycles
continuously at the engine's current processing interval.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return o.run(ctx, root)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.listen, "listen", o.listen, "listen address")
	f.StringVar(&o.dbPath, "db", "calibration.db", "calibration database; empty keeps profiles in memory")
	f.BoolVar(&o.auto, "auto", false, "run fusion cycles continuously")
	f.StringVar(&o.userID, "user", "", "user profile applied to continuous cycles")
	f.StringToStringVar(&o.sources.remotes, "remote", nil, "remote trackers as id=url")
	f.StringVar(&o.sources.replay, "replay", "", "looping JSON-lines replay file")
	f.IntVar(&o.sources.synthetic, "synthetic", o.sources.synthetic, "number of synthetic trackers")
	f.Uint64Var(&o.sources.seed, "seed", o.sources.seed, "seed for synthetic trackers")
	return cmd
}

func (o *serveOptions) run(ctx context.Context, root *rootOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}

	var (
		store calibration.Store = calibration.NewMemoryStore()
		db    *sql.DB
	)
	if o.dbPath != "" {
		st, err := sqlitestore.Open(o.dbPath)
		if err != nil {
			return err
		}
		defer st.Close()
		store, db = st, st.DB()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	eng, err := newEngine(cfg, store, reg)
	if err != nil {
		return err
	}
	srcs, err := newSourceSet(fsutil.OSFileSystem{}, o.sources)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"sources":  srcs.ids(),
		"strategy": eng.orch.Config().Strategy,
		"db":       o.dbPath,
	}).Info("engine ready")

	mux, err := api.NewServer(api.Deps{
		Orchestrator: eng.orch,
		Validator:    eng.validator,
		Calibration:  eng.calibration,
		Monitor:      eng.monitor,
		Recovery:     eng.recovery,
		Sources:      srcs,
		Gatherer:     reg,
		DB:           db,
	}).ServeMux()
	if err != nil {
		return err
	}

	var background func(context.Context)
	if o.auto {
		background = func(ctx context.Context) {
			runCycles(ctx, eng.orch, srcs, o.userID, cfg.GetBaseProcessingInterval())
			log.Info("cycle routine terminated")
		}
	}
	server := &http.Server{
		Addr:              o.listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := serveHTTP(ctx, server, background); err != nil {
		return err
	}
	log.Info("graceful shutdown complete")
	return nil
}

// serveHTTP runs server until ctx is done or it fails to serve. background,
// when non-nil, runs alongside it and has stopped by the time serveHTTP
// returns on either path.
func serveHTTP(ctx context.Context, server *http.Server, background func(context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if background != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			background(ctx)
		}()
	}

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
	case <-ctx.Done():
	}
	log.Info("shutting down HTTP server...")

	shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown error")
		if err := server.Close(); err != nil {
			log.WithError(err).Warn("HTTP server force close error")
		}
	}
	cancel()
	wg.Wait()
	return nil
}

// runCycles measures continuously, sleeping the orchestrator's current
// processing interval between cycles so degraded mode slows the loop. base
// applies until the monitor has recommended an interval.
func runCycles(ctx context.Context, o *fusion.Orchestrator, p api.SourceProvider, userID string, base time.Duration) {
	for {
		queries, cond := p.Next()
		out := o.Measure(ctx, fusion.Request{UserID: userID, Context: cond, Sources: queries})
		log.WithFields(logrus.Fields{
			"source":  out.Result.Source,
			"quality": out.Result.Quality,
			"valid":   out.Validation.IsValid,
		}).Debug("cycle")

		interval := o.Settings().ProcessingInterval
		if interval <= 0 {
			interval = base
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
