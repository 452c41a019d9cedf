package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration/sqlitestore"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fsutil"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/report"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/security"
)

type plotOptions struct {
	dbPath string
	outDir string
	users  []string
	fsys   fsutil.FileSystem
}

func newPlotAccuracyCommand(_ *rootOptions) *cobra.Command {
	o := &plotOptions{outDir: "plots", fsys: fsutil.OSFileSystem{}}
	cmd := &cobra.Command{
		Use:   "plot-accuracy",
		Short: "Plot raw against calibrated error from stored feedback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			written, err := o.run(cmd.Context())
			for _, p := range written {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.dbPath, "db", "calibration.db", "calibration database")
	f.StringVarP(&o.outDir, "out", "o", o.outDir, "output directory")
	f.StringSliceVar(&o.users, "user", nil, "users to plot; every user with a profile when empty")
	return cmd
}

// run writes one PNG per user and returns the paths written. Users without
// usable feedback are skipped.
func (o *plotOptions) run(ctx context.Context) ([]string, error) {
	st, err := sqlitestore.Open(o.dbPath)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	users := o.users
	if len(users) == 0 {
		if users, err = st.Users(ctx); err != nil {
			return nil, err
		}
	}

	var written []string
	for _, u := range users {
		recs, err := st.Feedback(ctx, u, 0)
		if err != nil {
			return written, err
		}
		p, err := report.AccuracyPlot(u, recs)
		if errors.Is(err, report.ErrNoSamples) {
			log.WithField("user", u).Info("no feedback with known measurements, skipping")
			continue
		}
		if err != nil {
			return written, fmt.Errorf("plot %s: %w", u, err)
		}
		path := filepath.Join(o.outDir, security.SanitizeFilename(u)+"-accuracy.png")
		if err := report.WritePNG(o.fsys, path, p); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
