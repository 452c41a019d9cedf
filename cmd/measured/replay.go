package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/calibration/sqlitestore"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fsutil"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fusion"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/sources"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/units"
)

type replayOptions struct {
	userID   string
	dbPath   string
	strategy string
	units    string
	asJSON   bool
	fsys     fsutil.FileSystem
}

func newReplayCommand(root *rootOptions) *cobra.Command {
	o := &replayOptions{units: units.CM, fsys: fsutil.OSFileSystem{}}
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Run a recorded session through the full measure pipeline",
		Long: `Replay reads a JSON-lines session, one record per source per cycle:

  {"cycle":0,"source":"ar","shoulder_width":44.1,"height":178.2,"confidence":0.9}
  {"cycle":0,"source":"vision","error":"tracking lost"}

and prints one line per cycle with the fused result and its validation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, root, args[0])
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.userID, "user", "", "apply this user's calibration profile")
	f.StringVar(&o.dbPath, "db", "", "calibration database holding --user's profile")
	f.StringVar(&o.strategy, "strategy", "", "override the fusion strategy (best, consensus, weighted)")
	f.StringVar(&o.units, "units", o.units, "length units for the table ("+units.GetValidUnitsString()+")")
	f.BoolVar(&o.asJSON, "json", false, "print each outcome as a JSON line")
	return cmd
}

func (o *replayOptions) run(cmd *cobra.Command, root *rootOptions, path string) error {
	if !units.IsValid(o.units) {
		return fmt.Errorf("invalid units %q; must be one of: %s", o.units, units.GetValidUnitsString())
	}
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	if o.strategy != "" {
		if _, err := fusion.ParseStrategy(o.strategy); err != nil {
			return err
		}
		cfg.FusionStrategy = &o.strategy
	}

	var store calibration.Store = calibration.NewMemoryStore()
	if o.dbPath != "" {
		st, err := sqlitestore.Open(o.dbPath)
		if err != nil {
			return err
		}
		defer st.Close()
		store = st
	}

	rp, err := sources.LoadReplay(o.fsys, path)
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg, store, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var tw *tabwriter.Writer
	if !o.asJSON {
		tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "CYCLE\tSOURCE\tSHOULDER (%[1]s)\tHEIGHT (%[1]s)\tCONF\tQUALITY\tVALID\tANOMALIES\n", o.units)
		out = tw
	}
	for {
		step, ok := rp.Next()
		if !ok {
			break
		}
		res := eng.orch.Measure(cmd.Context(), fusion.Request{
			UserID:  o.userID,
			Context: step.Context,
			Sources: step.Queries,
		})
		if err := printOutcome(out, step.Cycle, res, o.units, o.asJSON); err != nil {
			return err
		}
	}
	if tw != nil {
		return tw.Flush()
	}
	return nil
}

// printOutcome writes one cycle. JSON output always carries centimetres; the
// table converts to unit.
func printOutcome(w io.Writer, cycle int, out fusion.Outcome, unit string, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(struct {
			Cycle int `json:"cycle"`
			fusion.Outcome
		}{cycle, out})
	}
	m := out.Result.Measurements
	_, err := fmt.Fprintf(w, "%d\t%s\t%.1f\t%.1f\t%.2f\t%s\t%t\t%d\n",
		cycle, out.Result.Source, units.ConvertLength(m.ShoulderWidth, unit), units.ConvertLength(m.Height, unit), m.Confidence,
		out.Result.Quality, out.Validation.IsValid, len(out.Validation.Anomalies))
	return err
}
