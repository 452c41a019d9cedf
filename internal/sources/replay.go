// Package sources adapts external trackers into fusion queries: recorded
// replay files, plain functions, a seeded synthetic tracker and remote
// trackers reachable over HTTP.
package sources

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fsutil"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fusion"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/recovery"
)

// maxReplayLine bounds a single JSON line in a replay file.
const maxReplayLine = 64 * 1024

// Record is one line of a replay file: a single source's answer in one
// cycle. A non-empty Error replays a failed query; Kind set to hardware,
// permission or resource makes that failure critical.
type Record struct {
	Cycle         int                  `json:"cycle"`
	Source        measurement.SourceID `json:"source"`
	ShoulderWidth float64              `json:"shoulder_width"`
	Height        float64              `json:"height"`
	Confidence    float64              `json:"confidence"`
	Error         string               `json:"error,omitempty"`
	Kind          string               `json:"kind,omitempty"`
	// Context, when present on any record of a cycle, is that cycle's
	// acquisition context.
	Context *measurement.Context `json:"context,omitempty"`
}

// Step is one replayed cycle.
type Step struct {
	Cycle   int
	Context measurement.Context
	// Queries has an entry for every source in the file. Sources without a
	// record in this cycle answer nil.
	Queries map[measurement.SourceID]fusion.Query
}

type replayCycle struct {
	index   int
	context measurement.Context
	records map[measurement.SourceID]Record
}

// Replay plays back a recorded session cycle by cycle. It is safe for
// concurrent use.
type Replay struct {
	ids    []measurement.SourceID
	cycles []replayCycle

	mu   sync.Mutex
	pos  int
	loop bool
}

// ParseReplay reads JSON lines from r. Blank lines and lines starting with
// '#' are skipped. Cycles are played in ascending cycle order.
func ParseReplay(r io.Reader) (*Replay, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxReplayLine)

	byCycle := make(map[int]*replayCycle)
	seen := make(map[measurement.SourceID]bool)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("replay line %d: %w", line, err)
		}
		if rec.Source == "" {
			return nil, fmt.Errorf("replay line %d: missing source", line)
		}
		c, ok := byCycle[rec.Cycle]
		if !ok {
			c = &replayCycle{
				index:   rec.Cycle,
				context: measurement.IdealContext(),
				records: make(map[measurement.SourceID]Record),
			}
			byCycle[rec.Cycle] = c
		}
		if rec.Context != nil {
			c.context = *rec.Context
		}
		c.records[rec.Source] = rec
		seen[rec.Source] = true
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading replay: %w", err)
	}
	if len(byCycle) == 0 {
		return nil, errors.New("replay contains no records")
	}

	rp := &Replay{cycles: make([]replayCycle, 0, len(byCycle))}
	for _, c := range byCycle {
		rp.cycles = append(rp.cycles, *c)
	}
	slices.SortFunc(rp.cycles, func(a, b replayCycle) int { return a.index - b.index })
	for id := range seen {
		rp.ids = append(rp.ids, id)
	}
	slices.Sort(rp.ids)
	return rp, nil
}

// LoadReplay reads a replay file from fsys.
func LoadReplay(fsys fsutil.FileSystem, path string) (*Replay, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()
	return ParseReplay(f)
}

// SetLoop makes Next restart from the first cycle once the file is exhausted.
func (r *Replay) SetLoop(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loop = on
}

// Len returns the number of cycles in the file.
func (r *Replay) Len() int { return len(r.cycles) }

// Sources returns every source id in the file, sorted.
func (r *Replay) Sources() []measurement.SourceID { return slices.Clone(r.ids) }

// Rewind restarts playback from the first cycle.
func (r *Replay) Rewind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pos = 0
}

// Next returns the next cycle. It reports false once every cycle has been
// played, unless looping.
func (r *Replay) Next() (Step, bool) {
	r.mu.Lock()
	if r.pos >= len(r.cycles) {
		if !r.loop {
			r.mu.Unlock()
			return Step{}, false
		}
		r.pos = 0
	}
	c := r.cycles[r.pos]
	r.pos++
	r.mu.Unlock()

	step := Step{
		Cycle:   c.index,
		Context: c.context,
		Queries: make(map[measurement.SourceID]fusion.Query, len(r.ids)),
	}
	for _, id := range r.ids {
		rec, ok := c.records[id]
		if !ok {
			step.Queries[id] = Func(func() (measurement.RawEstimate, bool) { return measurement.RawEstimate{}, false })
			continue
		}
		step.Queries[id] = rec.query()
	}
	return step, true
}

func (rec Record) query() fusion.Query {
	if rec.Error != "" {
		err := replayError(rec)
		return func(context.Context) (*measurement.RawEstimate, error) { return nil, err }
	}
	est := measurement.RawEstimate{
		Source:        rec.Source,
		ShoulderWidth: rec.ShoulderWidth,
		Height:        rec.Height,
		Confidence:    rec.Confidence,
	}
	return func(context.Context) (*measurement.RawEstimate, error) {
		e := est
		return &e, nil
	}
}

func replayError(rec Record) error {
	cause := errors.New(rec.Error)
	op := "replay " + string(rec.Source)
	switch rec.Kind {
	case "hardware":
		return recovery.Critical(recovery.KindHardware, op, cause)
	case "permission":
		return recovery.Critical(recovery.KindPermission, op, cause)
	case "resource":
		return recovery.Critical(recovery.KindResource, op, cause)
	default:
		return recovery.Recoverable(op, cause)
	}
}
