package main

import (
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fsutil"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/fusion"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/measurement"
	"github.com/Heron-a11y/Priva-Polished-System-sub002/internal/sources"
)

// sourceSet is the daemon's source provider: fixed live trackers plus an
// optional looping replay whose cycle also supplies the context.
type sourceSet struct {
	mu     sync.Mutex
	live   map[measurement.SourceID]fusion.Query
	replay *sources.Replay
}

type sourceOptions struct {
	remotes   map[string]string
	replay    string
	synthetic int
	seed      uint64
}

func newSourceSet(fsys fsutil.FileSystem, o sourceOptions) (*sourceSet, error) {
	s := &sourceSet{live: map[measurement.SourceID]fusion.Query{}}
	for id, url := range o.remotes {
		if strings.TrimSpace(id) == "" || url == "" {
			return nil, fmt.Errorf("invalid remote source %q=%q", id, url)
		}
		s.live[measurement.SourceID(id)] = sources.NewRemote(url, nil).Query()
	}
	for i := 0; i < o.synthetic; i++ {
		id := measurement.SourceID(fmt.Sprintf("synthetic-%d", i+1))
		base := measurement.Measurements{
			ShoulderWidth: 44 + float64(i),
			Height:        178 - float64(i),
			Confidence:    0.85 - 0.1*float64(i%4),
		}
		s.live[id] = sources.NewSynthetic(base, 0.6, 0.1, o.seed+uint64(i)).Query()
	}
	if o.replay != "" {
		rp, err := sources.LoadReplay(fsys, o.replay)
		if err != nil {
			return nil, err
		}
		rp.SetLoop(true)
		s.replay = rp
	}
	if len(s.live) == 0 && s.replay == nil {
		return nil, fmt.Errorf("no sources configured")
	}
	return s, nil
}

// Next implements api.SourceProvider.
func (s *sourceSet) Next() (map[measurement.SourceID]fusion.Query, measurement.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := maps.Clone(s.live)
	cond := measurement.IdealContext()
	if s.replay != nil {
		if step, ok := s.replay.Next(); ok {
			for id, q := range step.Queries {
				out[id] = q
			}
			cond = step.Context
		}
	}
	return out, cond
}

// ids lists the configured source ids, sorted.
func (s *sourceSet) ids() []string {
	var out []string
	for id := range s.live {
		out = append(out, string(id))
	}
	if s.replay != nil {
		for _, id := range s.replay.Sources() {
			out = append(out, string(id))
		}
	}
	sort.Strings(out)
	return out
}
