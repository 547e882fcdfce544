// Package stitch composes the many overlapping short time-window
// fragments produced by the dispatcher into one normalized long-range
// series per (keyword, location): duplicates are averaged, overlapping
// fragments are chained into layers with linear rescaling on the
// overlap, and multiple hourly layers are anchored to a daily series.
package stitch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nsg-ethz/SIFT/internal/trends"
)

// FragmentSource is the slice of the persistence layer the engine reads
// from.
type FragmentSource interface {
	Fragments(keywordID int64, geo, resolutionTag string) ([]trends.Fragment, error)
	FragmentLocations(keywordID int64) ([]string, error)
}

// Series is a stitched time series: labels ascending, values parallel.
type Series struct {
	Labels []time.Time
	Values []float64
}

// fragment is a deduplicated window with reconstructed labels.
type fragment struct {
	rid    int64
	start  time.Time
	end    time.Time
	labels []time.Time
	values []float64
}

// Engine stitches fragments for one keyword at a time.
type Engine struct {
	Source FragmentSource
}

// Stitch produces the normalized series for one (keyword, location).
// A nil series with nil error means no usable data (nothing collected,
// or anchoring failed); the condition has already been logged. geo is
// the location ISO code, empty for worldwide.
func (e *Engine) Stitch(keywordID int64, geo string) (*Series, error) {
	raw, err := e.Source.Fragments(keywordID, geo, trends.TagHourly)
	if err != nil {
		return nil, err
	}

	frags, err := averageDuplicates(raw)
	if err != nil {
		return nil, fmt.Errorf("keyword %d geo %q: %w", keywordID, geo, err)
	}
	if len(frags) == 0 {
		return nil, nil
	}

	layers, err := stitchLayers(buildLayers(frags), false)
	if err != nil {
		return nil, fmt.Errorf("keyword %d geo %q: %w", keywordID, geo, err)
	}
	if len(layers) == 0 {
		return nil, nil
	}
	if len(layers) == 1 {
		return normalize(layers[0]), nil
	}

	// More than one hourly layer: the layers have no common amplitude,
	// a lower-resolution anchor is needed.
	rawDaily, err := e.Source.Fragments(keywordID, geo, trends.TagDaily)
	if err != nil {
		return nil, err
	}

	if len(rawDaily) == 0 {
		// Degraded fallback: concatenate without rescaling across the
		// gaps. Never invent an anchor.
		slog.Warn("No daily anchor, emitting unanchored concatenation",
			"k_id", keywordID, "geo", geo, "hourly_layers", len(layers))
		s, err := stitchChain(frags, true)
		if err != nil {
			return nil, fmt.Errorf("keyword %d geo %q: %w", keywordID, geo, err)
		}
		return normalize(s), nil
	}

	dailyFrags, err := averageDuplicates(rawDaily)
	if err != nil {
		return nil, fmt.Errorf("keyword %d geo %q daily: %w", keywordID, geo, err)
	}
	dailyLayers, err := stitchLayers(buildLayersIgnoringGaps(dailyFrags), true)
	if err != nil {
		return nil, fmt.Errorf("keyword %d geo %q daily: %w", keywordID, geo, err)
	}
	if len(dailyLayers) != 1 {
		slog.Warn("Daily anchor did not stitch into a single layer, skipping",
			"k_id", keywordID, "geo", geo, "daily_layers", len(dailyLayers))
		return nil, nil
	}

	anchored, ok := anchorLayers(layers, dailyLayers[0])
	if !ok {
		slog.Warn("Anchoring failed, skipping keyword/location",
			"k_id", keywordID, "geo", geo)
		return nil, nil
	}
	return normalize(anchored), nil
}

// averageDuplicates groups fragments by exact window and element-wise
// averages each group. Vectors inside a group must agree in length:
// a mismatch inside an identical window is corrupt data, not missing
// data. The result is ordered by window start, labels reconstructed.
func averageDuplicates(raw []trends.Fragment) ([]fragment, error) {
	type group struct {
		rid   int64
		start time.Time
		end   time.Time
		sum   []float64
		n     int
	}

	var order []string
	groups := make(map[string]*group)

	for _, f := range raw {
		key := f.Start.Format(time.DateTime) + "/" + f.End.Format(time.DateTime)
		g, ok := groups[key]
		if !ok {
			g = &group{rid: f.RequestID, start: f.Start, end: f.End, sum: make([]float64, len(f.Values))}
			groups[key] = g
			order = append(order, key)
		}
		if len(f.Values) != len(g.sum) {
			return nil, fmt.Errorf("duplicate window %s has %d samples, earlier request %d had %d",
				key, len(f.Values), g.rid, len(g.sum))
		}
		for i, v := range f.Values {
			g.sum[i] += v
		}
		g.n++
	}

	out := make([]fragment, 0, len(order))
	for _, key := range order {
		g := groups[key]
		values := make([]float64, len(g.sum))
		for i, v := range g.sum {
			values[i] = v / float64(g.n)
		}

		labels, err := trends.RestoreLabels(g.start, g.end, len(values))
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", g.rid, err)
		}

		out = append(out, fragment{rid: g.rid, start: g.start, end: g.end, labels: labels, values: values})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out, nil
}

// overlapMax returns the maximum value a fragment takes on the shared
// label set, and whether any sharing exists.
func overlapMax(f fragment, shared map[int64]bool) (float64, bool) {
	found := false
	max := 0.0
	for i, l := range f.labels {
		if !shared[l.Unix()] {
			continue
		}
		if !found || f.values[i] > max {
			max = f.values[i]
		}
		found = true
	}
	return max, found
}

func sharedLabels(a, b fragment) map[int64]bool {
	in := make(map[int64]bool, len(a.labels))
	for _, l := range a.labels {
		in[l.Unix()] = true
	}
	shared := make(map[int64]bool)
	for _, l := range b.labels {
		if in[l.Unix()] {
			shared[l.Unix()] = true
		}
	}
	return shared
}

// buildLayers scans fragments in window order and splits them into
// maximal chains of anchorable overlaps. A fragment with no labels
// terminates the current layer and contributes nothing itself; a new
// layer also starts when consecutive fragments share no labels or when
// either side of the overlap is identically zero (no anchoring signal).
func buildLayers(frags []fragment) [][]fragment {
	var layers [][]fragment
	var cur []fragment

	flush := func() {
		if len(cur) > 0 {
			layers = append(layers, cur)
			cur = nil
		}
	}

	for _, f := range frags {
		if len(f.labels) == 0 {
			flush()
			continue
		}
		if len(cur) == 0 {
			cur = []fragment{f}
			continue
		}

		prev := cur[len(cur)-1]
		shared := sharedLabels(prev, f)
		if len(shared) == 0 {
			flush()
			cur = []fragment{f}
			continue
		}
		prevMax, _ := overlapMax(prev, shared)
		nextMax, _ := overlapMax(f, shared)
		if prevMax == 0 || nextMax == 0 {
			flush()
			cur = []fragment{f}
			continue
		}

		cur = append(cur, f)
	}
	flush()

	return layers
}

// buildLayersIgnoringGaps keeps everything in one chain except empty
// fragments. Used for the daily anchor, where the no-overlap split is
// disabled.
func buildLayersIgnoringGaps(frags []fragment) [][]fragment {
	var kept []fragment
	for _, f := range frags {
		if len(f.labels) > 0 {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return [][]fragment{kept}
}

func stitchLayers(layers [][]fragment, ignoreNoOverlap bool) ([]Series, error) {
	out := make([]Series, 0, len(layers))
	for _, l := range layers {
		s, err := stitchChain(l, ignoreNoOverlap)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// stitchChain merges consecutive fragments left to right. For each
// fragment after the first, the scaling factor is the ratio of the two
// sides' maxima on the overlap region; the accumulated series keeps its
// own values on the overlap and takes the rescaled remainder. With
// ignoreNoOverlap, gaps and zero anchors concatenate at scale 1 instead
// of failing.
func stitchChain(frags []fragment, ignoreNoOverlap bool) (Series, error) {
	acc := make(map[int64]float64)
	var order []time.Time

	for _, f := range frags {
		if len(acc) == 0 {
			for i, l := range f.labels {
				acc[l.Unix()] = f.values[i]
				order = append(order, l)
			}
			continue
		}

		shared := make(map[int64]bool)
		for _, l := range f.labels {
			if _, ok := acc[l.Unix()]; ok {
				shared[l.Unix()] = true
			}
		}

		var scale float64
		switch {
		case len(shared) == 0:
			if !ignoreNoOverlap {
				return Series{}, fmt.Errorf("request %d shares no labels with the chain", f.rid)
			}
			scale = 1
		default:
			newMax, _ := overlapMax(f, shared)
			accMax := 0.0
			for unix := range shared {
				if v := acc[unix]; v > accMax {
					accMax = v
				}
			}
			if newMax == 0 || accMax == 0 {
				if !ignoreNoOverlap {
					return Series{}, fmt.Errorf("request %d overlaps the chain where one side is zero", f.rid)
				}
				scale = 1
			} else {
				scale = accMax / newMax
			}
		}

		for i, l := range f.labels {
			if shared[l.Unix()] {
				continue
			}
			acc[l.Unix()] = f.values[i] * scale
			order = append(order, l)
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	s := Series{Labels: order, Values: make([]float64, len(order))}
	for i, l := range order {
		s.Values[i] = acc[l.Unix()]
	}
	return s, nil
}

// normalize rescales a series so its maximum is 100.
func normalize(s Series) *Series {
	if len(s.Values) == 0 {
		return nil
	}
	max := s.Values[0]
	for _, v := range s.Values[1:] {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return &s
	}
	out := Series{Labels: s.Labels, Values: make([]float64, len(s.Values))}
	for i, v := range s.Values {
		out.Values[i] = 100 * v / max
	}
	return &out
}

// StateName is the analytics label for a location; worldwide series go
// under "world".
func StateName(geo string) string {
	if geo == "" {
		return "world"
	}
	return geo
}

// StitchKeyword stitches every location that has fragments for the
// keyword and writes the results to the sink. Per-location work runs
// concurrently; persistence is serialized at the end.
func (e *Engine) StitchKeyword(ctx context.Context, keywordID int64, sink *Sink) error {
	locs, err := e.Source.FragmentLocations(keywordID)
	if err != nil {
		return err
	}

	results := make([]*Series, len(locs))
	g, _ := errgroup.WithContext(ctx)
	for i, loc := range locs {
		g.Go(func() error {
			s, err := e.Stitch(keywordID, loc)
			results[i] = s
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, s := range results {
		if s == nil {
			continue
		}
		if err := sink.Write(keywordID, StateName(locs[i]), s); err != nil {
			return err
		}
		slog.Info("Stitched series written",
			"k_id", keywordID, "state", StateName(locs[i]), "points", len(s.Labels))
	}

	return nil
}
