package stitch

import (
	"sort"
	"time"
)

// anchorLayers rescales each hourly layer so that its mean matches the
// daily anchor's mean over the layer's span, then merges the layers
// into one series. Returns ok=false when any layer has no usable anchor
// (zero-valued hourly layer, or the daily series empty or zero on the
// layer's days); partial data is never emitted.
func anchorLayers(layers []Series, daily Series) (Series, bool) {
	merged := make(map[int64]float64)
	var order []time.Time

	for _, layer := range layers {
		if len(layer.Values) == 0 {
			continue
		}

		layerMean := mean(layer.Values)
		if layerMean == 0 {
			return Series{}, false
		}

		dailyMean, ok := meanWithin(daily, layer.Labels[0], layer.Labels[len(layer.Labels)-1])
		if !ok || dailyMean == 0 {
			return Series{}, false
		}

		scale := dailyMean / layerMean
		for i, l := range layer.Labels {
			if _, seen := merged[l.Unix()]; !seen {
				order = append(order, l)
			}
			merged[l.Unix()] = layer.Values[i] * scale
		}
	}

	if len(order) == 0 {
		return Series{}, false
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	s := Series{Labels: order, Values: make([]float64, len(order))}
	for i, l := range order {
		s.Values[i] = merged[l.Unix()]
	}
	return s, true
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// meanWithin averages the values of s whose labels fall inside
// [from, to] inclusive. ok is false when no label does.
func meanWithin(s Series, from, to time.Time) (float64, bool) {
	sum, n := 0.0, 0
	for i, l := range s.Labels {
		if l.Before(from) || l.After(to) {
			continue
		}
		sum += s.Values[i]
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
