package stitch

import (
	"testing"
	"time"
)

func hourlySeries(startHour int, values []float64) Series {
	labels := make([]time.Time, len(values))
	for i := range values {
		labels[i] = base.Add(time.Duration(startHour+i) * time.Hour)
	}
	return Series{Labels: labels, Values: values}
}

func dailySeries(days int, value float64) Series {
	labels := make([]time.Time, days+1)
	values := make([]float64, days+1)
	for i := range labels {
		labels[i] = base.Add(time.Duration(i) * 24 * time.Hour)
		values[i] = value
	}
	return Series{Labels: labels, Values: values}
}

func TestAnchorLayersMatchesDailyMean(t *testing.T) {
	// One layer with mean 2, anchored to a constant daily 10: every
	// value is scaled by 5.
	layer := hourlySeries(0, []float64{1, 2, 3, 2, 1, 3})
	daily := dailySeries(14, 10)

	s, ok := anchorLayers([]Series{layer}, daily)
	if !ok {
		t.Fatal("anchorLayers failed on a usable anchor")
	}
	if got := s.Values[2]; got != 15 {
		t.Errorf("anchored value %v, want 3*5 = 15", got)
	}
	if got := mean(s.Values); got != 10 {
		t.Errorf("anchored mean %v, want the daily mean 10", got)
	}
}

func TestAnchorLayersZeroLayerFails(t *testing.T) {
	layer := hourlySeries(0, []float64{0, 0, 0})
	daily := dailySeries(14, 10)

	if _, ok := anchorLayers([]Series{layer}, daily); ok {
		t.Fatal("anchorLayers scaled a zero-valued layer")
	}
}

func TestAnchorLayersZeroDailyFails(t *testing.T) {
	layer := hourlySeries(0, []float64{1, 2, 3})
	daily := dailySeries(14, 0)

	if _, ok := anchorLayers([]Series{layer}, daily); ok {
		t.Fatal("anchorLayers invented values from a zero daily anchor")
	}
}

func TestAnchorLayersDisjointDailyFails(t *testing.T) {
	// The layer sits outside the daily anchor's span entirely.
	layer := hourlySeries(24*30, []float64{1, 2, 3})
	daily := dailySeries(14, 10)

	if _, ok := anchorLayers([]Series{layer}, daily); ok {
		t.Fatal("anchorLayers succeeded without daily coverage")
	}
}

func TestMeanWithin(t *testing.T) {
	daily := dailySeries(4, 0)
	for i := range daily.Values {
		daily.Values[i] = float64(i)
	}

	got, ok := meanWithin(daily, base, base.Add(2*24*time.Hour))
	if !ok {
		t.Fatal("meanWithin found no points in a covered span")
	}
	if got != 1 {
		t.Errorf("meanWithin = %v, want mean(0,1,2) = 1", got)
	}

	if _, ok := meanWithin(daily, base.Add(100*24*time.Hour), base.Add(101*24*time.Hour)); ok {
		t.Error("meanWithin reported points outside the series span")
	}
}
