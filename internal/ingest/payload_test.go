package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/nsg-ethz/SIFT/internal/trends"
)

const fullPayload = `{
	"time": {
		"2022-01-03T00:00:00": 30,
		"2022-01-01T00:00:00": 10,
		"2022-01-02T00:00:00": 20
	},
	"geo": {
		"COUNTRY": {"US": ["United States", 100]},
		"states": {"US-CA": ["California", 88], "US-NY": ["New York", 61]}
	},
	"related": {
		"query": {
			"top": [["flu shot", 100]],
			"rising": [["flu symptoms", 250]]
		},
		"topic": {
			"top": [["/m/0cycc", "Influenza", "Disease", 100]],
			"rising": []
		}
	}
}`

func TestParseFullPayload(t *testing.T) {
	p, err := Parse([]byte(fullPayload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if len(p.Samples) != 3 {
		t.Fatalf("%d samples, want 3", len(p.Samples))
	}
	// Samples come back ordered by label regardless of map order.
	if p.Samples[0].Value != 10 || p.Samples[2].Value != 30 {
		t.Errorf("samples not ordered by label: %+v", p.Samples)
	}

	// Scope names are normalized to lower case.
	if _, ok := p.Geo["country"]; !ok {
		t.Errorf("COUNTRY scope not normalized, got %v", p.Geo)
	}
	if v := p.Geo["states"]["US-CA"]; v.Name != "California" || v.Value != 88 {
		t.Errorf("states/US-CA = %+v", v)
	}

	if len(p.Query.Top) != 1 || p.Query.Top[0].Query != "flu shot" {
		t.Errorf("query top = %+v", p.Query.Top)
	}
	if len(p.Query.Rising) != 1 || p.Query.Rising[0].Value != 250 {
		t.Errorf("query rising = %+v", p.Query.Rising)
	}
	if len(p.Topic.Top) != 1 {
		t.Fatalf("topic top = %+v", p.Topic.Top)
	}
	tp := p.Topic.Top[0]
	if tp.MID != "/m/0cycc" || tp.Title != "Influenza" || tp.Topic != "Disease" || tp.Value != 100 {
		t.Errorf("topic ref = %+v", tp)
	}
}

func TestParseRejectsUnknownScope(t *testing.T) {
	_, err := Parse([]byte(`{"geo":{"planet":{"X":["X",1]}}}`))
	if err == nil {
		t.Fatal("Parse accepted an unknown geo scope")
	}
}

func TestParseRejectsMalformedTuples(t *testing.T) {
	cases := []string{
		`{"geo":{"states":{"US-CA":["California"]}}}`,
		`{"related":{"query":{"top":[["only"]]}}}`,
		`{"related":{"topic":{"top":[["m","t","topic"]]}}}`,
	}
	for _, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Errorf("Parse accepted malformed tuple in %s", raw)
		}
	}
}

func TestParseRejectsBadLabel(t *testing.T) {
	_, err := Parse([]byte(`{"time":{"yesterday":1}}`))
	if err == nil {
		t.Fatal("Parse accepted an unparseable time label")
	}
}

func TestValidateAcceptsMatchingLabels(t *testing.T) {
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * 24 * time.Hour)

	// 3 samples over 48h snap to the daily cadence exactly.
	p, err := Parse([]byte(`{"time":{
		"2022-01-01T00:00:00": 1,
		"2022-01-02T00:00:00": 2,
		"2022-01-03T00:00:00": 3}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	labels, err := p.Validate(start, end)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(labels) != 3 {
		t.Errorf("%d labels, want 3", len(labels))
	}
}

func TestValidateRejectsShiftedLabels(t *testing.T) {
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * 24 * time.Hour)

	p, err := Parse([]byte(`{"time":{
		"2022-01-01T06:00:00": 1,
		"2022-01-02T06:00:00": 2,
		"2022-01-03T06:00:00": 3}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	_, err = p.Validate(start, end)
	if !errors.Is(err, trends.ErrUnreconstructibleLabels) {
		t.Fatalf("expected ErrUnreconstructibleLabels, got %v", err)
	}
}
