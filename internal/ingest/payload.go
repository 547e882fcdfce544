// Package ingest turns raw fetcher payloads into structured records:
// stage durably, parse, validate label reconstructibility, then write
// time-series, geo and related-keyword rows in one transaction.
package ingest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nsg-ethz/SIFT/internal/trends"
)

// Sample is one time-series point; the label is the timestamp the
// upstream service printed, the value its interest score.
type Sample struct {
	Label time.Time
	Value int64
}

// GeoValue is the upstream's two-element [name, value] tuple.
type GeoValue struct {
	Name  string
	Value int64
}

// QueryRef is a recommended plain-query keyword: [query, value].
type QueryRef struct {
	Query string
	Value int64
}

// TopicRef is a recommended topic keyword: [mid, title, topic, value].
type TopicRef struct {
	MID   string
	Title string
	Topic string
	Value int64
}

type queryGroup struct {
	Top    []QueryRef `json:"top"`
	Rising []QueryRef `json:"rising"`
}

type topicGroup struct {
	Top    []TopicRef `json:"top"`
	Rising []TopicRef `json:"rising"`
}

// Payload is one parsed fetcher response.
type Payload struct {
	Samples []Sample                       // ordered by label
	Geo     map[string]map[string]GeoValue // scope -> location code -> value
	Query   queryGroup
	Topic   topicGroup
}

func (v *GeoValue) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("geo tuple has %d elements, want 2", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &v.Name); err != nil {
		return fmt.Errorf("geo tuple name: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &v.Value); err != nil {
		return fmt.Errorf("geo tuple value: %w", err)
	}
	return nil
}

func (q *QueryRef) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("query tuple has %d elements, want 2", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &q.Query); err != nil {
		return fmt.Errorf("query tuple keyword: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &q.Value); err != nil {
		return fmt.Errorf("query tuple value: %w", err)
	}
	return nil
}

func (tr *TopicRef) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 4 {
		return fmt.Errorf("topic tuple has %d elements, want 4", len(tuple))
	}
	fields := []any{&tr.MID, &tr.Title, &tr.Topic, &tr.Value}
	for i, f := range fields {
		if err := json.Unmarshal(tuple[i], f); err != nil {
			return fmt.Errorf("topic tuple element %d: %w", i, err)
		}
	}
	return nil
}

// label layouts the fetcher script is known to print.
var labelLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseLabel(s string) (time.Time, error) {
	for _, layout := range labelLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time label %q", s)
}

var geoScopes = map[string]bool{
	trends.ScopeCountry: true,
	trends.ScopeStates:  true,
	trends.ScopeRegion:  true,
	trends.ScopeDMA:     true,
}

// Parse decodes a raw payload. Samples come back ordered by label; geo
// scope names are normalized to lower case and validated.
func Parse(raw []byte) (*Payload, error) {
	var doc struct {
		Time    map[string]int64               `json:"time"`
		Geo     map[string]map[string]GeoValue `json:"geo"`
		Related struct {
			Query queryGroup `json:"query"`
			Topic topicGroup `json:"topic"`
		} `json:"related"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}

	p := &Payload{
		Geo:   make(map[string]map[string]GeoValue, len(doc.Geo)),
		Query: doc.Related.Query,
		Topic: doc.Related.Topic,
	}

	for label, value := range doc.Time {
		t, err := parseLabel(label)
		if err != nil {
			return nil, err
		}
		p.Samples = append(p.Samples, Sample{Label: t, Value: value})
	}
	sort.Slice(p.Samples, func(i, j int) bool {
		return p.Samples[i].Label.Before(p.Samples[j].Label)
	})

	for scope, entries := range doc.Geo {
		normalized := strings.ToLower(scope)
		if !geoScopes[normalized] {
			return nil, fmt.Errorf("unknown geo scope %q", scope)
		}
		p.Geo[normalized] = entries
	}

	return p, nil
}

// Validate reconstructs the time labels for the request window and
// requires them to equal the payload's own labels. Wraps
// trends.ErrUnreconstructibleLabels on any disagreement.
func (p *Payload) Validate(start, end time.Time) ([]time.Time, error) {
	labels, err := trends.RestoreLabels(start, end, len(p.Samples))
	if err != nil {
		return nil, err
	}
	for i, s := range p.Samples {
		if !labels[i].Equal(s.Label) {
			return nil, fmt.Errorf("label %d is %s, reconstructed %s: %w",
				i, s.Label.Format(time.DateTime), labels[i].Format(time.DateTime),
				trends.ErrUnreconstructibleLabels)
		}
	}
	return labels, nil
}
