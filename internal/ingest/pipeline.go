package ingest

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/nsg-ethz/SIFT/internal/store"
	"github.com/nsg-ethz/SIFT/internal/trends"
)

// Pipeline writes fetched payloads through the staging table into the
// structured schema.
type Pipeline struct {
	Store *store.Store
}

// Run stages the raw payload in its own committed transaction, then
// ingests it. Staging first means a parsing bug can never lose fetched
// data; anything staged is recoverable at the next startup. The staged
// return tells the caller whether the payload is already durable: a
// request that failed before staging may be released back to open, one
// that failed after must stay running for the recovery path.
func (p *Pipeline) Run(raw []byte, req *trends.Request, fetcherID int64, fetchedAt time.Time) (staged bool, err error) {
	if !utf8.Valid(raw) {
		return false, fmt.Errorf("payload for request %d is not valid UTF-8", req.ID)
	}

	stagingID, err := p.Store.StageRaw(string(raw), fetcherID, req.ID, req.KeywordID, fetchedAt)
	if err != nil {
		return false, err
	}

	return true, p.ingest(trends.StagedOutput{
		ID:        stagingID,
		Raw:       string(raw),
		FetcherID: fetcherID,
		RequestID: req.ID,
		KeywordID: req.KeywordID,
		FetchedAt: fetchedAt,
	}, req.Start, req.End, req.Geo)
}

// Replay runs a previously staged payload through ingestion, preserving
// its recorded fetch instant. This is the startup recovery path for
// crashes between staging and ingestion.
func (p *Pipeline) Replay(so trends.StagedOutput) error {
	start, end, geo, err := p.Store.RequestWindow(so.RequestID)
	if err != nil {
		return err
	}
	return p.ingest(so, start, end, geo)
}

// ingest parses, validates and writes one staged payload. A label
// validation failure is logged and leaves both the staging row and the
// running request in place for manual repair; every other failure
// propagates.
func (p *Pipeline) ingest(so trends.StagedOutput, start, end time.Time, geo string) error {
	payload, err := Parse([]byte(so.Raw))
	if err != nil {
		return fmt.Errorf("request %d: %w", so.RequestID, err)
	}

	labels, err := payload.Validate(start, end)
	if errors.Is(err, trends.ErrUnreconstructibleLabels) {
		slog.Warn("Payload labels not reconstructible, leaving staged",
			"r_id", so.RequestID, "staging_id", so.ID, "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("request %d: %w", so.RequestID, err)
	}

	rec := store.IngestRecord{
		StagingID: so.ID,
		RequestID: so.RequestID,
		KeywordID: so.KeywordID,
		FetcherID: so.FetcherID,
		FetchedAt: so.FetchedAt,
		Samples:   sampleVector(payload.Samples),
	}

	if len(labels) >= 2 {
		rec.ResolutionTag = trends.ResolutionTag(labels[1].Sub(labels[0]))
	}

	rec.Geo = geoRecords(payload.Geo, geo)

	for _, q := range payload.Query.Top {
		rec.Queries = append(rec.Queries, store.QueryRecord{Query: q.Query, Top: true, Value: q.Value})
	}
	for _, q := range payload.Query.Rising {
		rec.Queries = append(rec.Queries, store.QueryRecord{Query: q.Query, Top: false, Value: q.Value})
	}
	for _, tp := range payload.Topic.Top {
		rec.Topics = append(rec.Topics, store.TopicRecord{
			MID: tp.MID, Title: tp.Title, Topic: tp.Topic, Top: true, Value: tp.Value,
		})
	}
	for _, tp := range payload.Topic.Rising {
		rec.Topics = append(rec.Topics, store.TopicRecord{
			MID: tp.MID, Title: tp.Title, Topic: tp.Topic, Top: false, Value: tp.Value,
		})
	}

	if err := p.Store.Ingest(rec); err != nil {
		return err
	}

	slog.Info("Ingested payload",
		"r_id", so.RequestID, "samples", len(rec.Samples),
		"geo_rows", len(rec.Geo), "related", len(rec.Queries)+len(rec.Topics))

	return nil
}

func sampleVector(samples []Sample) []int64 {
	v := make([]int64, len(samples))
	for i, s := range samples {
		v[i] = s.Value
	}
	return v
}

// geoRecords flattens the scope map into rows, in deterministic order.
// The region scope is suppressed for US requests: the upstream returns
// identical data under region and states there, which would collide on
// the (request, location, keyword) uniqueness constraint.
func geoRecords(geo map[string]map[string]GeoValue, requestGeo string) []store.GeoRecord {
	scopes := make([]string, 0, len(geo))
	for scope := range geo {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	var out []store.GeoRecord
	for _, scope := range scopes {
		if scope == trends.ScopeRegion && requestGeo == "US" {
			continue
		}
		codes := make([]string, 0, len(geo[scope]))
		for code := range geo[scope] {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			v := geo[scope][code]
			out = append(out, store.GeoRecord{Scope: scope, ISO: code, Name: v.Name, Value: v.Value})
		}
	}
	return out
}
