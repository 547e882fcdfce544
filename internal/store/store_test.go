package store

import (
	"strings"
	"testing"
	"time"

	"github.com/nsg-ethz/SIFT/internal/trends"
)

func TestAddRequestRejectsEmptyWindow(t *testing.T) {
	s := OpenMemory(t)

	p := eligibleParams("bad", 0)
	p.End = p.Start
	if _, err := s.AddRequest(p); err == nil {
		t.Fatal("AddRequest accepted an empty window")
	}
}

func TestInternFetcherIsStable(t *testing.T) {
	s := OpenMemory(t)

	a, err := s.InternFetcher("ssh", "fetch1.example.org")
	if err != nil {
		t.Fatalf("InternFetcher failed: %v", err)
	}
	b, err := s.InternFetcher("ssh", "fetch1.example.org")
	if err != nil {
		t.Fatalf("InternFetcher failed: %v", err)
	}
	if a != b {
		t.Errorf("same fetcher interned twice: %d and %d", a, b)
	}

	c, err := s.InternFetcher("ssh", "fetch2.example.org")
	if err != nil {
		t.Fatalf("InternFetcher failed: %v", err)
	}
	if c == a {
		t.Errorf("distinct hosts share fetcher id %d", a)
	}
}

func claimAndStage(t *testing.T, s *Store, keyword string) (trends.Request, int64, int64) {
	t.Helper()

	rID, err := s.AddRequest(eligibleParams(keyword, 0))
	if err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	req, err := s.ClaimNext(time.Now())
	if err != nil || req == nil || req.ID != rID {
		t.Fatalf("ClaimNext = (%+v, %v), want request %d", req, err, rID)
	}
	fID, err := s.InternFetcher("local", "localhost")
	if err != nil {
		t.Fatalf("InternFetcher failed: %v", err)
	}
	stagingID, err := s.StageRaw(`{"time":{}}`, fID, req.ID, req.KeywordID, time.Now())
	if err != nil {
		t.Fatalf("StageRaw failed: %v", err)
	}
	return *req, stagingID, fID
}

func TestIngestWritesAndFinishes(t *testing.T) {
	s := OpenMemory(t)
	req, stagingID, fID := claimAndStage(t, s, "flu")

	rec := IngestRecord{
		StagingID:     stagingID,
		RequestID:     req.ID,
		KeywordID:     req.KeywordID,
		FetcherID:     fID,
		FetchedAt:     time.Now(),
		Samples:       []int64{1, 2, 3},
		ResolutionTag: trends.TagHourly,
		Geo: []GeoRecord{
			{Scope: trends.ScopeCountry, ISO: "US", Name: "United States", Value: 100},
			{Scope: trends.ScopeStates, ISO: "US-CA", Name: "California", Value: 88},
		},
		Queries: []QueryRecord{{Query: "influenza", Top: true, Value: 90}},
		Topics:  []TopicRecord{{MID: "/m/0cycc", Title: "Virus", Topic: "Topic", Top: false, Value: 40}},
	}
	if err := s.Ingest(rec); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	status, err := s.RequestStatus(req.ID)
	if err != nil {
		t.Fatalf("RequestStatus failed: %v", err)
	}
	if status != trends.StatusDone {
		t.Errorf("status %q after ingest, want done", status)
	}

	n, err := s.StagedCount()
	if err != nil {
		t.Fatalf("StagedCount failed: %v", err)
	}
	if n != 0 {
		t.Errorf("%d staging rows after ingest, want 0", n)
	}

	geo, err := s.GeoValues(req.ID)
	if err != nil {
		t.Fatalf("GeoValues failed: %v", err)
	}
	if len(geo) != 2 {
		t.Errorf("%d geo rows, want 2", len(geo))
	}

	related, err := s.RelatedCount(req.ID)
	if err != nil {
		t.Fatalf("RelatedCount failed: %v", err)
	}
	if related != 2 {
		t.Errorf("%d related rows, want 2", related)
	}

	frags, err := s.Fragments(req.KeywordID, "", trends.TagHourly)
	if err != nil {
		t.Fatalf("Fragments failed: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("%d fragments, want 1", len(frags))
	}
	if len(frags[0].Values) != 3 || frags[0].Values[2] != 3 {
		t.Errorf("fragment values %v, want [1 2 3]", frags[0].Values)
	}
}

func TestIngestRefusesNotRunning(t *testing.T) {
	s := OpenMemory(t)
	req, stagingID, fID := claimAndStage(t, s, "flu")

	if err := s.Release(req.ID); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	err := s.Ingest(IngestRecord{
		StagingID: stagingID,
		RequestID: req.ID,
		KeywordID: req.KeywordID,
		FetcherID: fID,
		FetchedAt: time.Now(),
		Samples:   []int64{1},
	})
	if err == nil {
		t.Fatal("Ingest finished a request that was not running")
	}
	if !strings.Contains(err.Error(), "updated 0 rows") {
		t.Errorf("unexpected error: %v", err)
	}

	// The failed transaction must leave the staging row in place.
	n, err := s.StagedCount()
	if err != nil {
		t.Fatalf("StagedCount failed: %v", err)
	}
	if n != 1 {
		t.Errorf("%d staging rows after failed ingest, want 1", n)
	}
}

func TestIngestDuplicateTimeSeriesIsFatal(t *testing.T) {
	s := OpenMemory(t)
	req, stagingID, fID := claimAndStage(t, s, "flu")

	rec := IngestRecord{
		StagingID: stagingID,
		RequestID: req.ID,
		KeywordID: req.KeywordID,
		FetcherID: fID,
		FetchedAt: time.Now(),
		Samples:   []int64{1, 2},
	}
	if err := s.Ingest(rec); err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	if err := s.Ingest(rec); err == nil {
		t.Fatal("duplicate ingest did not fail the uniqueness constraint")
	}
}

func TestFragmentLocations(t *testing.T) {
	s := OpenMemory(t)

	p := eligibleParams("flu", 0)
	p.Geo = "US-CA"
	p.GeoName = "California"
	if _, err := s.AddRequest(p); err != nil {
		t.Fatalf("AddRequest failed: %v", err)
	}
	req, err := s.ClaimNext(time.Now())
	if err != nil || req == nil {
		t.Fatalf("ClaimNext = (%+v, %v)", req, err)
	}
	fID, err := s.InternFetcher("local", "localhost")
	if err != nil {
		t.Fatalf("InternFetcher failed: %v", err)
	}
	stagingID, err := s.StageRaw("{}", fID, req.ID, req.KeywordID, time.Now())
	if err != nil {
		t.Fatalf("StageRaw failed: %v", err)
	}
	if err := s.Ingest(IngestRecord{
		StagingID:     stagingID,
		RequestID:     req.ID,
		KeywordID:     req.KeywordID,
		FetcherID:     fID,
		FetchedAt:     time.Now(),
		Samples:       []int64{5, 6},
		ResolutionTag: trends.TagHourly,
	}); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	locs, err := s.FragmentLocations(req.KeywordID)
	if err != nil {
		t.Fatalf("FragmentLocations failed: %v", err)
	}
	if len(locs) != 1 || locs[0] != "US-CA" {
		t.Errorf("FragmentLocations = %v, want [US-CA]", locs)
	}

	frags, err := s.Fragments(req.KeywordID, "US-CA", trends.TagHourly)
	if err != nil {
		t.Fatalf("Fragments failed: %v", err)
	}
	if len(frags) != 1 {
		t.Errorf("%d fragments for US-CA, want 1", len(frags))
	}
}
