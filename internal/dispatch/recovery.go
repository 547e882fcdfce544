package dispatch

import (
	"log/slog"
)

// RecoverStaging replays payloads left in the staging table by a
// previous run that died between staging and ingestion. confirm is the
// operator prompt; when it declines, the rows are left alone (their
// requests stay unclaimable until an operator deals with them).
func (d *Dispatcher) RecoverStaging(confirm func(count int) bool) error {
	n, err := d.store.StagedCount()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	if !confirm(n) {
		slog.Warn("Staged payloads left in place", "count", n)
		return nil
	}

	staged, err := d.store.StagedOutputs()
	if err != nil {
		return err
	}

	for _, so := range staged {
		slog.Info("Replaying staged payload",
			"staging_id", so.ID, "r_id", so.RequestID, "fetched_at", so.FetchedAt)
		if err := d.ingest.Replay(so); err != nil {
			return err
		}
	}

	return nil
}
