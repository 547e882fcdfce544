// Package dispatch runs the single-threaded control loop: pace, claim,
// fetch through the round-robin-next transport, ingest, and drive the
// request state machine. Parallelism comes only from the fetches being
// external processes and from additional dispatcher processes locking
// disjoint rows in the shared store.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsg-ethz/SIFT/internal/fetch"
	"github.com/nsg-ethz/SIFT/internal/store"
	"github.com/nsg-ethz/SIFT/internal/trends"
)

// Store is the slice of the persistence layer the control loop needs.
type Store interface {
	ClaimNext(now time.Time) (*trends.Request, error)
	Release(rID int64) error
	InternFetcher(name, host string) (int64, error)
	StagedCount() (int, error)
	StagedOutputs() ([]trends.StagedOutput, error)
}

// Ingester consumes fetched payloads. Run reports whether the payload
// was durably staged before the error, Replay re-ingests a staged row.
type Ingester interface {
	Run(raw []byte, req *trends.Request, fetcherID int64, fetchedAt time.Time) (bool, error)
	Replay(so trends.StagedOutput) error
}

// Options tune a dispatcher.
type Options struct {
	// ExitWhenIdle stops the loop cleanly once no request is claimable.
	ExitWhenIdle bool
}

// Dispatcher is one claim/fetch/ingest loop over a pool of transports.
type Dispatcher struct {
	store      Store
	ingest     Ingester
	transports []fetch.Transport
	fetcherIDs []int64

	pacer        *Pacer
	rr           int
	serverErrors int
	exitWhenIdle bool
	idleSleep    time.Duration
}

// New builds a dispatcher over the given transports. The dispatch
// interval follows the transport count.
func New(st Store, ing Ingester, transports []fetch.Transport, opts Options) (*Dispatcher, error) {
	if len(transports) == 0 {
		return nil, errors.New("dispatcher needs at least one transport")
	}
	return &Dispatcher{
		store:        st,
		ingest:       ing,
		transports:   transports,
		pacer:        NewPacer(len(transports)),
		exitWhenIdle: opts.ExitWhenIdle,
		idleSleep:    time.Second,
	}, nil
}

// ServerErrors returns how many upstream 500 responses this dispatcher
// has absorbed.
func (d *Dispatcher) ServerErrors() int {
	return d.serverErrors
}

// Run executes the control loop until the context is cancelled, the
// queue drains (with ExitWhenIdle), or a fatal error. Unexpected errors
// crash the loop on purpose: stopping is safer for the upstream quota
// than stampeding, and the staging table guarantees nothing fetched is
// lost.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.internFetchers(); err != nil {
		return err
	}

	slog.Info("Dispatcher started",
		"transports", len(d.transports),
		"interval", DispatchInterval(len(d.transports)))

	for {
		if err := d.pacer.Wait(ctx); err != nil {
			return err
		}

		req, err := d.store.ClaimNext(time.Now())
		if errors.Is(err, store.ErrClaimLost) {
			continue
		}
		if err != nil {
			return err
		}

		if req == nil {
			if d.exitWhenIdle {
				slog.Info("Queue drained, exiting", "server_errors", d.serverErrors)
				return nil
			}
			select {
			case <-time.After(d.idleSleep):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if err := d.dispatch(ctx, req); err != nil {
			return err
		}
	}
}

// dispatch fetches one claimed request and drives its outcome. The
// round-robin index advances whatever happens to the fetch.
func (d *Dispatcher) dispatch(ctx context.Context, req *trends.Request) error {
	tr := d.transports[d.rr]
	fetcherID := d.fetcherIDs[d.rr]
	d.rr = (d.rr + 1) % len(d.transports)

	window := trends.FormatWindow(req.Start, req.End)
	slog.Info("Dispatching request",
		"r_id", req.ID, "keyword", req.Keyword, "geo", req.Geo,
		"window", window, "fetcher", tr.Name())

	raw, err := tr.Fetch(ctx, window, req.Keyword, req.Geo)
	fetchedAt := time.Now()

	if err != nil {
		releaseErr := d.store.Release(req.ID)

		var respErr *fetch.ResponseError
		if errors.As(err, &respErr) && respErr.Code == 500 {
			d.serverErrors++
			slog.Warn("Upstream server error, request released",
				"r_id", req.ID, "fetcher", tr.Name(), "count", d.serverErrors)
			return releaseErr
		}

		slog.Error("Fetch failed, request released",
			"r_id", req.ID, "fetcher", tr.Name(), "error", err)
		if releaseErr != nil {
			return fmt.Errorf("release after fetch failure: %w (fetch: %v)", releaseErr, err)
		}
		return err
	}

	staged, err := d.ingest.Run(raw, req, fetcherID, fetchedAt)
	if err != nil && !staged {
		// Nothing durable yet; reopen the request before crashing.
		if releaseErr := d.store.Release(req.ID); releaseErr != nil {
			return fmt.Errorf("release after ingest failure: %w (ingest: %v)", releaseErr, err)
		}
		return err
	}
	// With the payload staged, a failed ingestion leaves the request
	// running and the staging row in place for startup recovery.
	return err
}

func (d *Dispatcher) internFetchers() error {
	d.fetcherIDs = make([]int64, len(d.transports))
	for i, tr := range d.transports {
		id, err := d.store.InternFetcher(tr.Name(), tr.Host())
		if err != nil {
			return err
		}
		d.fetcherIDs[i] = id
	}
	return nil
}
