// Package replica keeps a client-local copy of the shared dataset in sync with
// the server change feed and maintains the derived Stats counters from the
// same events.
package replica

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/bloodlink/internal/model"
)

var (
	errMissingRow = errors.New("missing row payload")
	errMissingID  = errors.New("row without id")
	errUnknownRow = errors.New("delete of unknown row")
	errUnknownOp  = errors.New("unknown op")

	// ErrNoSnapshot is returned by a session whose stream did not start with a snapshot.
	ErrNoSnapshot = errors.New("replica: stream did not start with a snapshot")
)

// Stream yields feed frames until it fails or is closed.
type Stream interface {
	Recv() (model.FeedFrame, error)
	Close() error
}

// Source opens a change stream whose first frame is a snapshot.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Change describes one applied mutation, passed to OnChange listeners.
type Change struct {
	Table model.Table
	Op    model.Op
	Stats model.Stats
}

// Replica is the local cache. All mutation goes through Load, Apply and
// ApplyLocal under one lock; readers get copies.
type Replica struct {
	mu sync.Mutex

	requests      *table[model.BloodRequest]
	donors        *table[model.DonorProfile]
	verifications *table[model.VerificationProof]
	events        *table[model.DonationEvent]
	stats         model.Stats
	lastSeq       int64
	loaded        bool

	listeners []func(Change)
	log       *zap.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
}

// New creates an empty replica.
func New(log *zap.Logger) *Replica {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replica{
		requests: newTable(
			func(r model.BloodRequest) uuid.UUID { return r.ID }, nil, requestContrib, newestRequestFirst),
		donors: newTable(
			func(p model.DonorProfile) uuid.UUID { return p.ID }, model.DonorProfile.IsDonor, donorContrib, mostDonationsFirst),
		verifications: newTable(
			func(p model.VerificationProof) uuid.UUID { return p.ID }, nil, verificationContrib, newestProofFirst),
		events: newTable(
			func(e model.DonationEvent) uuid.UUID { return e.ID }, nil, eventContrib, earliestEventFirst),
		log:        log,
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 15 * time.Second,
	}
}

// OnChange registers fn to be called after every applied change and load.
// fn runs outside the replica lock and may read the replica.
func (r *Replica) OnChange(fn func(Change)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Load discards local state and rebuilds it from snap.
func (r *Replica) Load(snap model.Snapshot) {
	r.mu.Lock()
	var s model.Stats
	s = s.Add(r.requests.load(snap.Requests))
	s = s.Add(r.donors.load(snap.Donors))
	s = s.Add(r.verifications.load(snap.Verifications))
	s = s.Add(r.events.load(snap.Events))
	r.stats = s
	r.lastSeq = snap.AsOfSeq
	r.loaded = true
	listeners := r.listeners
	r.mu.Unlock()

	r.log.Info("replica loaded",
		zap.Int64("as_of_seq", snap.AsOfSeq),
		zap.Int("requests", len(snap.Requests)),
		zap.Int("donors", len(snap.Donors)))
	notify(listeners, Change{Stats: s})
}

// Apply folds a feed event into the replica. Events already covered by the
// loaded snapshot are skipped; malformed events are logged and dropped.
// It reports whether local state changed.
func (r *Replica) Apply(evt model.ChangeEvent) bool {
	return r.apply(evt, false)
}

// ApplyLocal applies an optimistic local write through the same pipeline.
// The later feed echo of the same change is absorbed by dedup and diffing.
func (r *Replica) ApplyLocal(evt model.ChangeEvent) bool {
	return r.apply(evt, true)
}

func (r *Replica) apply(evt model.ChangeEvent, local bool) bool {
	r.mu.Lock()
	if !local && evt.Seq > 0 {
		if evt.Seq <= r.lastSeq {
			r.mu.Unlock()
			return false
		}
		r.lastSeq = evt.Seq
	}

	var (
		delta   model.Stats
		changed bool
		err     error
	)
	switch evt.Table {
	case model.TableRequests:
		delta, changed, err = r.requests.apply(evt)
	case model.TableProfiles:
		delta, changed, err = r.donors.apply(evt)
	case model.TableVerifications:
		delta, changed, err = r.verifications.apply(evt)
	case model.TableEvents:
		delta, changed, err = r.events.apply(evt)
	default:
		err = fmt.Errorf("unknown table %q", evt.Table)
	}
	if changed {
		r.stats = r.stats.Add(delta)
	}
	stats := r.stats
	listeners := r.listeners
	r.mu.Unlock()

	if err != nil {
		lvl := r.log.Warn
		if errors.Is(err, errUnknownRow) {
			lvl = r.log.Debug
		}
		lvl("change event dropped",
			zap.Error(err),
			zap.Int64("seq", evt.Seq),
			zap.String("table", string(evt.Table)),
			zap.String("op", string(evt.Op)))
		return false
	}
	if changed {
		notify(listeners, Change{Table: evt.Table, Op: evt.Op, Stats: stats})
	}
	return changed
}

func notify(listeners []func(Change), c Change) {
	for _, fn := range listeners {
		fn(c)
	}
}

// Stats returns the current counters.
func (r *Replica) Stats() model.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// LastSeq returns the sequence of the last applied feed event or snapshot.
func (r *Replica) LastSeq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeq
}

// Loaded reports whether a snapshot has been applied.
func (r *Replica) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Requests returns all requests, newest first.
func (r *Replica) Requests() []model.BloodRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests.list()
}

// Request returns one request by id.
func (r *Replica) Request(id uuid.UUID) (model.BloodRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests.get(id)
}

// Donors returns donors ordered by donation count.
func (r *Replica) Donors() []model.DonorProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.donors.list()
}

// Verifications returns all proofs, newest first.
func (r *Replica) Verifications() []model.VerificationProof {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verifications.list()
}

// Events returns donation events by start time.
func (r *Replica) Events() []model.DonationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events.list()
}

// Run keeps the replica synchronized until ctx is done. Each (re)connect
// starts from a fresh snapshot; stream failures are retried with capped
// exponential backoff.
func (r *Replica) Run(ctx context.Context, src Source) error {
	backoff := r.minBackoff
	for {
		loaded, err := r.session(ctx, src)
		if ctx.Err() != nil {
			return nil
		}
		if loaded {
			backoff = r.minBackoff
		}
		r.log.Warn("replica stream ended", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// session runs one connection. loaded reports whether a snapshot was applied.
func (r *Replica) session(ctx context.Context, src Source) (loaded bool, err error) {
	stream, err := src.Open(ctx)
	if err != nil {
		return false, fmt.Errorf("open: %w", err)
	}
	defer stream.Close()

	first, err := stream.Recv()
	if err != nil {
		return false, fmt.Errorf("recv snapshot: %w", err)
	}
	if first.Snapshot == nil {
		return false, ErrNoSnapshot
	}
	r.Load(*first.Snapshot)

	for {
		f, err := stream.Recv()
		if err != nil {
			return true, err
		}
		switch {
		case f.Snapshot != nil:
			r.Load(*f.Snapshot)
		case f.Event != nil:
			r.Apply(*f.Event)
		}
	}
}
