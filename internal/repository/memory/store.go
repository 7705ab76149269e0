// Package memory provides an in-memory implementation of the repositories,
// used for tests and ephemeral environments. Every committed mutation is
// published to the change feed while the store lock is held, so events leave
// in commit order.
package memory

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bloodlink/internal/feed"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/repository"
)

// Store holds all collections behind one lock.
type Store struct {
	mu sync.Mutex

	users         map[uuid.UUID]model.User
	profiles      map[uuid.UUID]model.DonorProfile
	requests      map[uuid.UUID]model.BloodRequest
	verifications map[uuid.UUID]model.VerificationProof
	impacts       map[uuid.UUID]model.ImpactRecord // keyed by request id
	events        map[uuid.UUID]model.DonationEvent

	pub feed.Publisher
	now func() time.Time
}

// New creates an empty store. pub may be nil.
func New(pub feed.Publisher) *Store {
	return &Store{
		users:         make(map[uuid.UUID]model.User),
		profiles:      make(map[uuid.UUID]model.DonorProfile),
		requests:      make(map[uuid.UUID]model.BloodRequest),
		verifications: make(map[uuid.UUID]model.VerificationProof),
		impacts:       make(map[uuid.UUID]model.ImpactRecord),
		events:        make(map[uuid.UUID]model.DonationEvent),
		pub:           pub,
		now:           time.Now,
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *Store) Repositories() repository.Store {
	return repository.Store{
		Users:         userRepo{s},
		Requests:      requestRepo{s},
		Verifications: verificationRepo{s},
		Donors:        donorRepo{s},
		Events:        eventRepo{s},
	}
}

// emit must be called with s.mu held. A nil old/new means "no row".
func (s *Store) emit(table model.Table, op model.Op, old, new any) {
	if s.pub == nil {
		return
	}
	evt := model.ChangeEvent{Table: table, Op: op}
	if old != nil {
		evt.Old, _ = json.Marshal(old)
	}
	if new != nil {
		evt.New, _ = json.Marshal(new)
	}
	s.pub.Publish(evt)
}

func newID() uuid.UUID { return uuid.Must(uuid.NewV4()) }

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func sortRequests(rs []model.BloodRequest) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.After(rs[j].CreatedAt)
		}
		return rs[i].ID.String() < rs[j].ID.String()
	})
}

func sortDonors(ds []model.DonorProfile) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].DonationCount != ds[j].DonationCount {
			return ds[i].DonationCount > ds[j].DonationCount
		}
		return ds[i].FullName < ds[j].FullName
	})
}
