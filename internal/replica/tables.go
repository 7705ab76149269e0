package replica

import (
	"encoding/json"
	"sort"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bloodlink/internal/model"
)

// table is one keyed collection plus the rules that derive its Stats contribution.
type table[T any] struct {
	rows    map[uuid.UUID]T
	id      func(T) uuid.UUID
	member  func(T) bool
	contrib func(T) model.Stats
	less    func(a, b T) bool
}

func newTable[T any](id func(T) uuid.UUID, member func(T) bool, contrib func(T) model.Stats, less func(a, b T) bool) *table[T] {
	if member == nil {
		member = func(T) bool { return true }
	}
	return &table[T]{rows: make(map[uuid.UUID]T), id: id, member: member, contrib: contrib, less: less}
}

// load replaces the contents and returns the summed contribution.
func (t *table[T]) load(rows []T) model.Stats {
	t.rows = make(map[uuid.UUID]T, len(rows))
	var s model.Stats
	for _, row := range rows {
		if !t.member(row) {
			continue
		}
		if _, dup := t.rows[t.id(row)]; dup {
			continue
		}
		t.rows[t.id(row)] = row
		s = s.Add(t.contrib(row))
	}
	return s
}

// apply folds one event into the table and returns the Stats delta and
// whether anything changed.
func (t *table[T]) apply(evt model.ChangeEvent) (delta model.Stats, changed bool, err error) {
	switch evt.Op {
	case model.OpInsert:
		row, id, err := t.decodeRow(evt.New)
		if err != nil {
			return delta, false, err
		}
		if _, exists := t.rows[id]; exists || !t.member(row) {
			return delta, false, nil
		}
		t.rows[id] = row
		return t.contrib(row), true, nil

	case model.OpUpdate:
		row, id, err := t.decodeRow(evt.New)
		if err != nil {
			return delta, false, err
		}
		prev, had := t.rows[id]
		switch {
		case had && t.member(row):
			t.rows[id] = row
			return t.contrib(row).Sub(t.contrib(prev)), true, nil
		case had:
			delete(t.rows, id)
			return model.Stats{}.Sub(t.contrib(prev)), true, nil
		case t.member(row):
			t.rows[id] = row
			return t.contrib(row), true, nil
		}
		return delta, false, nil

	case model.OpDelete:
		row, id, err := t.decodeRow(evt.Old)
		if err != nil {
			return delta, false, err
		}
		prev, had := t.rows[id]
		if !had {
			if !t.member(row) {
				return delta, false, nil
			}
			return delta, false, errUnknownRow
		}
		delete(t.rows, id)
		return model.Stats{}.Sub(t.contrib(prev)), true, nil
	}
	return delta, false, errUnknownOp
}

func (t *table[T]) decodeRow(raw json.RawMessage) (T, uuid.UUID, error) {
	row, err := decode[T](raw)
	if err != nil {
		return row, uuid.Nil, err
	}
	id := t.id(row)
	if id == uuid.Nil {
		return row, uuid.Nil, errMissingID
	}
	return row, id, nil
}

func (t *table[T]) get(id uuid.UUID) (T, bool) {
	row, ok := t.rows[id]
	return row, ok
}

// list returns a sorted copy.
func (t *table[T]) list() []T {
	out := make([]T, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return t.less(out[i], out[j]) })
	return out
}

// decode unmarshals a row payload into T.
func decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, errMissingRow
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func requestContrib(r model.BloodRequest) model.Stats {
	var s model.Stats
	switch r.Status {
	case model.StatusPending:
		s.PendingRequests = 1
		if r.Urgency == model.UrgencyCritical {
			s.CriticalPending = 1
		}
	case model.StatusFulfilled:
		s.LivesSaved = 1
	}
	return s
}

func donorContrib(p model.DonorProfile) model.Stats {
	s := model.Stats{TotalDonors: 1}
	if p.IsVerified {
		s.VerifiedDonors = 1
	}
	if p.IsAvailable {
		s.AvailableDonors = 1
	}
	return s
}

func verificationContrib(p model.VerificationProof) model.Stats {
	if p.Status == model.ProofPending {
		return model.Stats{PendingVerifications: 1}
	}
	return model.Stats{}
}

func eventContrib(e model.DonationEvent) model.Stats {
	if e.IsActive {
		return model.Stats{ActiveEvents: 1}
	}
	return model.Stats{}
}

func newestRequestFirst(a, b model.BloodRequest) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func mostDonationsFirst(a, b model.DonorProfile) bool {
	if a.DonationCount != b.DonationCount {
		return a.DonationCount > b.DonationCount
	}
	if a.FullName != b.FullName {
		return a.FullName < b.FullName
	}
	return a.ID.String() < b.ID.String()
}

func newestProofFirst(a, b model.VerificationProof) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.After(b.SubmittedAt)
	}
	return a.ID.String() < b.ID.String()
}

func earliestEventFirst(a, b model.DonationEvent) bool {
	if !a.StartsAt.Equal(b.StartsAt) {
		return a.StartsAt.Before(b.StartsAt)
	}
	return a.ID.String() < b.ID.String()
}
