package memory

import (
	"context"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
)

type verificationRepo struct{ s *Store }

func (r verificationRepo) Create(_ context.Context, p *model.VerificationProof) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[p.RequestID]; !ok {
		return errs.ErrNotFound
	}
	for _, ex := range s.verifications {
		if ex.RequestID == p.RequestID && ex.Status == model.ProofPending {
			return errs.ErrConflict
		}
	}
	if p.ID == uuid.Nil {
		p.ID = newID()
	}
	p.Status = model.ProofPending
	p.SubmittedAt = s.now()
	p.ConfirmedAt = nil
	s.verifications[p.ID] = *p
	s.emit(model.TableVerifications, model.OpInsert, nil, *p)
	return nil
}

func (r verificationRepo) GetByID(_ context.Context, id uuid.UUID) (*model.VerificationProof, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.verifications[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &p, nil
}

func (r verificationRepo) List(context.Context) ([]model.VerificationProof, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.VerificationProof, 0, len(s.verifications))
	for _, p := range s.verifications {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

func (r verificationRepo) Confirm(_ context.Context, id uuid.UUID, at time.Time) (model.VerificationProof, model.Fulfillment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.verifications[id]
	if !ok {
		return model.VerificationProof{}, model.Fulfillment{}, errs.ErrNotFound
	}
	if p.Status != model.ProofPending {
		return model.VerificationProof{}, model.Fulfillment{}, errs.ErrConflict
	}
	if _, ok := s.requests[p.RequestID]; !ok {
		return model.VerificationProof{}, model.Fulfillment{}, errs.ErrNotFound
	}
	old := p
	p.Status = model.ProofApproved
	p.ConfirmedAt = &at
	s.verifications[id] = p
	s.emit(model.TableVerifications, model.OpUpdate, old, p)

	f, err := s.setStatusLocked(p.RequestID, model.StatusFulfilled, p.DonorID, at)
	if err != nil {
		return model.VerificationProof{}, model.Fulfillment{}, err
	}
	return p, f, nil
}

func (r verificationRepo) Reject(_ context.Context, id uuid.UUID, at time.Time) (model.VerificationProof, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.verifications[id]
	if !ok {
		return model.VerificationProof{}, errs.ErrNotFound
	}
	if p.Status != model.ProofPending {
		return model.VerificationProof{}, errs.ErrConflict
	}
	old := p
	p.Status = model.ProofRejected
	p.ConfirmedAt = &at
	s.verifications[id] = p
	s.emit(model.TableVerifications, model.OpUpdate, old, p)
	return p, nil
}
