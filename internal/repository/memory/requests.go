package memory

import (
	"context"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
)

type requestRepo struct{ s *Store }

func (r requestRepo) Create(_ context.Context, req *model.BloodRequest) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.requests {
		if ex.TrackingCode == req.TrackingCode {
			return errs.ErrAlreadyExists
		}
	}
	if req.ID == uuid.Nil {
		req.ID = newID()
	}
	now := s.now()
	req.CreatedAt, req.UpdatedAt = now, now
	s.requests[req.ID] = *req
	s.emit(model.TableRequests, model.OpInsert, nil, *req)
	return nil
}

func (r requestRepo) GetByID(_ context.Context, id uuid.UUID) (*model.BloodRequest, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &req, nil
}

func (r requestRepo) GetByTrackingCode(_ context.Context, code string) (*model.BloodRequest, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.TrackingCode == code {
			out := req
			return &out, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (r requestRepo) List(context.Context) ([]model.BloodRequest, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.BloodRequest, 0, len(s.requests))
	for _, req := range s.requests {
		out = append(out, req)
	}
	sortRequests(out)
	return out, nil
}

func (r requestRepo) SetStatus(_ context.Context, id uuid.UUID, status model.RequestStatus, at time.Time) (model.Fulfillment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStatusLocked(id, status, uuid.NullUUID{}, at)
}

// setStatusLocked writes the status and, for FULFILLED, the impact record if absent.
func (s *Store) setStatusLocked(id uuid.UUID, status model.RequestStatus, donor uuid.NullUUID, at time.Time) (model.Fulfillment, error) {
	req, ok := s.requests[id]
	if !ok {
		return model.Fulfillment{}, errs.ErrNotFound
	}
	old := req
	req.Status = status
	req.UpdatedAt = at
	s.requests[id] = req
	s.emit(model.TableRequests, model.OpUpdate, old, req)

	out := model.Fulfillment{Request: req}
	if status != model.StatusFulfilled {
		return out, nil
	}
	if _, exists := s.impacts[id]; exists {
		return out, nil
	}
	rec := model.ImpactFor(newID(), req, donor, at)
	s.impacts[id] = rec
	out.Impact = &rec
	out.ImpactCreated = true
	return out, nil
}

func (r requestRepo) ListImpact(context.Context) ([]model.ImpactRecord, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ImpactRecord, 0, len(s.impacts))
	for _, rec := range s.impacts {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
