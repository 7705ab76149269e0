package memory

import (
	"context"
	"sort"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
)

type eventRepo struct{ s *Store }

func (r eventRepo) Create(_ context.Context, e *model.DonationEvent) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = newID()
	}
	e.CreatedAt = s.now()
	s.events[e.ID] = *e
	s.emit(model.TableEvents, model.OpInsert, nil, *e)
	return nil
}

func (r eventRepo) SetActive(_ context.Context, id uuid.UUID, active bool) (*model.DonationEvent, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	old := e
	e.IsActive = active
	s.events[id] = e
	s.emit(model.TableEvents, model.OpUpdate, old, e)
	return &e, nil
}

func (r eventRepo) List(context.Context) ([]model.DonationEvent, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DonationEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}
