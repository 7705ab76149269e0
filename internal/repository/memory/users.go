package memory

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
)

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *model.User) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.users {
		if ex.Username == u.Username {
			return errs.ErrAlreadyExists
		}
	}
	if u.ID == uuid.Nil {
		u.ID = newID()
	}
	now := s.now()
	u.CreatedAt = now
	s.users[u.ID] = *u

	p := model.DonorProfile{ID: u.ID, Role: u.Role, UpdatedAt: now}
	s.profiles[u.ID] = p
	s.emit(model.TableProfiles, model.OpInsert, nil, p)
	return nil
}

func (r userRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

func (r userRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			out := u
			return &out, nil
		}
	}
	return nil, errs.ErrNotFound
}
