package memory

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/repository"
)

type donorRepo struct{ s *Store }

func (r donorRepo) FindAvailable(_ context.Context, q repository.DonorQuery) ([]model.DonorProfile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DonorProfile, 0)
	for _, p := range s.profiles {
		if !p.IsDonor() || !p.IsAvailable || p.BloodType != q.BloodType {
			continue
		}
		if q.Location != "" && !containsFold(p.Location, q.Location) {
			continue
		}
		out = append(out, p)
	}
	sortDonors(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r donorRepo) GetProfile(_ context.Context, id uuid.UUID) (*model.DonorProfile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &p, nil
}

func (r donorRepo) ListDonors(context.Context) ([]model.DonorProfile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.DonorProfile, 0)
	for _, p := range s.profiles {
		if p.IsDonor() {
			out = append(out, p)
		}
	}
	sortDonors(out)
	return out, nil
}

func (r donorRepo) UpdateProfileIfCooledDown(_ context.Context, id uuid.UUID, edit model.ProfileEdit, now time.Time, window time.Duration) (*model.DonorProfile, bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, false, errs.ErrNotFound
	}
	if p.LastProfileUpdate != nil && now.Before(p.LastProfileUpdate.Add(window)) {
		return nil, false, nil
	}
	p, err := s.mutateProfile(id, func(p *model.DonorProfile) {
		applyEdit(p, edit)
		stamp := now
		p.LastProfileUpdate = &stamp
	})
	if err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (r donorRepo) SetAvailability(_ context.Context, id uuid.UUID, available bool) (*model.DonorProfile, error) {
	return r.mutate(id, func(p *model.DonorProfile) { p.IsAvailable = available })
}

func (r donorRepo) SetVerified(_ context.Context, id uuid.UUID, verified bool) (*model.DonorProfile, error) {
	return r.mutate(id, func(p *model.DonorProfile) { p.IsVerified = verified })
}

func (r donorRepo) RecordDonation(_ context.Context, id uuid.UUID, at time.Time) (*model.DonorProfile, error) {
	return r.mutate(id, func(p *model.DonorProfile) {
		p.DonationCount++
		if p.LastDonationDate == nil || at.After(*p.LastDonationDate) {
			stamp := at
			p.LastDonationDate = &stamp
		}
	})
}

func (r donorRepo) Rate(_ context.Context, id uuid.UUID, score int) (*model.DonorProfile, error) {
	return r.mutate(id, func(p *model.DonorProfile) {
		total := p.RatingAvg*float64(p.RatingCount) + float64(score)
		p.RatingCount++
		p.RatingAvg = total / float64(p.RatingCount)
	})
}

func (r donorRepo) mutate(id uuid.UUID, fn func(*model.DonorProfile)) (*model.DonorProfile, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.mutateProfile(id, fn)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// mutateProfile must be called with s.mu held.
func (s *Store) mutateProfile(id uuid.UUID, fn func(*model.DonorProfile)) (model.DonorProfile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return model.DonorProfile{}, errs.ErrNotFound
	}
	old := p
	fn(&p)
	p.UpdatedAt = s.now()
	s.profiles[id] = p
	s.emit(model.TableProfiles, model.OpUpdate, old, p)
	return p, nil
}

func applyEdit(p *model.DonorProfile, e model.ProfileEdit) {
	if e.FullName != nil {
		p.FullName = *e.FullName
	}
	if e.BloodType != nil {
		p.BloodType = model.BloodType(*e.BloodType)
	}
	if e.Location != nil {
		p.Location = *e.Location
	}
	if e.Phone != nil {
		p.Phone = *e.Phone
	}
	if e.SocialURL != nil {
		p.SocialURL = *e.SocialURL
	}
}
