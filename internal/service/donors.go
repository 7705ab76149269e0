package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/bloodlink/internal/eligibility"
	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/limiter"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/repository"
)

// DonorService owns donor profile edits, operator actions on donors and
// contact eligibility.
type DonorService struct {
	donors   repository.DonorRepository
	cooldown limiter.Cooldown
	viewed   *eligibility.ViewedSet
	log      *zap.Logger
	now      func() time.Time
}

// NewDonorService constructs DonorService; window <= 0 selects the default profile cooldown.
func NewDonorService(donors repository.DonorRepository, window time.Duration, log *zap.Logger) *DonorService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DonorService{
		donors:   donors,
		cooldown: limiter.NewCooldown(window),
		viewed:   eligibility.NewViewedSet(),
		log:      log,
		now:      time.Now,
	}
}

// UpdateProfile applies a rate-limited edit to the caller's own profile.
// A cooldown denial is a result, not an error.
func (s *DonorService) UpdateProfile(ctx context.Context, actor model.CurrentUser, edit model.ProfileEdit) (model.ProfileUpdate, error) {
	if err := requireAuth(actor); err != nil {
		return model.ProfileUpdate{}, err
	}
	edit, err := normalizeEdit(edit)
	if err != nil {
		return model.ProfileUpdate{}, err
	}

	now := s.now()
	cur, err := s.donors.GetProfile(ctx, actor.ID)
	if err != nil {
		return model.ProfileUpdate{}, fmt.Errorf("load profile: %w", err)
	}
	if d := s.cooldown.Check(cur.LastProfileUpdate, now); !d.Allowed {
		return denied(d), nil
	}

	p, ok, err := s.donors.UpdateProfileIfCooledDown(ctx, actor.ID, edit, now, s.cooldown.Window)
	if err != nil {
		return model.ProfileUpdate{}, fmt.Errorf("update profile: %w", err)
	}
	if !ok {
		// a concurrent edit won the window; report its cooldown
		cur, err = s.donors.GetProfile(ctx, actor.ID)
		if err != nil {
			return model.ProfileUpdate{}, fmt.Errorf("reload profile: %w", err)
		}
		return denied(s.cooldown.Check(cur.LastProfileUpdate, now)), nil
	}
	s.log.Info("profile updated", zap.String("profile_id", p.ID.String()))
	return model.ProfileUpdate{Allowed: true, Profile: p}, nil
}

func denied(d limiter.Decision) model.ProfileUpdate {
	return model.ProfileUpdate{DeniedUntil: d.NextEligibleAt, Remaining: d.Remaining}
}

func normalizeEdit(e model.ProfileEdit) (model.ProfileEdit, error) {
	v := &errs.ValidationError{}
	trim := func(p *string) *string {
		if p == nil {
			return nil
		}
		s := strings.TrimSpace(*p)
		return &s
	}
	e.FullName = trim(e.FullName)
	e.Location = trim(e.Location)
	e.Phone = trim(e.Phone)
	e.SocialURL = trim(e.SocialURL)

	if e.FullName == nil && e.BloodType == nil && e.Location == nil && e.Phone == nil && e.SocialURL == nil {
		v.Add("profile", "nothing to update")
	}
	if e.FullName != nil && *e.FullName == "" {
		v.Add("full_name", "must not be empty")
	}
	for _, f := range []struct {
		name  string
		val   *string
		limit int
	}{
		{"full_name", e.FullName, maxTextLen},
		{"location", e.Location, maxTextLen},
		{"phone", e.Phone, maxPhoneLen},
		{"social_url", e.SocialURL, maxSocialLen},
	} {
		if f.val != nil {
			checkText(v, f.name, *f.val, f.limit, false)
		}
	}
	if e.BloodType != nil {
		bt, ok := model.ParseBloodType(*e.BloodType)
		if !ok {
			v.Add("blood_type", "must be one of A+, A-, B+, B-, AB+, AB-, O+, O-")
		}
		s := string(bt)
		e.BloodType = &s
	}
	if e.SocialURL != nil && *e.SocialURL != "" {
		u, err := url.Parse(*e.SocialURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			v.Add("social_url", "must be an http(s) link")
		}
	}
	return e, v.OrNil()
}

// SetAvailability lets a donor toggle whether they can be matched.
func (s *DonorService) SetAvailability(ctx context.Context, actor model.CurrentUser, available bool) (*model.DonorProfile, error) {
	if err := requireAuth(actor); err != nil {
		return nil, err
	}
	if actor.Role != model.RoleDonor {
		return nil, errs.Denied("DONOR_ROLE_REQUIRED")
	}
	return s.donors.SetAvailability(ctx, actor.ID, available)
}

// VerifyDonor sets the verified flag of an account. Donors need it to be
// contactable and requesters need it to contact anyone. Operator only.
func (s *DonorService) VerifyDonor(ctx context.Context, actor model.CurrentUser, donorID uuid.UUID, verified bool) (*model.DonorProfile, error) {
	if err := requireOperator(actor); err != nil {
		return nil, err
	}
	p, err := s.donors.SetVerified(ctx, donorID, verified)
	if err != nil {
		return nil, fmt.Errorf("verify donor: %w", err)
	}
	s.log.Info("donor verification set", zap.String("donor_id", donorID.String()), zap.Bool("verified", verified))
	return p, nil
}

// RecordDonation counts a completed donation. A zero date means now. Operator only.
func (s *DonorService) RecordDonation(ctx context.Context, actor model.CurrentUser, donorID uuid.UUID, at time.Time) (*model.DonorProfile, error) {
	if err := requireOperator(actor); err != nil {
		return nil, err
	}
	now := s.now()
	if at.IsZero() {
		at = now
	}
	if at.After(now) {
		return nil, errs.Invalid("date", "must not be in the future")
	}
	if _, err := s.donor(ctx, donorID); err != nil {
		return nil, err
	}
	return s.donors.RecordDonation(ctx, donorID, at)
}

// RateDonor folds a 1..5 score into the donor's rating.
func (s *DonorService) RateDonor(ctx context.Context, donorID uuid.UUID, score int) (*model.DonorProfile, error) {
	if score < 1 || score > 5 {
		return nil, errs.Invalid("score", "must be between 1 and 5")
	}
	if _, err := s.donor(ctx, donorID); err != nil {
		return nil, err
	}
	return s.donors.Rate(ctx, donorID, score)
}

// CheckEligibility runs the contact gate for the caller against a donor.
func (s *DonorService) CheckEligibility(ctx context.Context, actor model.CurrentUser, donorID uuid.UUID, viewedSocial bool) (eligibility.Decision, error) {
	d, err := s.donor(ctx, donorID)
	if err != nil {
		return eligibility.Decision{}, err
	}
	return eligibility.CanContact(actor, *d, viewedSocial), nil
}

// RevealContact returns the donor's phone when the gate allows it.
func (s *DonorService) RevealContact(ctx context.Context, actor model.CurrentUser, donorID uuid.UUID, viewedSocial bool) (string, error) {
	d, err := s.donor(ctx, donorID)
	if err != nil {
		return "", err
	}
	dec := eligibility.CanContact(actor, *d, viewedSocial)
	if !dec.Allowed {
		return "", errs.Denied(string(dec.Reason))
	}
	s.log.Info("contact revealed", zap.String("donor_id", donorID.String()), zap.String("requester_id", actor.ID.String()))
	return d.Phone, nil
}

// OpenSocial returns the donor's social profile link and, for a known
// session, remembers that it was opened.
func (s *DonorService) OpenSocial(ctx context.Context, session string, donorID uuid.UUID) (string, error) {
	d, err := s.donor(ctx, donorID)
	if err != nil {
		return "", err
	}
	if d.SocialURL == "" {
		return "", nil
	}
	if session != "" {
		s.viewed.MarkViewed(session, donorID)
	}
	return d.SocialURL, nil
}

// ViewedSocial reports whether session opened the donor's social profile.
func (s *DonorService) ViewedSocial(session string, donorID uuid.UUID) bool {
	return session != "" && s.viewed.HasViewed(session, donorID)
}

// donor loads a profile and requires it to be a donor.
func (s *DonorService) donor(ctx context.Context, id uuid.UUID) (*model.DonorProfile, error) {
	p, err := s.donors.GetProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("donor %s: %w", id, err)
	}
	if !p.IsDonor() {
		return nil, fmt.Errorf("profile %s is not a donor: %w", id, errs.ErrNotFound)
	}
	return p, nil
}
