// Package matcher ranks candidate donors for a blood request.
package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/repository"
)

// Pass tells the caller which query produced the result.
type Pass string

const (
	PassStrict   Pass = "strict"
	PassFallback Pass = "fallback"
)

// Result is a ranked donor list. An empty list is a valid outcome.
type Result struct {
	Donors []model.DonorProfile
	Pass   Pass
}

// DefaultLimit caps the number of candidates returned.
const DefaultLimit = 50

// Matcher is stateless and safe for concurrent use.
type Matcher struct {
	donors repository.DonorRepository
	limit  int
}

// New constructs a Matcher. limit <= 0 selects DefaultLimit.
func New(donors repository.DonorRepository, limit int) *Matcher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Matcher{donors: donors, limit: limit}
}

// Match returns available donors of bloodType whose location contains location,
// most experienced first. When nothing matches and a location was given, it
// retries without the location constraint.
func (m *Matcher) Match(ctx context.Context, bloodType, location string) (Result, error) {
	bt, ok := model.ParseBloodType(bloodType)
	if !ok {
		return Result{}, errs.Invalid("blood_type", fmt.Sprintf("unknown blood type %q", bloodType))
	}
	location = strings.TrimSpace(location)

	q := repository.DonorQuery{BloodType: bt, Location: location, Limit: m.limit}
	donors, err := m.donors.FindAvailable(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("strict match: %w", err)
	}
	if len(donors) > 0 || location == "" {
		return Result{Donors: nonNil(donors), Pass: PassStrict}, nil
	}

	q.Location = ""
	donors, err = m.donors.FindAvailable(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("fallback match: %w", err)
	}
	return Result{Donors: nonNil(donors), Pass: PassFallback}, nil
}

func nonNil(d []model.DonorProfile) []model.DonorProfile {
	if d == nil {
		return []model.DonorProfile{}
	}
	return d
}
