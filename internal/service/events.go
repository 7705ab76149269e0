package service

import (
	"context"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/repository"
)

// EventService manages donation drives.
type EventService struct {
	events repository.EventRepository
}

// NewEventService constructs EventService.
func NewEventService(events repository.EventRepository) *EventService {
	return &EventService{events: events}
}

// Create schedules a drive. Operator only.
func (s *EventService) Create(ctx context.Context, actor model.CurrentUser, title, location string, startsAt time.Time, active bool) (*model.DonationEvent, error) {
	if err := requireOperator(actor); err != nil {
		return nil, err
	}
	v := &errs.ValidationError{}
	title = strings.TrimSpace(title)
	location = strings.TrimSpace(location)
	if title == "" {
		v.Add("title", "required")
	}
	checkText(v, "title", title, maxTextLen, false)
	checkText(v, "location", location, maxTextLen, false)
	if startsAt.IsZero() {
		v.Add("starts_at", "required")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}
	e := &model.DonationEvent{
		ID:       uuid.Must(uuid.NewV4()),
		Title:    title,
		Location: location,
		StartsAt: startsAt,
		IsActive: active,
	}
	if err := s.events.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// SetActive toggles a drive. Operator only.
func (s *EventService) SetActive(ctx context.Context, actor model.CurrentUser, id uuid.UUID, active bool) (*model.DonationEvent, error) {
	if err := requireOperator(actor); err != nil {
		return nil, err
	}
	return s.events.SetActive(ctx, id, active)
}

// List returns all drives by start time.
func (s *EventService) List(ctx context.Context) ([]model.DonationEvent, error) {
	return s.events.List(ctx)
}
