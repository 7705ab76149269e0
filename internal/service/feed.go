package service

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/bloodlink/internal/feed"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/repository"
)

// FeedService hands out change subscriptions paired with a snapshot.
type FeedService struct {
	hub   *feed.Hub
	store repository.Store
	now   func() time.Time
}

// NewFeedService constructs FeedService.
func NewFeedService(hub *feed.Hub, store repository.Store) *FeedService {
	return &FeedService{hub: hub, store: store, now: time.Now}
}

// Open subscribes first and then reads the snapshot, so every change that
// the snapshot might miss is on the subscription. Events with Seq up to the
// snapshot's AsOfSeq are already reflected in it. The caller must Close the
// subscription.
func (s *FeedService) Open(ctx context.Context, tables ...model.Table) (*feed.Subscription, model.Snapshot, error) {
	sub := s.hub.Subscribe(tables...)
	snap, err := s.Snapshot(ctx, s.hub.Seq(), tables...)
	if err != nil {
		s.hub.Unsubscribe(sub)
		return nil, model.Snapshot{}, err
	}
	return sub, snap, nil
}

// Close ends a subscription returned by Open.
func (s *FeedService) Close(sub *feed.Subscription) { s.hub.Unsubscribe(sub) }

// Snapshot reads the requested tables (all when none are given).
func (s *FeedService) Snapshot(ctx context.Context, asOf int64, tables ...model.Table) (model.Snapshot, error) {
	want := func(t model.Table) bool {
		if len(tables) == 0 {
			return true
		}
		for _, x := range tables {
			if x == t {
				return true
			}
		}
		return false
	}

	snap := model.Snapshot{
		AsOfSeq:       asOf,
		TakenAt:       s.now(),
		Requests:      []model.BloodRequest{},
		Donors:        []model.DonorProfile{},
		Verifications: []model.VerificationProof{},
		Events:        []model.DonationEvent{},
	}
	var err error
	if want(model.TableRequests) {
		if snap.Requests, err = s.store.Requests.List(ctx); err != nil {
			return model.Snapshot{}, fmt.Errorf("snapshot requests: %w", err)
		}
	}
	if want(model.TableProfiles) {
		if snap.Donors, err = s.store.Donors.ListDonors(ctx); err != nil {
			return model.Snapshot{}, fmt.Errorf("snapshot donors: %w", err)
		}
	}
	if want(model.TableVerifications) {
		if snap.Verifications, err = s.store.Verifications.List(ctx); err != nil {
			return model.Snapshot{}, fmt.Errorf("snapshot verifications: %w", err)
		}
	}
	if want(model.TableEvents) {
		if snap.Events, err = s.store.Events.List(ctx); err != nil {
			return model.Snapshot{}, fmt.Errorf("snapshot events: %w", err)
		}
	}
	return snap, nil
}
