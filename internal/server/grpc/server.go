// Package grpcserver exposes the BloodLink gRPC API handlers.
package grpcserver

import (
	"context"
	"net"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/bloodlink/internal/api"
	"github.com/and161185/bloodlink/internal/convert"
	"github.com/and161185/bloodlink/internal/eligibility"
	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/service"
)

// Services bundles what the handlers delegate to.
type Services struct {
	Auth     service.AuthService
	Requests *service.RequestService
	Donors   *service.DonorService
	Events   *service.EventService
	Feed     *service.FeedService
}

// Server wires services into gRPC handlers.
type Server struct {
	svc Services
	log *zap.Logger
}

var _ api.BloodLinkServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(svc Services, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log}
}

// --- Auth ---

// Register creates a new user account.
func (s *Server) Register(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error) {
	userID, err := s.svc.Auth.Register(ctx, req.Username, req.Password, model.Role(req.Role))
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.RegisterResponse{UserID: userID}, nil
}

// remoteIP is the peer host without port, so lockouts apply per client host.
func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Login authenticates a user and returns an access token.
func (s *Server) Login(ctx context.Context, req *api.LoginRequest) (*api.LoginResponse, error) {
	tok, u, err := s.svc.Auth.LoginWithIP(ctx, req.Username, req.Password, remoteIP(ctx))
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.LoginResponse{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.ExpiresAt,
		UserID:      u.ID.String(),
		Role:        string(u.Role),
	}, nil
}

// --- Requests ---

func (s *Server) SubmitRequest(ctx context.Context, req *api.SubmitRequestRequest) (*api.RequestResponse, error) {
	r, err := s.svc.Requests.Create(ctx, CallerFromCtx(ctx), convert.FromSubmitRequest(req))
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.RequestResponse{Request: convert.ToRequest(*r)}, nil
}

func (s *Server) GetRequest(ctx context.Context, req *api.GetRequestRequest) (*api.RequestResponse, error) {
	r, err := s.svc.Requests.GetByTracking(ctx, req.TrackingCode)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.RequestResponse{Request: convert.ToRequest(*r)}, nil
}

func (s *Server) MatchDonors(ctx context.Context, req *api.MatchDonorsRequest) (*api.MatchDonorsResponse, error) {
	res, err := s.svc.Requests.MatchDonors(ctx, req.TrackingCode, req.BloodType, req.Location)
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToMatch(res)
	return &out, nil
}

func (s *Server) SetRequestStatus(ctx context.Context, req *api.SetRequestStatusRequest) (*api.FulfillmentResponse, error) {
	id, err := convert.ParseID("request_id", req.RequestID)
	if err != nil {
		return nil, toStatus(err)
	}
	f, err := s.svc.Requests.SetStatus(ctx, CallerFromCtx(ctx), id, model.RequestStatus(req.Status))
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToFulfillment(f)
	return &out, nil
}

func (s *Server) ListImpact(ctx context.Context, _ *api.Empty) (*api.ListImpactResponse, error) {
	recs, err := s.svc.Requests.ListImpact(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.ListImpactResponse{Records: convert.ToImpacts(recs)}, nil
}

// --- Verification ---

func (s *Server) SubmitVerification(ctx context.Context, req *api.SubmitVerificationRequest) (*api.ProofResponse, error) {
	reqID, ev, err := convert.FromSubmitVerification(req)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.svc.Requests.SubmitVerification(ctx, CallerFromCtx(ctx), reqID, ev)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.ProofResponse{Proof: convert.ToProof(*p)}, nil
}

func (s *Server) ConfirmVerification(ctx context.Context, req *api.ProofRequest) (*api.ConfirmVerificationResponse, error) {
	id, err := convert.ParseID("proof_id", req.ProofID)
	if err != nil {
		return nil, toStatus(err)
	}
	p, f, err := s.svc.Requests.ConfirmVerification(ctx, CallerFromCtx(ctx), id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.ConfirmVerificationResponse{Proof: convert.ToProof(p), Fulfillment: convert.ToFulfillment(f)}, nil
}

func (s *Server) RejectVerification(ctx context.Context, req *api.ProofRequest) (*api.ProofResponse, error) {
	id, err := convert.ParseID("proof_id", req.ProofID)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.svc.Requests.RejectVerification(ctx, CallerFromCtx(ctx), id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.ProofResponse{Proof: convert.ToProof(p)}, nil
}

// --- Donors ---

// CheckEligibility reports a gate decision; a denial is a result, not an error.
func (s *Server) CheckEligibility(ctx context.Context, req *api.CheckEligibilityRequest) (*api.EligibilityResponse, error) {
	id, err := convert.ParseID("donor_id", req.DonorID)
	if err != nil {
		return nil, toStatus(err)
	}
	d, err := s.svc.Donors.CheckEligibility(ctx, CallerFromCtx(ctx), id, s.viewedSocial(ctx, id, req.ViewedSocial))
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.EligibilityResponse{Allowed: d.Allowed, Reason: string(d.Reason), Remedy: d.Reason.Remedy()}, nil
}

func (s *Server) RevealContact(ctx context.Context, req *api.CheckEligibilityRequest) (*api.RevealContactResponse, error) {
	id, err := convert.ParseID("donor_id", req.DonorID)
	if err != nil {
		return nil, toStatus(err)
	}
	phone, err := s.svc.Donors.RevealContact(ctx, CallerFromCtx(ctx), id, s.viewedSocial(ctx, id, req.ViewedSocial))
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.RevealContactResponse{Phone: phone}, nil
}

// viewedSocial honours the client's flag or a view recorded by OpenSocialProfile.
func (s *Server) viewedSocial(ctx context.Context, donorID uuid.UUID, claimed bool) bool {
	return claimed || s.svc.Donors.ViewedSocial(SessionFromCtx(ctx), donorID)
}

// OpenSocialProfile hands out the donor's social link and records the view
// for the caller's session.
func (s *Server) OpenSocialProfile(ctx context.Context, req *api.CheckEligibilityRequest) (*api.OpenSocialProfileResponse, error) {
	id, err := convert.ParseID("donor_id", req.DonorID)
	if err != nil {
		return nil, toStatus(err)
	}
	link, err := s.svc.Donors.OpenSocial(ctx, SessionFromCtx(ctx), id)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.OpenSocialProfileResponse{SocialURL: link}, nil
}

func (s *Server) UpdateDonorProfile(ctx context.Context, req *api.UpdateDonorProfileRequest) (*api.UpdateDonorProfileResponse, error) {
	res, err := s.svc.Donors.UpdateProfile(ctx, CallerFromCtx(ctx), convert.FromProfileEdit(req))
	if err != nil {
		return nil, toStatus(err)
	}
	out := convert.ToProfileUpdate(res)
	return &out, nil
}

func (s *Server) SetAvailability(ctx context.Context, req *api.SetAvailabilityRequest) (*api.DonorResponse, error) {
	p, err := s.svc.Donors.SetAvailability(ctx, CallerFromCtx(ctx), req.Available)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.DonorResponse{Donor: convert.ToOwnDonor(*p)}, nil
}

func (s *Server) VerifyDonor(ctx context.Context, req *api.VerifyDonorRequest) (*api.DonorResponse, error) {
	id, err := convert.ParseID("donor_id", req.DonorID)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.svc.Donors.VerifyDonor(ctx, CallerFromCtx(ctx), id, req.Verified)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.DonorResponse{Donor: convert.ToDonor(*p)}, nil
}

func (s *Server) RecordDonation(ctx context.Context, req *api.RecordDonationRequest) (*api.DonorResponse, error) {
	id, err := convert.ParseID("donor_id", req.DonorID)
	if err != nil {
		return nil, toStatus(err)
	}
	var at time.Time
	if req.Date != nil {
		at = *req.Date
	}
	p, err := s.svc.Donors.RecordDonation(ctx, CallerFromCtx(ctx), id, at)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.DonorResponse{Donor: convert.ToDonor(*p)}, nil
}

func (s *Server) RateDonor(ctx context.Context, req *api.RateDonorRequest) (*api.DonorResponse, error) {
	id, err := convert.ParseID("donor_id", req.DonorID)
	if err != nil {
		return nil, toStatus(err)
	}
	p, err := s.svc.Donors.RateDonor(ctx, id, req.Score)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.DonorResponse{Donor: convert.ToDonor(*p)}, nil
}

// --- Events ---

func (s *Server) CreateEvent(ctx context.Context, req *api.CreateEventRequest) (*api.EventResponse, error) {
	e, err := s.svc.Events.Create(ctx, CallerFromCtx(ctx), req.Title, req.Location, req.StartsAt, req.Active)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.EventResponse{Event: convert.ToEvent(*e)}, nil
}

func (s *Server) SetEventActive(ctx context.Context, req *api.SetEventActiveRequest) (*api.EventResponse, error) {
	id, err := convert.ParseID("event_id", req.EventID)
	if err != nil {
		return nil, toStatus(err)
	}
	e, err := s.svc.Events.SetActive(ctx, CallerFromCtx(ctx), id, req.Active)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.EventResponse{Event: convert.ToEvent(*e)}, nil
}

func (s *Server) ListEvents(ctx context.Context, _ *api.Empty) (*api.ListEventsResponse, error) {
	es, err := s.svc.Events.List(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.ListEventsResponse{Events: convert.ToEvents(es)}, nil
}

// --- Change feed ---

// Subscribe sends a snapshot frame and then every change after it. The
// stream ends with Unavailable when the feed drops the subscription; the
// client resyncs from a new snapshot.
func (s *Server) Subscribe(req *api.SubscribeRequest, stream api.SubscribeServer) error {
	ctx := stream.Context()
	if !CallerFromCtx(ctx).Authenticated {
		return toStatus(errs.Denied(string(eligibility.ReasonAuthRequired)))
	}
	tables, err := convert.ParseTables(req.Tables)
	if err != nil {
		return toStatus(err)
	}

	sub, snap, err := s.svc.Feed.Open(ctx, tables...)
	if err != nil {
		return toStatus(err)
	}
	defer s.svc.Feed.Close(sub)

	snap = convert.RedactSnapshot(snap)
	if err := stream.Send(&model.FeedFrame{Snapshot: &snap}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.Events():
			if !ok {
				return status.Errorf(codes.Unavailable, "feed ended: %v", sub.Err())
			}
			red, err := convert.RedactEvent(evt)
			if err != nil {
				s.log.Error("drop unredactable event", zap.Error(err), zap.Int64("seq", evt.Seq))
				continue
			}
			if err := stream.Send(&model.FeedFrame{Event: &red}); err != nil {
				return err
			}
		}
	}
}
