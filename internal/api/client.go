package api

import (
	"context"

	"google.golang.org/grpc"

	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/replica"
)

// Client is a typed BloodLink client. Every call uses the JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func invoke[Resp any](ctx context.Context, c *Client, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c, "Register", in, opts)
}

func (c *Client) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c, "Login", in, opts)
}

func (c *Client) SubmitRequest(ctx context.Context, in *SubmitRequestRequest, opts ...grpc.CallOption) (*RequestResponse, error) {
	return invoke[RequestResponse](ctx, c, "SubmitRequest", in, opts)
}

func (c *Client) GetRequest(ctx context.Context, in *GetRequestRequest, opts ...grpc.CallOption) (*RequestResponse, error) {
	return invoke[RequestResponse](ctx, c, "GetRequest", in, opts)
}

func (c *Client) MatchDonors(ctx context.Context, in *MatchDonorsRequest, opts ...grpc.CallOption) (*MatchDonorsResponse, error) {
	return invoke[MatchDonorsResponse](ctx, c, "MatchDonors", in, opts)
}

func (c *Client) SetRequestStatus(ctx context.Context, in *SetRequestStatusRequest, opts ...grpc.CallOption) (*FulfillmentResponse, error) {
	return invoke[FulfillmentResponse](ctx, c, "SetRequestStatus", in, opts)
}

func (c *Client) ListImpact(ctx context.Context, opts ...grpc.CallOption) (*ListImpactResponse, error) {
	return invoke[ListImpactResponse](ctx, c, "ListImpact", &Empty{}, opts)
}

func (c *Client) SubmitVerification(ctx context.Context, in *SubmitVerificationRequest, opts ...grpc.CallOption) (*ProofResponse, error) {
	return invoke[ProofResponse](ctx, c, "SubmitVerification", in, opts)
}

func (c *Client) ConfirmVerification(ctx context.Context, in *ProofRequest, opts ...grpc.CallOption) (*ConfirmVerificationResponse, error) {
	return invoke[ConfirmVerificationResponse](ctx, c, "ConfirmVerification", in, opts)
}

func (c *Client) RejectVerification(ctx context.Context, in *ProofRequest, opts ...grpc.CallOption) (*ProofResponse, error) {
	return invoke[ProofResponse](ctx, c, "RejectVerification", in, opts)
}

func (c *Client) CheckEligibility(ctx context.Context, in *CheckEligibilityRequest, opts ...grpc.CallOption) (*EligibilityResponse, error) {
	return invoke[EligibilityResponse](ctx, c, "CheckEligibility", in, opts)
}

func (c *Client) RevealContact(ctx context.Context, in *CheckEligibilityRequest, opts ...grpc.CallOption) (*RevealContactResponse, error) {
	return invoke[RevealContactResponse](ctx, c, "RevealContact", in, opts)
}

func (c *Client) OpenSocialProfile(ctx context.Context, in *CheckEligibilityRequest, opts ...grpc.CallOption) (*OpenSocialProfileResponse, error) {
	return invoke[OpenSocialProfileResponse](ctx, c, "OpenSocialProfile", in, opts)
}

func (c *Client) UpdateDonorProfile(ctx context.Context, in *UpdateDonorProfileRequest, opts ...grpc.CallOption) (*UpdateDonorProfileResponse, error) {
	return invoke[UpdateDonorProfileResponse](ctx, c, "UpdateDonorProfile", in, opts)
}

func (c *Client) SetAvailability(ctx context.Context, in *SetAvailabilityRequest, opts ...grpc.CallOption) (*DonorResponse, error) {
	return invoke[DonorResponse](ctx, c, "SetAvailability", in, opts)
}

func (c *Client) VerifyDonor(ctx context.Context, in *VerifyDonorRequest, opts ...grpc.CallOption) (*DonorResponse, error) {
	return invoke[DonorResponse](ctx, c, "VerifyDonor", in, opts)
}

func (c *Client) RecordDonation(ctx context.Context, in *RecordDonationRequest, opts ...grpc.CallOption) (*DonorResponse, error) {
	return invoke[DonorResponse](ctx, c, "RecordDonation", in, opts)
}

func (c *Client) RateDonor(ctx context.Context, in *RateDonorRequest, opts ...grpc.CallOption) (*DonorResponse, error) {
	return invoke[DonorResponse](ctx, c, "RateDonor", in, opts)
}

func (c *Client) CreateEvent(ctx context.Context, in *CreateEventRequest, opts ...grpc.CallOption) (*EventResponse, error) {
	return invoke[EventResponse](ctx, c, "CreateEvent", in, opts)
}

func (c *Client) SetEventActive(ctx context.Context, in *SetEventActiveRequest, opts ...grpc.CallOption) (*EventResponse, error) {
	return invoke[EventResponse](ctx, c, "SetEventActive", in, opts)
}

func (c *Client) ListEvents(ctx context.Context, opts ...grpc.CallOption) (*ListEventsResponse, error) {
	return invoke[ListEventsResponse](ctx, c, "ListEvents", &Empty{}, opts)
}

// FeedStream receives frames of an open Subscribe call.
type FeedStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
}

// Subscribe opens the change stream. The first frame is a snapshot.
func (c *Client) Subscribe(ctx context.Context, in *SubscribeRequest, opts ...grpc.CallOption) (*FeedStream, error) {
	ctx, cancel := context.WithCancel(ctx)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	st, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod("Subscribe"), opts...)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := st.SendMsg(in); err != nil {
		cancel()
		return nil, err
	}
	if err := st.CloseSend(); err != nil {
		cancel()
		return nil, err
	}
	return &FeedStream{stream: st, cancel: cancel}, nil
}

// Recv blocks for the next frame.
func (s *FeedStream) Recv() (model.FeedFrame, error) {
	var f model.FeedFrame
	if err := s.stream.RecvMsg(&f); err != nil {
		return model.FeedFrame{}, err
	}
	return f, nil
}

// Close cancels the call.
func (s *FeedStream) Close() error {
	s.cancel()
	return nil
}

// FeedSource opens Subscribe streams for a replica.
type FeedSource struct {
	Client *Client
	Tables []string
	Opts   []grpc.CallOption
}

var _ replica.Source = FeedSource{}

// Open implements replica.Source.
func (f FeedSource) Open(ctx context.Context) (replica.Stream, error) {
	return f.Client.Subscribe(ctx, &SubscribeRequest{Tables: f.Tables}, f.Opts...)
}
