package api

import (
	"context"

	"google.golang.org/grpc"

	"github.com/and161185/bloodlink/internal/model"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bloodlink.v1.BloodLink"

// BloodLinkServer is implemented by the gRPC handlers.
type BloodLinkServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)

	SubmitRequest(context.Context, *SubmitRequestRequest) (*RequestResponse, error)
	GetRequest(context.Context, *GetRequestRequest) (*RequestResponse, error)
	MatchDonors(context.Context, *MatchDonorsRequest) (*MatchDonorsResponse, error)
	SetRequestStatus(context.Context, *SetRequestStatusRequest) (*FulfillmentResponse, error)
	ListImpact(context.Context, *Empty) (*ListImpactResponse, error)

	SubmitVerification(context.Context, *SubmitVerificationRequest) (*ProofResponse, error)
	ConfirmVerification(context.Context, *ProofRequest) (*ConfirmVerificationResponse, error)
	RejectVerification(context.Context, *ProofRequest) (*ProofResponse, error)

	CheckEligibility(context.Context, *CheckEligibilityRequest) (*EligibilityResponse, error)
	RevealContact(context.Context, *CheckEligibilityRequest) (*RevealContactResponse, error)
	OpenSocialProfile(context.Context, *CheckEligibilityRequest) (*OpenSocialProfileResponse, error)
	UpdateDonorProfile(context.Context, *UpdateDonorProfileRequest) (*UpdateDonorProfileResponse, error)
	SetAvailability(context.Context, *SetAvailabilityRequest) (*DonorResponse, error)
	VerifyDonor(context.Context, *VerifyDonorRequest) (*DonorResponse, error)
	RecordDonation(context.Context, *RecordDonationRequest) (*DonorResponse, error)
	RateDonor(context.Context, *RateDonorRequest) (*DonorResponse, error)

	CreateEvent(context.Context, *CreateEventRequest) (*EventResponse, error)
	SetEventActive(context.Context, *SetEventActiveRequest) (*EventResponse, error)
	ListEvents(context.Context, *Empty) (*ListEventsResponse, error)

	Subscribe(*SubscribeRequest, SubscribeServer) error
}

// SubscribeServer is the server side of the change stream.
type SubscribeServer interface {
	Send(*model.FeedFrame) error
	grpc.ServerStream
}

type subscribeServer struct{ grpc.ServerStream }

func (s subscribeServer) Send(f *model.FeedFrame) error { return s.ServerStream.SendMsg(f) }

// FullMethod returns "/bloodlink.v1.BloodLink/<name>".
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(BloodLinkServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(BloodLinkServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(BloodLinkServer), ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc describes BloodLink for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BloodLinkServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", BloodLinkServer.Register),
		unary("Login", BloodLinkServer.Login),
		unary("SubmitRequest", BloodLinkServer.SubmitRequest),
		unary("GetRequest", BloodLinkServer.GetRequest),
		unary("MatchDonors", BloodLinkServer.MatchDonors),
		unary("SetRequestStatus", BloodLinkServer.SetRequestStatus),
		unary("ListImpact", BloodLinkServer.ListImpact),
		unary("SubmitVerification", BloodLinkServer.SubmitVerification),
		unary("ConfirmVerification", BloodLinkServer.ConfirmVerification),
		unary("RejectVerification", BloodLinkServer.RejectVerification),
		unary("CheckEligibility", BloodLinkServer.CheckEligibility),
		unary("RevealContact", BloodLinkServer.RevealContact),
		unary("OpenSocialProfile", BloodLinkServer.OpenSocialProfile),
		unary("UpdateDonorProfile", BloodLinkServer.UpdateDonorProfile),
		unary("SetAvailability", BloodLinkServer.SetAvailability),
		unary("VerifyDonor", BloodLinkServer.VerifyDonor),
		unary("RecordDonation", BloodLinkServer.RecordDonation),
		unary("RateDonor", BloodLinkServer.RateDonor),
		unary("CreateEvent", BloodLinkServer.CreateEvent),
		unary("SetEventActive", BloodLinkServer.SetEventActive),
		unary("ListEvents", BloodLinkServer.ListEvents),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "Subscribe",
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(SubscribeRequest)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return srv.(BloodLinkServer).Subscribe(in, subscribeServer{stream})
		},
	}},
	Metadata: "bloodlink/v1/bloodlink.json",
}

// RegisterBloodLinkServer registers srv on s.
func RegisterBloodLinkServer(s grpc.ServiceRegistrar, srv BloodLinkServer) {
	s.RegisterService(&ServiceDesc, srv)
}
