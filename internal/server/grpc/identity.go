package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/service"
)

var errNoToken = errors.New("no bearer token")

// Identity turns an optional bearer token into the caller. Calls without a
// token proceed anonymously; a token that does not verify is rejected.
type Identity struct {
	signKey []byte
	auth    service.AuthService
}

// NewIdentity constructs Identity.
func NewIdentity(signKey []byte, auth service.AuthService) *Identity {
	return &Identity{signKey: signKey, auth: auth}
}

// Resolve verifies token and loads the caller. An empty token is anonymous.
func (i *Identity) Resolve(ctx context.Context, token string) (model.CurrentUser, error) {
	if token == "" {
		return model.CurrentUser{}, nil
	}
	id, err := i.subject(token)
	if err != nil {
		return model.CurrentUser{}, status.Error(codes.Unauthenticated, "AUTHORIZATION_ERROR: "+err.Error())
	}
	u, err := i.auth.CurrentUser(ctx, id)
	if err != nil {
		return model.CurrentUser{}, toStatus(err)
	}
	return u, nil
}

func (i *Identity) fromMD(ctx context.Context) (context.Context, error) {
	tok, err := bearerTokenFromMD(ctx)
	switch {
	case errors.Is(err, errNoToken):
		tok = ""
	case err != nil:
		return nil, status.Error(codes.Unauthenticated, "AUTHORIZATION_ERROR: "+err.Error())
	}
	u, err := i.Resolve(ctx, tok)
	if err != nil {
		return nil, err
	}
	if u.Authenticated {
		ctx = WithSession(ctx, tok)
	}
	return WithCaller(ctx, u), nil
}

// Unary returns the unary identity interceptor.
func (i *Identity) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		ctx, err := i.fromMD(ctx)
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

// Stream returns the stream identity interceptor.
func (i *Identity) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		ctx, err := i.fromMD(ss.Context())
		if err != nil {
			return err
		}
		return next(srv, ctxStream{ServerStream: ss, ctx: ctx})
	}
}

type ctxStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s ctxStream) Context() context.Context { return s.ctx }

// subject verifies an HS256 token and returns its subject.
func (i *Identity) subject(tok string) (uuid.UUID, error) {
	var claims service.Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return i.signKey, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.New("bad subject")
	}
	return id, nil
}

// bearerTokenFromMD returns errNoToken when no authorization header is present.
func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errNoToken
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return "", errNoToken
	}
	return BearerToken(vals...)
}

// BearerToken picks the first well-formed "Bearer <token>" value.
func BearerToken(vals ...string) (string, error) {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("malformed authorization header")
}
