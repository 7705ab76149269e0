package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/model"
)

type fakeAuth struct {
	users map[uuid.UUID]model.CurrentUser
}

func (f *fakeAuth) Register(context.Context, string, string, model.Role) (string, error) {
	return uuid.Must(uuid.NewV4()).String(), nil
}
func (f *fakeAuth) LoginWithIP(context.Context, string, string, string) (model.Tokens, model.User, error) {
	return model.Tokens{}, model.User{}, errs.ErrUnauthorized
}
func (f *fakeAuth) CurrentUser(_ context.Context, id uuid.UUID) (model.CurrentUser, error) {
	u, ok := f.users[id]
	if !ok {
		return model.CurrentUser{}, errs.ErrUnauthorized
	}
	return u, nil
}

func makeJWT(t *testing.T, sub string, key []byte, method jwt.SigningMethod, iat time.Time, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(iat),
		NotBefore: jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
	}
	token := jwt.NewWithClaims(method, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func ctxWithAuth(token string) context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	})
	return metadata.NewIncomingContext(context.Background(), md)
}

func newIdentity(t *testing.T) (*Identity, model.CurrentUser) {
	t.Helper()
	u := model.CurrentUser{ID: uuid.Must(uuid.NewV4()), Authenticated: true, Verified: true, Role: model.RoleRequester}
	return NewIdentity([]byte("secret"), &fakeAuth{users: map[uuid.UUID]model.CurrentUser{u.ID: u}}), u
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil || errors.Is(err, errNoToken) {
		t.Fatalf("want malformed error on non-bearer, got %v", err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); !errors.Is(err, errNoToken) {
		t.Fatalf("want errNoToken on no metadata, got %v", err)
	}
	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-other", "1"))
	if _, err := bearerTokenFromMD(ctx); !errors.Is(err, errNoToken) {
		t.Fatalf("want errNoToken without authorization header, got %v", err)
	}
}

func Test_bearerTokenFromMD_MultipleHeaders_CaseInsensitive_Spaces(t *testing.T) {
	t.Parallel()
	md := metadata.New(nil)
	md.Append("authorization", "Basic foo")
	md.Append("authorization", "  bearer   tok.part.sig   ")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "tok.part.sig" {
		t.Fatalf("got=%q err=%v", got, err)
	}
}

func TestIdentity_Resolve(t *testing.T) {
	t.Parallel()

	id, u := newIdentity(t)
	key := []byte("secret")
	now := time.Now().UTC()

	got, err := id.Resolve(context.Background(), "")
	if err != nil || got.Authenticated {
		t.Fatalf("empty token must be anonymous: %+v %v", got, err)
	}

	got, err = id.Resolve(context.Background(), makeJWT(t, u.ID.String(), key, jwt.SigningMethodHS256, now.Add(-time.Minute), 10*time.Minute))
	if err != nil || got != u {
		t.Fatalf("valid token: %+v %v", got, err)
	}

	cases := map[string]string{
		"expired":     makeJWT(t, u.ID.String(), key, jwt.SigningMethodHS256, now.Add(-2*time.Hour), time.Hour),
		"nbf future":  makeJWT(t, u.ID.String(), key, jwt.SigningMethodHS256, now.Add(10*time.Minute), time.Hour),
		"bad subject": makeJWT(t, "not-a-uuid", key, jwt.SigningMethodHS256, now, time.Hour),
		"wrong alg":   makeJWT(t, u.ID.String(), key, jwt.SigningMethodHS384, now, time.Hour),
		"wrong key":   makeJWT(t, u.ID.String(), []byte("other"), jwt.SigningMethodHS256, now, time.Hour),
		"garbage":     "this-is-not-a-jwt",
		"unknown sub": makeJWT(t, uuid.Must(uuid.NewV4()).String(), key, jwt.SigningMethodHS256, now, time.Hour),
	}
	for name, tok := range cases {
		if _, err := id.Resolve(context.Background(), tok); status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: want Unauthenticated, got %v", name, err)
		}
	}
}

func TestIdentity_UnaryInterceptor(t *testing.T) {
	t.Parallel()

	id, u := newIdentity(t)
	ic := id.Unary()
	var seen model.CurrentUser
	var session string
	h := func(ctx context.Context, req any) (any, error) {
		seen = CallerFromCtx(ctx)
		session = SessionFromCtx(ctx)
		return "ok", nil
	}

	if _, err := ic(context.Background(), nil, nil, h); err != nil || seen.Authenticated || session != "" {
		t.Fatalf("anonymous call: %+v %q %v", seen, session, err)
	}

	tok := makeJWT(t, u.ID.String(), []byte("secret"), jwt.SigningMethodHS256, time.Now().UTC(), time.Hour)
	if _, err := ic(ctxWithAuth(tok), nil, nil, h); err != nil || seen != u || session == "" {
		t.Fatalf("authenticated call: %+v %q %v", seen, session, err)
	}

	bad := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Digest b"))
	if _, err := ic(bad, nil, nil, h); status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated for malformed header, got %v", err)
	}
}

type loopbackAddr struct{}

func (loopbackAddr) Network() string { return "tcp" }
func (loopbackAddr) String() string  { return "127.0.0.1:5555" }

func Test_remoteIP(t *testing.T) {
	t.Parallel()
	if got := remoteIP(context.Background()); got != "" {
		t.Fatalf("want empty without peer, got %q", got)
	}
	pctx := peer.NewContext(context.Background(), &peer.Peer{Addr: loopbackAddr{}})
	if got := remoteIP(pctx); got != "127.0.0.1" {
		t.Fatalf("want host without port, got %q", got)
	}
}

func Test_toStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		code   codes.Code
		prefix string
	}{
		{errs.Invalid("units_needed", "must be between 1 and 10"), codes.InvalidArgument, "VALIDATION_ERROR: "},
		{errs.ErrNotFound, codes.NotFound, "NOT_FOUND: "},
		{errs.ErrNotActive, codes.FailedPrecondition, "NOT_ACTIVE: "},
		{errs.ErrUnauthorized, codes.Unauthenticated, "AUTHORIZATION_ERROR: "},
		{errs.Denied("DONOR_NOT_VERIFIED"), codes.PermissionDenied, "AUTHORIZATION_ERROR:DONOR_NOT_VERIFIED: "},
		{&errs.CooldownError{Until: time.Now(), Remaining: time.Minute}, codes.ResourceExhausted, "RATE_LIMIT_EXCEEDED: "},
		{errs.ErrAlreadyExists, codes.AlreadyExists, "CONFLICT: "},
		{errs.ErrConflict, codes.Aborted, "CONFLICT: "},
		{errors.New("db exploded at 10.0.0.3"), codes.Internal, "INTERNAL_ERROR: internal"},
	}
	for _, tc := range cases {
		st, _ := status.FromError(toStatus(tc.err))
		if st.Code() != tc.code {
			t.Fatalf("%v: code %s, want %s", tc.err, st.Code(), tc.code)
		}
		if len(st.Message()) < len(tc.prefix) || st.Message()[:len(tc.prefix)] != tc.prefix {
			t.Fatalf("%v: message %q, want prefix %q", tc.err, st.Message(), tc.prefix)
		}
	}

	already := status.Error(codes.Unavailable, "x")
	if toStatus(already) != already {
		t.Fatalf("status errors must pass through")
	}
	if toStatus(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}
