// Package service contains the application services: identity, the request
// lifecycle, donor profiles, donation drives and the change feed.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/bloodlink/internal/crypto"
	"github.com/and161185/bloodlink/internal/errs"
	"github.com/and161185/bloodlink/internal/limiter"
	"github.com/and161185/bloodlink/internal/model"
	"github.com/and161185/bloodlink/internal/repository"
)

// AuthService defines account registration, login and caller resolution.
type AuthService interface {
	// Register creates a new account with secure password hashing.
	Register(ctx context.Context, username, password string, role model.Role) (userID string, err error)
	// LoginWithIP applies rate-limiting and authenticates the user.
	LoginWithIP(ctx context.Context, username, password string, ip string) (tokens model.Tokens, user model.User, err error)
	// CurrentUser resolves an authenticated subject into the caller identity.
	CurrentUser(ctx context.Context, userID uuid.UUID) (model.CurrentUser, error)
}

// Claims are the access token claims.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	profiles  repository.DonorRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	admins    []string
}

// NewAuthService constructs AuthService. Usernames listed in admins are
// reserved: nobody can register them, SeedAdmins creates them.
func NewAuthService(users repository.UserRepository, profiles repository.DonorRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter, admins []string) *AuthServiceImpl {
	var names []string
	for _, a := range admins {
		if a = strings.TrimSpace(a); a != "" {
			names = append(names, a)
		}
	}
	return &AuthServiceImpl{users: users, profiles: profiles, signKey: signKey, accessTTL: accessTTL, lim: lim, admins: names}
}

func (s *AuthServiceImpl) isAdmin(username string) bool {
	for _, a := range s.admins {
		if a == username {
			return true
		}
	}
	return false
}

// SeedAdmins creates every configured admin account that does not exist yet,
// with the given password. A configured name already held by a non-admin
// account is a conflict.
func (s *AuthServiceImpl) SeedAdmins(ctx context.Context, password string) error {
	if len(s.admins) == 0 {
		return nil
	}
	if password == "" {
		return errs.Invalid("admin_password", "required to seed admins")
	}
	for _, name := range s.admins {
		u, err := s.users.GetByUsername(ctx, name)
		switch {
		case err == nil && u.Role == model.RoleAdmin:
			continue
		case err == nil:
			return fmt.Errorf("admin %q is registered as %s: %w", name, u.Role, errs.ErrConflict)
		case !errors.Is(err, errs.ErrNotFound):
			return fmt.Errorf("look up admin %q: %w", name, err)
		}
		if _, err := s.create(ctx, name, password, model.RoleAdmin); err != nil && !errors.Is(err, errs.ErrAlreadyExists) {
			return fmt.Errorf("seed admin %q: %w", name, err)
		}
	}
	return nil
}

// Register creates a new account and its profile row.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string, role model.Role) (string, error) {
	username = strings.TrimSpace(username)
	v := &errs.ValidationError{}
	if username == "" {
		v.Add("username", "required")
	}
	if password == "" {
		v.Add("password", "required")
	}
	if role == "" {
		role = model.RoleRequester
	}
	if role != model.RoleDonor && role != model.RoleRequester {
		v.Add("role", "must be donor or requester")
	}
	if s.isAdmin(username) {
		v.Add("username", "reserved")
	}
	if err := v.OrNil(); err != nil {
		return "", err
	}
	return s.create(ctx, username, password, role)
}

func (s *AuthServiceImpl) create(ctx context.Context, username, password string, role model.Role) (string, error) {
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	saltAuth, err := pkgcrypto.RandBytes(pkgcrypto.SaltLen)
	if err != nil {
		return "", err
	}
	u := &model.User{
		ID:       uid,
		Username: username,
		PwdHash:  pkgcrypto.HashPassword([]byte(password), saltAuth),
		SaltAuth: saltAuth,
		Role:     role,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return "", err
	}
	return uid.String(), nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, retry, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, &errs.CooldownError{Until: time.Now().Add(retry), Remaining: retry}
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil || !pkgcrypto.VerifyPassword([]byte(password), u.SaltAuth, u.PwdHash) {
		if blocked, retry, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, &errs.CooldownError{Until: time.Now().Add(retry), Remaining: retry}
		}
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return model.Tokens{}, model.User{}, err
		}
		// unknown user and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, username, ipHash)

	access, exp, err := s.issueAccessToken(u.ID, u.Role)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

// CurrentUser reads role and verification from the profile so operator
// changes take effect without a new token.
func (s *AuthServiceImpl) CurrentUser(ctx context.Context, userID uuid.UUID) (model.CurrentUser, error) {
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.CurrentUser{}, errs.ErrUnauthorized
		}
		return model.CurrentUser{}, err
	}
	return model.CurrentUser{ID: p.ID, Authenticated: true, Verified: p.IsVerified, Role: p.Role}, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID, role model.Role) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}
