// Package auth authenticates incoming credentials and issues admin sessions.
// Two credential kinds are accepted on the same Authorization header: API
// tokens (tk_ prefixed, hashed at rest) and JWT admin sessions.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/bloomworks/bloom/internal/model"
	"github.com/bloomworks/bloom/internal/store"
	"github.com/bloomworks/bloom/internal/token"
)

var (
	// ErrInvalidCredentials covers every rejection that must stay
	// indistinguishable to the caller: unknown token, bad format, expired,
	// revoked, inactive owner, bad password. Handlers map it to a single
	// generic 401 so responses cannot be used as an enumeration oracle.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrIPNotAllowed is the one distinguishable failure: the token itself
	// is valid but the caller address misses its IP allowlist. Handlers map
	// it to 403.
	ErrIPNotAllowed = errors.New("ip not allowed")

	// ErrAccountLocked is returned by Login when the account is locked out
	// after repeated failures.
	ErrAccountLocked = errors.New("account locked")
)

// Lockout policy for admin logins.
const (
	maxFailedLogins = 5
	lockoutDuration = 15 * time.Minute
)

// dummyHash is compared against when the username is unknown, so both
// branches pay the bcrypt cost.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// PrincipalKind discriminates how a principal authenticated.
type PrincipalKind string

const (
	KindSession  PrincipalKind = "session"
	KindAPIToken PrincipalKind = "api_token"
)

// Principal is the authenticated identity attached to a request. For API
// token principals Token is set; session principals carry only the user.
type Principal struct {
	Kind  PrincipalKind
	User  *model.User
	Token *model.APIToken
}

// HasPermission reports whether the principal may perform an action guarded
// by perm. Session principals are permission-unrestricted; their access is
// governed by role checks instead.
func (p *Principal) HasPermission(perm model.Permission) bool {
	if p.Kind == KindSession {
		return true
	}
	return p.Token != nil && p.Token.HasPermission(perm)
}

// Service validates credentials against the store and signs admin sessions.
type Service struct {
	store      *store.Store
	jwtSecret  []byte
	sessionTTL time.Duration
	logger     *slog.Logger
}

func NewService(st *store.Store, jwtSecret string, sessionTTL time.Duration, logger *slog.Logger) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Service{
		store:      st,
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

// Authenticate validates a bearer credential of either kind and returns the
// principal. sourceIP is the caller address used for allowlist checks and
// audit entries.
func (s *Service) Authenticate(ctx context.Context, credential, sourceIP string) (*Principal, error) {
	if token.HasTag(credential) {
		return s.ValidateAPIToken(ctx, credential, sourceIP)
	}
	return s.ValidateSession(ctx, credential)
}

// ValidateAPIToken checks a raw API token end to end: format, hash lookup,
// lifecycle state, IP allowlist, and owner state. Every outcome is audited;
// the raw token never reaches a log or audit entry.
func (s *Service) ValidateAPIToken(ctx context.Context, raw, sourceIP string) (*Principal, error) {
	// Reject malformed input before touching the database.
	if !token.ValidFormat(raw) {
		s.audit(ctx, model.AuditTokenUsed, nil, sourceIP, false, "malformed token")
		return nil, ErrInvalidCredentials
	}

	tok, err := s.store.GetAPITokenByHash(ctx, token.Hash(raw))
	if err != nil {
		s.audit(ctx, model.AuditTokenUsed, nil, sourceIP, false, "unknown token")
		return nil, ErrInvalidCredentials
	}

	if !tok.Usable(time.Now()) {
		s.audit(ctx, model.AuditTokenUsed, &tok.UserID, sourceIP, false, "token expired or revoked")
		return nil, ErrInvalidCredentials
	}

	if !tok.AllowsIP(sourceIP) {
		s.audit(ctx, model.AuditUnauthorizedAccess, &tok.UserID, sourceIP, false, "ip not in allowlist")
		return nil, ErrIPNotAllowed
	}

	user, err := s.store.GetUser(ctx, tok.UserID)
	if err != nil || !user.IsActive {
		s.audit(ctx, model.AuditTokenUsed, &tok.UserID, sourceIP, false, "owner inactive")
		return nil, ErrInvalidCredentials
	}

	if err := s.store.TouchAPIToken(ctx, tok.ID); err != nil {
		// Usage accounting must not block an otherwise valid request.
		s.logger.Warn("touch api token", "token_id", tok.ID, "error", err)
	}

	s.audit(ctx, model.AuditTokenUsed, &tok.UserID, sourceIP, true, "token "+tok.TokenPrefix)

	return &Principal{Kind: KindAPIToken, User: user, Token: tok}, nil
}

// ValidateSession verifies a signed session JWT and loads its user. Tokens
// signed with anything but HMAC are rejected outright.
func (s *Service) ValidateSession(ctx context.Context, tokenStr string) (*Principal, error) {
	claims := &sessionClaims{}

	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidCredentials
	}

	user, err := s.store.GetUser(ctx, claims.UserID)
	if err != nil || !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	return &Principal{Kind: KindSession, User: user}, nil
}

// Login verifies a username/password pair, enforcing the failed-login
// lockout, and returns a signed session token on success.
func (s *Service) Login(ctx context.Context, username, password, sourceIP string) (string, *model.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		// Burn a comparison so missing and present usernames take
		// similar time.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		s.audit(ctx, model.AuditLoginFailure, nil, sourceIP, false, "unknown username")
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now()
	if user.Locked(now) {
		s.audit(ctx, model.AuditLoginFailure, &user.ID, sourceIP, false, "account locked")
		return "", nil, ErrAccountLocked
	}

	if !user.IsActive {
		s.audit(ctx, model.AuditLoginFailure, &user.ID, sourceIP, false, "account disabled")
		return "", nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		var lockedUntil *time.Time
		if user.FailedLogins+1 >= maxFailedLogins {
			t := now.Add(lockoutDuration)
			lockedUntil = &t
		}
		if err := s.store.RecordLoginFailure(ctx, user.ID, lockedUntil); err != nil {
			s.logger.Warn("record login failure", "user_id", user.ID, "error", err)
		}
		s.audit(ctx, model.AuditLoginFailure, &user.ID, sourceIP, false, "wrong password")
		return "", nil, ErrInvalidCredentials
	}

	if err := s.store.RecordLoginSuccess(ctx, user.ID); err != nil {
		s.logger.Warn("record login success", "user_id", user.ID, "error", err)
	}
	s.audit(ctx, model.AuditLoginSuccess, &user.ID, sourceIP, true, "")

	session, err := s.IssueSession(user)
	if err != nil {
		return "", nil, err
	}
	return session, user, nil
}

// IssueSession creates a signed session JWT for the given user.
func (s *Service) IssueSession(user *model.User) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		UserID: user.ID,
		Role:   string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
			Issuer:    "bloom",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

// HashPassword wraps bcrypt with the default cost. Shared by the signup
// handler and the admin CLI.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type sessionClaims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// audit writes a security event best-effort. Audit failures are logged and
// swallowed: auditing must never decide a request.
func (s *Service) audit(ctx context.Context, eventType string, userID *int64, sourceIP string, success bool, detail string) {
	e := &model.SecurityEvent{
		EventType: eventType,
		UserID:    userID,
		SourceIP:  sourceIP,
		Success:   success,
		Detail:    detail,
	}
	if err := s.store.AppendSecurityEvent(ctx, e); err != nil {
		s.logger.Warn("append security event", "event_type", eventType, "error", err)
	}
}
