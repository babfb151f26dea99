package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/deals-auth-api/internal/models"
	"github.com/noah-isme/deals-auth-api/internal/repository"
	appErrors "github.com/noah-isme/deals-auth-api/pkg/errors"
)

type sessionUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type refreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, id string, revokedAt time.Time) error
	Rotate(ctx context.Context, oldID string, next *models.RefreshToken, now time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) error
}

type sweepThrottle interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type userSweeper interface {
	EnqueueUserSweep(userID string) error
}

// SessionConfig defines configuration for session lifecycle flows.
type SessionConfig struct {
	RefreshExpiry time.Duration
	SingleSession bool
	SweepThrottle time.Duration
}

// SessionService orchestrates login, refresh token rotation, logout and
// validation. Refresh tokens are single use: redeeming one revokes it and
// issues a replacement, so a stolen token replayed after the legitimate
// rotation finds the record already consumed and fails.
type SessionService struct {
	users     sessionUserRepository
	tokens    refreshTokenStore
	signer    *TokenSigner
	throttle  sweepThrottle
	sweeper   userSweeper
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	config    SessionConfig
}

// NewSessionService constructs a SessionService instance.
func NewSessionService(users sessionUserRepository, tokens refreshTokenStore, signer *TokenSigner, validate *validator.Validate, logger *zap.Logger, config SessionConfig) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.RefreshExpiry <= 0 {
		config.RefreshExpiry = 7 * 24 * time.Hour
	}
	if config.SweepThrottle <= 0 {
		config.SweepThrottle = 5 * time.Minute
	}
	return &SessionService{users: users, tokens: tokens, signer: signer, validator: validate, logger: logger, config: config}
}

// WithSweeper attaches the cleanup sweeper used for opportunistic per-user
// sweeps and the throttle that bounds how often they run.
func (s *SessionService) WithSweeper(sweeper userSweeper, throttle sweepThrottle) *SessionService {
	s.sweeper = sweeper
	s.throttle = throttle
	return s
}

// WithMetrics attaches the metrics service.
func (s *SessionService) WithMetrics(metrics *MetricsService) *SessionService {
	s.metrics = metrics
	return s
}

// Login authenticates a credential pair and opens a new session. The error
// for an unknown email and a wrong password is identical so the endpoint
// cannot be used to enumerate accounts.
func (s *SessionService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordLogin(false)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to fetch user")
	}

	if !user.Active {
		s.recordLogin(false)
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordLogin(false)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if s.config.SingleSession {
		if err := s.tokens.RevokeAllForUser(ctx, user.ID, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to revoke previous refresh tokens", zap.Error(err))
		}
	}

	pair, record, err := s.issuePair(user, req.IP, req.UserAgent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}

	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to persist refresh token")
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.audit(ctx, user.ID, models.AuditActionLogin, []byte(`{"status":"success"}`), req.IP, req.UserAgent)
	s.recordLogin(true)

	return &models.LoginResponse{
		TokenPair: *pair,
		User: models.UserInfo{
			ID:          user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
			Role:        user.Role,
		},
	}, nil
}

// Refresh redeems a refresh token for a new token pair, rotating the
// presented record. Any invalid presentation (unknown, revoked or expired)
// yields the same opaque error.
//
// Callers should be aware of one accepted failure mode: if the rotation
// commits but the response is lost in transit, the client still holds the
// consumed token and its next refresh fails. The client must then
// re-authenticate; the server cannot tell that case apart from a replayed
// stolen token.
func (s *SessionService) Refresh(ctx context.Context, presented string, ip, userAgent string) (*models.TokenPair, error) {
	if presented == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
	}

	stored, err := s.tokens.FindByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordRefresh("rejected")
			return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to fetch refresh token")
	}

	if !stored.Valid(time.Now().UTC()) {
		s.recordRefresh("rejected")
		return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordRefresh("rejected")
			return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load user")
	}

	if !user.Active {
		s.recordRefresh("rejected")
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}

	pair, next, err := s.issuePair(user, ip, userAgent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}

	if err := s.tokens.Rotate(ctx, stored.ID, next, time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrTokenConsumed) {
			// Lost the race against a concurrent refresh of the same token.
			s.recordRefresh("replay")
			return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to rotate refresh token")
	}

	s.audit(ctx, user.ID, models.AuditActionRefresh, []byte(`{"refresh":"rotated"}`), ip, userAgent)
	s.recordRefresh("rotated")
	s.scheduleUserSweep(ctx, user.ID)

	return pair, nil
}

// RevokeRefreshToken revokes the presented token. Used by logout; revoking
// an unknown or already revoked token succeeds so repeated logouts are
// harmless and a stale cookie never blocks signing out.
func (s *SessionService) RevokeRefreshToken(ctx context.Context, presented string, ip, userAgent string) error {
	stored, err := s.tokens.FindByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load refresh token")
	}

	if err := s.tokens.Revoke(ctx, stored.ID, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to revoke refresh token")
	}

	s.audit(ctx, stored.UserID, models.AuditActionLogout, []byte(`{"status":"logout"}`), ip, userAgent)
	return nil
}

// RevokeAllSessions revokes every live refresh token the user holds, for
// "log out everywhere" flows.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID string) error {
	if err := s.tokens.RevokeAllForUser(ctx, userID, time.Now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to revoke user sessions")
	}
	s.audit(ctx, userID, models.AuditActionRevokeAll, []byte(`{"status":"revoked_all"}`), "", "")
	return nil
}

// ValidateRefreshToken reports whether the presented token is currently
// redeemable. Read-only: it never consumes or rotates the token, so clients
// can probe "am I still logged in" without burning their session.
func (s *SessionService) ValidateRefreshToken(ctx context.Context, presented string) (bool, error) {
	if presented == "" {
		return false, nil
	}

	stored, err := s.tokens.FindByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to fetch refresh token")
	}

	return stored.Valid(time.Now().UTC()), nil
}

// ValidateAccessToken parses and validates an access token returning the claims.
func (s *SessionService) ValidateAccessToken(tokenString string) (*models.JWTClaims, error) {
	return s.signer.Parse(tokenString)
}

func (s *SessionService) issuePair(user *models.User, ip, userAgent string) (*models.TokenPair, *models.RefreshToken, error) {
	accessToken, accessExpiry, err := s.signer.Sign(user)
	if err != nil {
		return nil, nil, err
	}

	refreshValue, err := generateRefreshTokenValue()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	record := &models.RefreshToken{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Token:          refreshValue,
		ExpiresAt:      now.Add(s.config.RefreshExpiry),
		Revoked:        false,
		CreatedAt:      now,
		LastModifiedAt: now,
		IPAddress:      ip,
		UserAgent:      userAgent,
	}

	pair := &models.TokenPair{
		AccessToken:   accessToken,
		AccessExpiry:  accessExpiry,
		RefreshToken:  refreshValue,
		RefreshExpiry: record.ExpiresAt,
	}
	return pair, record, nil
}

// scheduleUserSweep enqueues a stale-token sweep for the user, at most once
// per throttle window. Best effort: the hot path never blocks on deletion
// and a skipped sweep only delays storage reclamation.
func (s *SessionService) scheduleUserSweep(ctx context.Context, userID string) {
	if s.sweeper == nil {
		return
	}
	if s.throttle != nil {
		ok, err := s.throttle.SetNX(ctx, "session:sweep:"+userID, s.config.SweepThrottle)
		if err != nil {
			s.logger.Warn("sweep throttle check failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}
	}
	if err := s.sweeper.EnqueueUserSweep(userID); err != nil {
		s.logger.Warn("failed to enqueue user sweep", zap.String("user_id", userID), zap.Error(err))
	}
}

func (s *SessionService) audit(ctx context.Context, userID, action string, details []byte, ip, userAgent string) {
	if err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "session",
		ResourceID: &userID,
		Details:    details,
		IPAddress:  ip,
		UserAgent:  userAgent,
	}); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *SessionService) recordLogin(success bool) {
	if s.metrics != nil {
		s.metrics.RecordLogin(success)
	}
}

func (s *SessionService) recordRefresh(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordRefresh(outcome)
	}
}

func generateRefreshTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
