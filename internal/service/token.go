// Package service implements the session-token lifecycle: minting access and
// refresh tokens, persisting refresh-token records and resolving the caller
// behind a token.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/metrics"
	"github.com/iliyamo/chama-backend/internal/model"
	"github.com/iliyamo/chama-backend/internal/repository"
	"github.com/iliyamo/chama-backend/internal/utils"
)

// RefreshTTL is the fixed lifetime of a refresh token.
const RefreshTTL = 30 * 24 * time.Hour

var (
	// ErrNoToken means neither a cookie nor an Authorization header carried
	// a token.
	ErrNoToken = errors.New("Not authenticated - no token found")
	// ErrUnauthorized covers bad signature, expiry and wrong token type.
	ErrUnauthorized = errors.New("could not validate credentials")
)

// TokenStore is the persistence the service needs for refresh tokens.
type TokenStore interface {
	ReplaceForUser(ctx context.Context, rt model.RefreshToken) error
	FindActiveByJTI(ctx context.Context, jti string, now time.Time) (model.RefreshToken, error)
	RevokeByJTI(ctx context.Context, jti string) error
}

// ProfileReader loads the profile behind a token subject.
type ProfileReader interface {
	GetByUserID(ctx context.Context, userID string) (model.Profile, error)
}

// TokenConfig holds the signing settings.
type TokenConfig struct {
	Secret     string
	AccessTTL  time.Duration
	BcryptCost int
}

// TokenService is constructed once in main and shared by the handlers.
type TokenService struct {
	cfg      TokenConfig
	tokens   TokenStore
	profiles ProfileReader
	log      zerolog.Logger
	now      func() time.Time
}

func NewTokenService(cfg TokenConfig, tokens TokenStore, profiles ProfileReader, log zerolog.Logger) *TokenService {
	return &TokenService{cfg: cfg, tokens: tokens, profiles: profiles, log: log, now: time.Now}
}

// AccessTTL is the configured access-token lifetime.
func (s *TokenService) AccessTTL() time.Duration { return s.cfg.AccessTTL }

// IssueAccessToken signs a short-lived access token.  A zero ttl uses the
// configured lifetime.
func (s *TokenService) IssueAccessToken(userID, email string, ttl time.Duration) (utils.SignedToken, error) {
	if ttl <= 0 {
		ttl = s.cfg.AccessTTL
	}
	tok, err := utils.Sign(s.cfg.Secret, utils.TypeAccess, userID, email, "", ttl, s.now())
	if err == nil {
		metrics.TokensIssued.WithLabelValues(utils.TypeAccess).Inc()
	}
	return tok, err
}

// IssueRefreshToken signs a refresh token with a fresh jti.  Nothing is
// stored until PersistRefreshToken.
func (s *TokenService) IssueRefreshToken(userID, email string) (utils.SignedToken, error) {
	tok, err := utils.Sign(s.cfg.Secret, utils.TypeRefresh, userID, email, uuid.NewString(), RefreshTTL, s.now())
	if err == nil {
		metrics.TokensIssued.WithLabelValues(utils.TypeRefresh).Inc()
	}
	return tok, err
}

// PersistRefreshToken stores token as the user's only live refresh token;
// every earlier active row is revoked in the same transaction.
func (s *TokenService) PersistRefreshToken(ctx context.Context, userID, token string) error {
	claims, err := utils.Parse(s.cfg.Secret, token)
	if err != nil {
		return err
	}
	if claims.Type != utils.TypeRefresh || claims.ID == "" {
		return fmt.Errorf("%w: not a refresh token", ErrUnauthorized)
	}
	hash, err := utils.HashToken(token, s.cfg.BcryptCost)
	if err != nil {
		return err
	}
	return s.tokens.ReplaceForUser(ctx, model.RefreshToken{
		JTI:       claims.ID,
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

// ValidateRefreshToken returns the claims of a live refresh token.  It
// fails closed: any decode, lookup or hash mismatch is ErrUnauthorized.
func (s *TokenService) ValidateRefreshToken(ctx context.Context, token string) (utils.Claims, error) {
	claims, err := utils.Parse(s.cfg.Secret, token)
	if err != nil || claims.Type != utils.TypeRefresh || claims.ID == "" {
		return utils.Claims{}, ErrUnauthorized
	}
	row, err := s.tokens.FindActiveByJTI(ctx, claims.ID, s.now())
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Error().Err(err).Msg("refresh token lookup failed")
		}
		return utils.Claims{}, ErrUnauthorized
	}
	if row.UserID != claims.Subject || !utils.CheckTokenHash(row.TokenHash, token) {
		return utils.Claims{}, ErrUnauthorized
	}
	return claims, nil
}

// RevokeRefreshToken is best effort: tokens that do not decode or rows that
// are already revoked are ignored.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, token string) {
	claims, err := utils.Parse(s.cfg.Secret, token)
	if err != nil || claims.ID == "" {
		return
	}
	if err := s.tokens.RevokeByJTI(ctx, claims.ID); err != nil {
		s.log.Warn().Err(err).Str("jti", claims.ID).Msg("refresh token revoke failed")
	}
}

// VerifyToken checks signature and expiry of an access or refresh token.
func (s *TokenService) VerifyToken(token string) (utils.Claims, error) {
	claims, err := utils.Parse(s.cfg.Secret, token)
	if err != nil {
		return utils.Claims{}, ErrUnauthorized
	}
	if claims.Type != utils.TypeAccess && claims.Type != utils.TypeRefresh {
		return utils.Claims{}, ErrUnauthorized
	}
	return claims, nil
}

// CurrentUser resolves an access token to the caller's profile.  A missing
// profile surfaces repository.ErrProfileNotFound.
func (s *TokenService) CurrentUser(ctx context.Context, token string) (model.CurrentUser, error) {
	if token == "" {
		return model.CurrentUser{}, ErrNoToken
	}
	claims, err := utils.Parse(s.cfg.Secret, token)
	if err != nil || claims.Type != utils.TypeAccess {
		return model.CurrentUser{}, ErrUnauthorized
	}
	p, err := s.profiles.GetByUserID(ctx, claims.Subject)
	if err != nil {
		return model.CurrentUser{}, err
	}
	return model.CurrentUser{UserID: claims.Subject, Email: claims.Email, Profile: p}, nil
}

// LookupState is the outcome of an optional identity lookup.
type LookupState int

const (
	UserAbsent LookupState = iota
	UserFound
	LookupFailed
)

// Lookup is the tri-state result of LookupUser.
type Lookup struct {
	State LookupState
	User  model.CurrentUser
	Err   error
}

// LookupUser resolves an optional caller.  No token, a bad token or a token
// without a profile are Absent; infrastructure errors are Failed.
func (s *TokenService) LookupUser(ctx context.Context, token string) Lookup {
	u, err := s.CurrentUser(ctx, token)
	switch {
	case err == nil:
		return Lookup{State: UserFound, User: u}
	case errors.Is(err, ErrNoToken), errors.Is(err, ErrUnauthorized), errors.Is(err, repository.ErrNotFound):
		return Lookup{State: UserAbsent}
	default:
		return Lookup{State: LookupFailed, Err: err}
	}
}

// TokenPair is the result of a successful sign-in.
type TokenPair struct {
	Access  utils.SignedToken
	Refresh utils.SignedToken
}

// IssuePair mints both tokens and persists the refresh token.
func (s *TokenService) IssuePair(ctx context.Context, userID, email string) (TokenPair, error) {
	access, err := s.IssueAccessToken(userID, email, 0)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(userID, email)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.PersistRefreshToken(ctx, userID, refresh.Token); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}
