// Package identity talks to the external identity provider (Supabase
// GoTrue).  It is consulted once per sign-in; afterwards the service's own
// session tokens carry the session.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// User is the identity-provider account behind a credential check.
type User struct {
	ID       string
	Email    string
	Phone    string
	Provider string
	Metadata map[string]any
}

// DisplayName picks a name from OAuth metadata, preferring full_name.
func (u User) DisplayName() string {
	for _, k := range []string{"full_name", "name", "display_name", "user_name"} {
		if v, ok := u.Metadata[k].(string); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Session is the result of a successful sign-in or code exchange.
// ProviderToken and ProviderRefreshToken are the OAuth provider's own
// tokens and are only present after an OAuth exchange.
type Session struct {
	User                 User
	AccessToken          string
	RefreshToken         string
	ExpiresIn            int
	ProviderToken        string
	ProviderRefreshToken string
}

// Provider is the set of identity operations the handlers rely on.
type Provider interface {
	SignUp(ctx context.Context, email, password string, meta map[string]any) (User, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	AuthorizeURL(provider, redirectTo, codeChallenge string) (string, error)
	ExchangeCode(ctx context.Context, code, codeVerifier string) (Session, error)
	UserFromToken(ctx context.Context, accessToken string) (User, error)
	ResetPassword(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, accessToken, newPassword string) error
	VerifyEmail(ctx context.Context, tokenHash string) (User, error)
}

// OAuth providers accepted by AuthorizeURL.
var SupportedProviders = map[string]bool{"google": true, "github": true}

var (
	ErrInvalidCredentials  = errors.New("Invalid email or password")
	ErrUserExists          = errors.New("User with this email already exists")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrUnsupportedProvider = errors.New("unsupported OAuth provider")
	ErrStateNotFound       = errors.New("unknown or expired OAuth state")
)

// ServiceError is returned when the provider is unreachable or answers with
// an unexpected status.  Status is 0 for transport failures.
type ServiceError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("identity %s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("identity %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("identity %s: status %d", e.Op, e.Status)
	}
}

func (e *ServiceError) Unwrap() error { return e.Err }

// ClientError reports whether the provider rejected the request itself
// (a 4xx), as opposed to failing.
func (e *ServiceError) ClientError() bool { return e.Status >= 400 && e.Status < 500 }
