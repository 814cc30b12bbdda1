package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/metrics"
)

// Client is a Provider backed by the GoTrue REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a client for a Supabase project URL and anon key.
func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/auth/v1",
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

type userBody struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u userBody) toUser() User {
	out := User{ID: u.ID, Email: u.Email, Phone: u.Phone, Metadata: u.UserMetadata}
	if p, ok := u.AppMetadata["provider"].(string); ok {
		out.Provider = p
	}
	return out
}

type sessionBody struct {
	AccessToken          string    `json:"access_token"`
	RefreshToken         string    `json:"refresh_token"`
	ExpiresIn            int       `json:"expires_in"`
	ProviderToken        string    `json:"provider_token"`
	ProviderRefreshToken string    `json:"provider_refresh_token"`
	User                 *userBody `json:"user"`
	userBody
}

func (s sessionBody) toSession() Session {
	u := s.userBody
	if s.User != nil {
		u = *s.User
	}
	return Session{
		User:                 u.toUser(),
		AccessToken:          s.AccessToken,
		RefreshToken:         s.RefreshToken,
		ExpiresIn:            s.ExpiresIn,
		ProviderToken:        s.ProviderToken,
		ProviderRefreshToken: s.ProviderRefreshToken,
	}
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e errorBody) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// do sends a JSON request.  Non-2xx answers come back as *apiError, which
// unwraps to *ServiceError.
func (c *Client) do(ctx context.Context, op, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordUpstreamFailure("identity", op)
		c.log.Error().Err(err).Str("op", op).Msg("identity provider unreachable")
		return &ServiceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &ServiceError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		if resp.StatusCode >= 500 {
			metrics.RecordUpstreamFailure("identity", op)
		}
		c.log.Warn().Str("op", op).Int("status", resp.StatusCode).Str("code", eb.ErrorCode).Msg("identity provider rejected request")
		return &apiError{ServiceError: ServiceError{Op: op, Status: resp.StatusCode, Message: eb.text()}, code: eb.ErrorCode}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ServiceError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// apiError keeps the machine readable code next to the ServiceError so the
// operations below can map it to a sentinel.
type apiError struct {
	ServiceError
	code string
}

func (e *apiError) Unwrap() error { return &e.ServiceError }

func asAPIError(err error) (*apiError, bool) {
	var ae *apiError
	ok := errors.As(err, &ae)
	return ae, ok
}

func (c *Client) SignUp(ctx context.Context, email, password string, meta map[string]any) (User, error) {
	in := map[string]any{"email": email, "password": password}
	if len(meta) > 0 {
		in["data"] = meta
	}
	var out sessionBody
	if err := c.do(ctx, "signup", http.MethodPost, "/signup", "", in, &out); err != nil {
		if ae, ok := asAPIError(err); ok {
			msg := strings.ToLower(ae.Message)
			if ae.code == "user_already_exists" || ae.code == "email_exists" || strings.Contains(msg, "already registered") {
				return User{}, ErrUserExists
			}
		}
		return User{}, err
	}
	s := out.toSession()
	if s.User.ID == "" {
		return User{}, &ServiceError{Op: "signup", Message: "Failed to create user account"}
	}
	return s.User, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var out sessionBody
	err := c.do(ctx, "signin", http.MethodPost, "/token?grant_type=password", "",
		map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		if ae, ok := asAPIError(err); ok && ae.ClientError() {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	return out.toSession(), nil
}

// AuthorizeURL builds the browser redirect for an OAuth sign-in with a PKCE
// S256 challenge.
func (c *Client) AuthorizeURL(provider, redirectTo, codeChallenge string) (string, error) {
	if !SupportedProviders[provider] {
		return "", ErrUnsupportedProvider
	}
	q := url.Values{}
	q.Set("provider", provider)
	q.Set("redirect_to", redirectTo)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", "s256")
	return c.baseURL + "/authorize?" + q.Encode(), nil
}

func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (Session, error) {
	var out sessionBody
	err := c.do(ctx, "exchange_code", http.MethodPost, "/token?grant_type=pkce", "",
		map[string]string{"auth_code": code, "code_verifier": codeVerifier}, &out)
	if err != nil {
		if ae, ok := asAPIError(err); ok && ae.ClientError() {
			return Session{}, fmt.Errorf("%w: %s", ErrInvalidToken, ae.Message)
		}
		return Session{}, err
	}
	return out.toSession(), nil
}

func (c *Client) UserFromToken(ctx context.Context, accessToken string) (User, error) {
	var out userBody
	if err := c.do(ctx, "get_user", http.MethodGet, "/user", accessToken, nil, &out); err != nil {
		if ae, ok := asAPIError(err); ok && ae.ClientError() {
			return User{}, ErrInvalidToken
		}
		return User{}, err
	}
	return out.toUser(), nil
}

func (c *Client) ResetPassword(ctx context.Context, email, redirectTo string) error {
	path := "/recover"
	if redirectTo != "" {
		path += "?redirect_to=" + url.QueryEscape(redirectTo)
	}
	return c.do(ctx, "recover", http.MethodPost, path, "", map[string]string{"email": email}, nil)
}

func (c *Client) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	err := c.do(ctx, "update_password", http.MethodPut, "/user", accessToken,
		map[string]string{"password": newPassword}, nil)
	if ae, ok := asAPIError(err); ok && ae.Status == http.StatusUnauthorized {
		return ErrInvalidToken
	}
	return err
}

func (c *Client) VerifyEmail(ctx context.Context, tokenHash string) (User, error) {
	var out sessionBody
	err := c.do(ctx, "verify", http.MethodPost, "/verify", "",
		map[string]string{"type": "email", "token_hash": tokenHash}, &out)
	if err != nil {
		if ae, ok := asAPIError(err); ok && ae.ClientError() {
			return User{}, ErrInvalidToken
		}
		return User{}, err
	}
	return out.toSession().User, nil
}
