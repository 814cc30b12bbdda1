package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/chama-backend/internal/config"
	"github.com/iliyamo/chama-backend/internal/handler"
	"github.com/iliyamo/chama-backend/internal/model"
	"github.com/iliyamo/chama-backend/internal/repository"
	"github.com/iliyamo/chama-backend/internal/service"
)

// tokens maps bearer tokens to users.
type tokens map[string]model.CurrentUser

func (t tokens) CurrentUser(_ context.Context, tok string) (model.CurrentUser, error) {
	if tok == "" {
		return model.CurrentUser{}, service.ErrNoToken
	}
	u, ok := t[tok]
	if !ok {
		return model.CurrentUser{}, service.ErrUnauthorized
	}
	return u, nil
}

func (t tokens) LookupUser(ctx context.Context, tok string) service.Lookup {
	u, err := t.CurrentUser(ctx, tok)
	if err != nil {
		return service.Lookup{State: service.UserAbsent}
	}
	return service.Lookup{State: service.UserFound, User: u}
}

// access knows one group, g1, administered by u-admin.
type access struct{}

func (access) GroupExists(_ context.Context, id string) (bool, error) { return id == "g1", nil }
func (access) IsAdmin(_ context.Context, groupID, userID string) (bool, error) {
	return groupID == "g1" && userID == "u-admin", nil
}

// memberStatuses implements only what UpdateMemberStatus calls.
type memberStatuses struct {
	handler.MemberStore
	updated []string
}

func (m *memberStatuses) UpdateStatus(_ context.Context, groupID, memberID, status string) (model.Member, error) {
	m.updated = append(m.updated, memberID)
	return model.Member{ID: memberID, GroupID: groupID, Status: status}, nil
}

type inbox struct{}

func (inbox) ListForUser(context.Context, string, bool, repository.ListParams) ([]model.Notification, error) {
	return []model.Notification{}, nil
}
func (inbox) MarkRead(context.Context, string, string) error { return nil }

func newTestRouter(t *testing.T) (*echo.Echo, *memberStatuses) {
	t.Helper()
	members := &memberStatuses{}
	e := New(Options{
		Config: config.Config{FrontendURL: "http://frontend.test"},
		Log:    zerolog.Nop(),
		Resolver: tokens{
			"admin-token":  {UserID: "u-admin", Email: "admin@example.com"},
			"member-token": {UserID: "u-member", Email: "member@example.com"},
		},
		Access: access{},
	}, Handlers{
		Auth:          &handler.AuthHandler{},
		Profiles:      &handler.ProfileHandler{},
		Groups:        &handler.GroupHandler{Members: members},
		Contributions: &handler.ContributionHandler{},
		Notifications: handler.NewNotificationHandler(inbox{}),
		Blockchain:    &handler.BlockchainHandler{},
	})
	return e, members
}

func serve(e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func detailOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	s, _ := body["detail"].(string)
	return s
}

// publicRoutes may be called without a session.
var publicRoutes = map[string]bool{
	"POST /api/v1/auth/register":        true,
	"POST /api/v1/auth/login":           true,
	"POST /api/v1/auth/refresh":         true,
	"POST /api/v1/auth/logout":          true,
	"POST /api/v1/auth/verify-token":    true,
	"POST /api/v1/auth/reset-password":  true,
	"POST /api/v1/auth/update-password": true,
	"POST /api/v1/auth/verify-email":    true,
	"GET /api/v1/auth/oauth/callback":   true,
	"GET /api/v1/auth/oauth/:provider":  true,
	"POST /api/v1/auth/oauth/exchange":  true,
}

var pathParam = strings.NewReplacer(":id", "g1", ":member_id", "m1", ":admin_id", "a1",
	":user_id", "u1", ":group_id", "g1", ":provider", "github")

func TestProtectedRoutesRequireSession(t *testing.T) {
	e, _ := newTestRouter(t)

	seen := map[string]bool{}
	checked := 0
	for _, r := range e.Routes() {
		switch r.Method {
		case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
		default:
			continue
		}
		if !strings.HasPrefix(r.Path, "/api/v1/") {
			continue
		}
		key := r.Method + " " + r.Path
		if publicRoutes[key] {
			seen[key] = true
			continue
		}
		rec := serve(e, r.Method, pathParam.Replace(r.Path), "", "{}")
		if assert.Equal(t, http.StatusUnauthorized, rec.Code, key) {
			assert.Equal(t, "Not authenticated - no token found", detailOf(t, rec), key)
			assert.Equal(t, "Bearer", rec.Header().Get(echo.HeaderWWWAuthenticate), key)
		}
		checked++
	}
	assert.Greater(t, checked, 35)
	for key := range publicRoutes {
		assert.True(t, seen[key], "public route %s is not registered", key)
	}
}

func TestInvalidTokenIsRejected(t *testing.T) {
	e, _ := newTestRouter(t)
	rec := serve(e, http.MethodGet, "/api/v1/notifications", "forged", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Could not validate credentials", detailOf(t, rec))

	rec = serve(e, http.MethodGet, "/api/v1/notifications", "member-token", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestGroupAdminRoutes(t *testing.T) {
	e, members := newTestRouter(t)
	body := `{"status":"inactive"}`

	rec := serve(e, http.MethodPut, "/api/v1/groups/g1/members/m1", "member-token", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Only group admins can perform this action", detailOf(t, rec))

	for _, path := range []string{"/api/v1/groups/g1", "/api/v1/groups/g1/members/m1", "/api/v1/groups/g1/admins/a1"} {
		rec = serve(e, http.MethodDelete, path, "member-token", "")
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}

	rec = serve(e, http.MethodPut, "/api/v1/groups/missing/members/m1", "admin-token", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Group not found", detailOf(t, rec))
	assert.Empty(t, members.updated)

	rec = serve(e, http.MethodPut, "/api/v1/groups/g1/members/m1", "admin-token", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"m1"}, members.updated)
}

func TestOperationalEndpoints(t *testing.T) {
	e, _ := newTestRouter(t)

	rec := serve(e, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = serve(e, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chama_http_requests_total")
}

func TestCORSAllowsFrontend(t *testing.T) {
	e, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/groups", nil)
	req.Header.Set(echo.HeaderOrigin, "http://frontend.test")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodGet)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, "http://frontend.test", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "true", rec.Header().Get(echo.HeaderAccessControlAllowCredentials))
}
