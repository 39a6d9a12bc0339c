package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/session-auth/internal/config"
	"github.com/iliyamo/session-auth/internal/repository"
	"github.com/iliyamo/session-auth/internal/repository/repotest"
	"github.com/iliyamo/session-auth/internal/router"
	"github.com/iliyamo/session-auth/internal/service"
	"github.com/iliyamo/session-auth/internal/utils"
)

type api struct {
	t        *testing.T
	e        *echo.Echo
	sessions *service.SessionManager
}

type pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         struct {
		ID       uint64 `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
		Role     string `json:"role"`
	} `json:"user"`
}

func newAPI(t *testing.T) *api {
	t.Helper()
	db := repotest.NewDB(t)
	codec, err := utils.NewTokenCodec("router-test-secret-router-test-secret", "session-auth", 5*time.Minute, 15*time.Minute)
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	sessions := service.NewSessionManager(repository.NewStore(db), utils.NewBcryptHasher(bcrypt.MinCost), codec, service.Options{Logger: log})
	e := router.New(router.Deps{
		Sessions:  sessions,
		Codec:     codec,
		DB:        db,
		RateLimit: config.RateLimitConfig{Enabled: false},
		Logger:    log,
	})
	return &api{t: t, e: e, sessions: sessions}
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

// register signs up a plain user through the public endpoint.
func (a *api) register(username, email string) uint64 {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": username, "email": email, "password": "s3cret-password",
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeID(a.t, rec)
}

// seedAdmin creates the first administrator directly, the way an operator
// bootstraps a deployment.
func (a *api) seedAdmin(username, email string) uint64 {
	a.t.Helper()
	u, err := a.sessions.Register(context.Background(), service.RegisterInput{
		Username: username, Email: email, Password: "s3cret-password", Role: "admin",
	})
	require.NoError(a.t, err)
	return u.ID
}

// createUser adds an account with role through the admin endpoint.
func (a *api) createUser(adminToken, username, email, role string) uint64 {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/v1/admin/users", adminToken, map[string]string{
		"username": username, "email": email, "password": "s3cret-password", "role": role,
	})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeID(a.t, rec)
}

func decodeID(t *testing.T, rec *httptest.ResponseRecorder) uint64 {
	t.Helper()
	var u struct {
		ID uint64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	return u.ID
}

func (a *api) login(path, email string) (*httptest.ResponseRecorder, pair) {
	a.t.Helper()
	rec := a.do(http.MethodPost, path, "", map[string]string{"email": email, "password": "s3cret-password"})
	var p pair
	if rec.Code == http.StatusOK {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &p))
	}
	return rec, p
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	code, _ := body["error"].(string)
	return code
}

func TestLoginMeLogout(t *testing.T) {
	a := newAPI(t)
	a.register("alice", "Alice@Example.com")

	rec, p := a.login("/v1/auth/login", "alice@example.com")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, p.AccessToken)
	assert.NotEmpty(t, p.RefreshToken)
	assert.Equal(t, "alice@example.com", p.User.Email)
	assert.Equal(t, "user", p.User.Role)

	me := a.do(http.MethodGet, "/v1/me", p.AccessToken, nil)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), `"username":"alice"`)

	out := a.do(http.MethodPost, "/v1/auth/logout", p.AccessToken, nil)
	assert.Equal(t, http.StatusOK, out.Code)

	after := a.do(http.MethodGet, "/v1/me", p.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, after.Code)
	assert.Equal(t, "invalid_token", errorCode(t, after))

	// A fresh login works once the session is gone.
	rec, _ = a.login("/v1/auth/login", "alice@example.com")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConflictAndTakeover(t *testing.T) {
	a := newAPI(t)
	a.register("bob", "bob@example.com")

	_, first := a.login("/v1/auth/login", "bob@example.com")
	require.NotEmpty(t, first.AccessToken)

	rec, _ := a.login("/v1/auth/login", "bob@example.com")
	require.Equal(t, http.StatusConflict, rec.Code)
	var conflict struct {
		Action string `json:"action"`
		User   struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conflict))
	assert.Equal(t, "confirm_logout", conflict.Action)
	assert.Equal(t, "bob@example.com", conflict.User.Email)

	rec, second := a.login("/v1/auth/confirm-logout-login", "bob@example.com")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	old := a.do(http.MethodGet, "/v1/me", first.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, old.Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/me", second.AccessToken, nil).Code)

	stale := a.do(http.MethodPost, "/v1/auth/refresh-token", "", map[string]string{"refreshToken": first.RefreshToken})
	assert.Equal(t, http.StatusForbidden, stale.Code)
}

func TestRefreshRotation(t *testing.T) {
	a := newAPI(t)
	a.register("carol", "carol@example.com")
	_, p := a.login("/v1/auth/login", "carol@example.com")

	rec := a.do(http.MethodPost, "/v1/auth/refresh-token", "", map[string]string{"refreshToken": p.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rotated pair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	assert.NotEqual(t, p.RefreshToken, rotated.RefreshToken)
	assert.NotEqual(t, p.AccessToken, rotated.AccessToken)

	reuse := a.do(http.MethodPost, "/v1/auth/refresh-token", "", map[string]string{"refreshToken": p.RefreshToken})
	assert.Equal(t, http.StatusForbidden, reuse.Code)
	assert.Equal(t, "invalid_refresh_token", errorCode(t, reuse))

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/v1/me", p.AccessToken, nil).Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/v1/me", rotated.AccessToken, nil).Code)
}

func TestAdminRoutes(t *testing.T) {
	a := newAPI(t)
	adminID := a.seedAdmin("root", "root@example.com")
	_, admin := a.login("/v1/auth/login", "root@example.com")
	a.createUser(admin.AccessToken, "mod", "mod@example.com", "moderator")
	vendorID := a.createUser(admin.AccessToken, "shop", "shop@example.com", "vendor")

	_, mod := a.login("/v1/auth/login", "mod@example.com")
	_, vendor := a.login("/v1/auth/login", "shop@example.com")

	vendorPath := "/v1/admin/users/" + strconv.FormatUint(vendorID, 10)
	adminPath := "/v1/admin/users/" + strconv.FormatUint(adminID, 10)

	denied := a.do(http.MethodGet, adminPath, vendor.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, denied.Code)
	assert.Equal(t, "forbidden", errorCode(t, denied))

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, vendorPath, mod.AccessToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/v1/admin/users", mod.AccessToken, map[string]string{
		"username": "mod2", "email": "mod2@example.com", "password": "s3cret-password", "role": "admin",
	}).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodDelete, vendorPath, mod.AccessToken, nil).Code)

	self := a.do(http.MethodDelete, adminPath, admin.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, self.Code)
	assert.Equal(t, "validation_error", errorCode(t, self))

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, vendorPath, admin.AccessToken, nil).Code)
	gone := a.do(http.MethodGet, vendorPath, admin.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, gone.Code)

	// The deleted account's token no longer resolves to a session.
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/v1/me", vendor.AccessToken, nil).Code)

	bad := a.do(http.MethodGet, "/v1/admin/users/abc", admin.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestPublicRegisterIgnoresRole(t *testing.T) {
	a := newAPI(t)
	a.seedAdmin("root", "root@example.com")
	victim := a.register("victim", "victim@example.com")

	rec := a.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "mallory", "email": "mallory@example.com", "password": "s3cret-password", "role": "admin",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"role":"user"`)

	_, mallory := a.login("/v1/auth/login", "mallory@example.com")
	require.NotEmpty(t, mallory.AccessToken)
	assert.Equal(t, "user", mallory.User.Role)

	path := "/v1/admin/users/" + strconv.FormatUint(victim, 10)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodDelete, path, mallory.AccessToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/v1/admin/users", mallory.AccessToken, map[string]string{
		"username": "mallory2", "email": "mallory2@example.com", "password": "s3cret-password", "role": "admin",
	}).Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, "/v1/admin/users", "", nil).Code)

	_, admin := a.login("/v1/auth/login", "root@example.com")
	bad := a.do(http.MethodPost, "/v1/admin/users", admin.AccessToken, map[string]string{
		"username": "ghost", "email": "ghost@example.com", "password": "s3cret-password", "role": "root",
	})
	assert.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestErrorShapes(t *testing.T) {
	a := newAPI(t)

	missing := a.do(http.MethodGet, "/v1/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, missing.Code)
	assert.Equal(t, "unauthenticated", errorCode(t, missing))

	forged := a.do(http.MethodGet, "/v1/me", "not.a.jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, forged.Code)
	assert.Equal(t, "invalid_token", errorCode(t, forged))

	invalid := a.do(http.MethodPost, "/v1/auth/register", "", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
	assert.Equal(t, "validation_error", errorCode(t, invalid))

	tooLong := a.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "dave", "email": "dave@example.com", "password": strings.Repeat("é", 40),
	})
	assert.Equal(t, http.StatusBadRequest, tooLong.Code)
	assert.Equal(t, "validation_error", errorCode(t, tooLong))

	a.register("erin", "erin@example.com")
	dup := a.do(http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "erin2", "email": "ERIN@example.com", "password": "s3cret-password",
	})
	assert.Equal(t, http.StatusConflict, dup.Code)
	assert.Equal(t, "duplicate_identity", errorCode(t, dup))

	wrong := a.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "erin@example.com", "password": "nope-nope"})
	unknown := a.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())

	notFound := a.do(http.MethodGet, "/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, notFound.Code)
	assert.Equal(t, "not_found", errorCode(t, notFound))

	health := a.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, health.Code)
	assert.NotEmpty(t, health.Header().Get(echo.HeaderXRequestID))
}
