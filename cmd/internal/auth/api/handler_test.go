package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Rutvik2302/secure-auth/cmd/identity"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/anomaly"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/authority"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/session"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/tokens"
	"github.com/Rutvik2302/secure-auth/cmd/security/password"
)

const (
	testPassword    = "correct horse battery"
	testAdminSecret = "admin-bootstrap-secret-for-tests"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *memAuditor) Record(_ context.Context, e AuditEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
}

func (a *memAuditor) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type testServer struct {
	mux     *http.ServeMux
	clock   *testClock
	auditor *memAuditor
}

func newTestServer(t *testing.T, mutate func(*Config)) *testServer {
	t.Helper()

	pw := password.DefaultConfig()
	pw.BcryptCost = bcrypt.MinCost
	accounts, err := identity.NewService(identity.NewMemoryStore(), pw)
	if err != nil {
		t.Fatalf("identity.NewService: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	acfg := authority.DefaultConfig()
	acfg.SigningKeys = tokens.Keys{
		AccessSecret:  strings.Repeat("a", 32),
		RefreshSecret: strings.Repeat("r", 32),
	}
	resolver := anomaly.ResolverFunc(func(context.Context, string) (string, error) {
		return "", anomaly.ErrLookupUnavailable
	})
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))

	auth, err := authority.New(acfg, accounts, session.NewMemoryRegistry(), resolver,
		authority.WithClock(clock.Now),
		authority.WithLogger(discard),
		authority.WithAdminSecret(testAdminSecret),
	)
	if err != nil {
		t.Fatalf("authority.New: %v", err)
	}

	cfg := DefaultConfig()
	cfg.AccessTTL = acfg.AccessTTL
	cfg.RefreshTTL = acfg.RefreshTTL
	if mutate != nil {
		mutate(&cfg)
	}

	auditor := &memAuditor{}
	h, err := NewHandler(discard, cfg, auth, WithAuditor(auditor), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	return &testServer{mux: mux, clock: clock, auditor: auditor}
}

func (s *testServer) do(t *testing.T, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) register(t *testing.T, name string) {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/auth/register", map[string]string{
		"username":  name,
		"email":     name + "@example.com",
		"full_name": name,
		"password":  testPassword,
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register %s: status=%d body=%s", name, rr.Code, rr.Body.String())
	}
}

func (s *testServer) login(t *testing.T, name string) authResponse {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    name + "@example.com",
		"password": testPassword,
	}, func(r *http.Request) { r.Header.Set("Sec-CH-UA-Platform", `"macOS"`) })
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: status=%d body=%s", name, rr.Code, rr.Body.String())
	}
	return decodeAuth(t, rr)
}

func decodeAuth(t *testing.T, rr *httptest.ResponseRecorder) authResponse {
	t.Helper()
	var out authResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode auth response: %v", err)
	}
	return out
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error response: %v (body=%s)", err, rr.Body.String())
	}
	return out
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withRefreshCookie(tok string) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: tok}) }
}

func TestLogin_SetsCookiesAndBody(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "alice")

	rr := s.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username": "alice",
		"password": testPassword,
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	res := decodeAuth(t, rr)
	if res.AccessToken == "" || res.RefreshToken == "" || res.SessionID == "" {
		t.Fatalf("expected tokens and session id in body, got %+v", res)
	}

	access := findCookie(rr, AccessCookieName)
	refresh := findCookie(rr, RefreshCookieName)
	if access == nil || refresh == nil {
		t.Fatalf("expected both credential cookies")
	}
	if !refresh.HttpOnly || !refresh.Secure || refresh.SameSite != http.SameSiteStrictMode {
		t.Fatalf("refresh cookie attributes wrong: %+v", refresh)
	}
	if access.MaxAge != int((15 * time.Minute).Seconds()) {
		t.Fatalf("access cookie max-age=%d", access.MaxAge)
	}
	if refresh.MaxAge != int((7 * 24 * time.Hour).Seconds()) {
		t.Fatalf("refresh cookie max-age=%d", refresh.MaxAge)
	}
	if refresh.Value != res.RefreshToken {
		t.Fatalf("cookie and body refresh tokens differ")
	}
}

func TestLogin_Failures(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "bob")

	rr := s.do(t, http.MethodPost, "/auth/login", map[string]string{"login": "bob", "password": "nope nope nope"}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", rr.Code)
	}
	if got := decodeError(t, rr).Error.Code; got != "invalid_credentials" {
		t.Fatalf("wrong password: code=%q", got)
	}

	rr = s.do(t, http.MethodPost, "/auth/login", map[string]string{"login": "nobody", "password": testPassword}, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown account: expected 404, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodPost, "/auth/login", map[string]string{"password": testPassword}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing identifier: expected 400, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodPost, "/auth/login", map[string]any{"login": "bob", "password": testPassword, "extra": 1}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", rr.Code)
	}

	failed := 0
	for _, a := range s.auditor.actions() {
		if a == ActionLoginFailed {
			failed++
		}
	}
	if failed != 3 {
		t.Fatalf("expected 3 failed-login audit entries, got %d", failed)
	}
}

func TestLogin_RateLimitedPerIP(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		c.LoginRatePerMinute = 1
		c.LoginBurst = 2
	})
	s.register(t, "carol")

	body := map[string]string{"login": "carol", "password": "wrong password"}
	for i := 0; i < 2; i++ {
		if rr := s.do(t, http.MethodPost, "/auth/login", body, nil); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rr.Code)
		}
	}
	rr := s.do(t, http.MethodPost, "/auth/login", body, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	// Another client is unaffected.
	rr = s.do(t, http.MethodPost, "/auth/login", body, func(r *http.Request) { r.RemoteAddr = "198.51.100.7:4000" })
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("other ip: expected 401, got %d", rr.Code)
	}

	s.clock.Advance(time.Minute)
	if rr := s.do(t, http.MethodPost, "/auth/login", body, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("after refill: expected 401, got %d", rr.Code)
	}
}

func TestRefresh_RotatesThenDetectsReuse(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "dave")
	first := s.login(t, "dave")

	rr := s.do(t, http.MethodPost, "/auth/refresh", nil, withRefreshCookie(first.RefreshToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	second := decodeAuth(t, rr)
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("rotation must keep the session id")
	}

	// Replaying the rotated-away token through the body revokes everything.
	rr = s.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d", rr.Code)
	}
	er := decodeError(t, rr)
	if er.Error.Code != "reuse_detected" || !er.ClearCredentials {
		t.Fatalf("replay: expected reuse_detected with clear_credentials, got %+v", er)
	}
	if c := findCookie(rr, RefreshCookieName); c == nil || c.MaxAge >= 0 {
		t.Fatalf("replay: expected refresh cookie to be expired")
	}

	rr = s.do(t, http.MethodPost, "/auth/refresh", nil, withRefreshCookie(second.RefreshToken))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("after reuse: expected the newest token to be dead too, got %d", rr.Code)
	}

	var sawReuse bool
	for _, a := range s.auditor.actions() {
		if a == ActionRefreshReuse {
			sawReuse = true
		}
	}
	if !sawReuse {
		t.Fatalf("expected a reuse audit entry")
	}
}

func TestRefresh_MissingOrGarbageToken(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(t, http.MethodPost, "/auth/refresh", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing: expected 401, got %d", rr.Code)
	}
	rr = s.do(t, http.MethodPost, "/auth/refresh", nil, withRefreshCookie("not-a-token"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("garbage: expected 401, got %d", rr.Code)
	}
	if got := decodeError(t, rr).Error.Code; got != "unauthenticated" {
		t.Fatalf("garbage: code=%q", got)
	}
}

func TestMe_ExpiredAccessTokenIsFlagged(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "erin")
	res := s.login(t, "erin")

	rr := s.do(t, http.MethodGet, "/auth/me", nil, bearer(res.AccessToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, http.MethodGet, "/auth/me", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: AccessCookieName, Value: res.AccessToken})
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("me via cookie: expected 200, got %d", rr.Code)
	}

	s.clock.Advance(16 * time.Minute)
	rr = s.do(t, http.MethodGet, "/auth/me", nil, bearer(res.AccessToken))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expired: expected 401, got %d", rr.Code)
	}
	er := decodeError(t, rr)
	if er.Error.Code != "token_expired" || !er.Expired {
		t.Fatalf("expired: expected token_expired with expired flag, got %+v", er)
	}

	rr = s.do(t, http.MethodGet, "/auth/me", nil, nil)
	if rr.Code != http.StatusUnauthorized || decodeError(t, rr).Expired {
		t.Fatalf("missing token: expected plain 401, got %d", rr.Code)
	}
}

func TestSessions_CurrentDeviceAndLogoutAll(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "frank")
	a := s.login(t, "frank")
	b := s.login(t, "frank")

	rr := s.do(t, http.MethodGet, "/sessions", nil, func(r *http.Request) {
		bearer(b.AccessToken)(r)
		withRefreshCookie(b.RefreshToken)(r)
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("sessions: expected 200, got %d", rr.Code)
	}
	var list struct {
		Sessions []sessionResponse `json:"sessions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(list.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list.Sessions))
	}
	for _, sess := range list.Sessions {
		if sess.Current != (sess.ID == b.SessionID) {
			t.Fatalf("current flag wrong for %s", sess.ID)
		}
		if sess.DeviceName != "macOS" {
			t.Fatalf("device name=%q", sess.DeviceName)
		}
	}
	if strings.Contains(rr.Body.String(), "token_hash") {
		t.Fatalf("session listing must not expose token hashes")
	}

	rr = s.do(t, http.MethodDelete, "/sessions/"+a.SessionID, nil, bearer(b.AccessToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("logout device: expected 200, got %d", rr.Code)
	}
	rr = s.do(t, http.MethodDelete, "/sessions/"+a.SessionID, nil, bearer(b.AccessToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("logout device twice: expected 404, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodDelete, "/sessions/all", nil, bearer(b.AccessToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("logout all: expected 200, got %d", rr.Code)
	}
	var all struct {
		Revoked          int  `json:"revoked"`
		ClearCredentials bool `json:"clear_credentials"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &all)
	if all.Revoked != 1 || !all.ClearCredentials {
		t.Fatalf("logout all: got %+v", all)
	}
	if c := findCookie(rr, AccessCookieName); c == nil || c.MaxAge >= 0 {
		t.Fatalf("logout all: expected access cookie to be expired")
	}
}

func TestLogout_IsIdempotentAndClearsCookies(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "gina")
	res := s.login(t, "gina")

	for i := 0; i < 2; i++ {
		rr := s.do(t, http.MethodPost, "/auth/logout", nil, withRefreshCookie(res.RefreshToken))
		if rr.Code != http.StatusOK {
			t.Fatalf("logout %d: expected 200, got %d", i, rr.Code)
		}
		if c := findCookie(rr, RefreshCookieName); c == nil || c.MaxAge >= 0 {
			t.Fatalf("logout %d: expected refresh cookie to be expired", i)
		}
	}
	if rr := s.do(t, http.MethodPost, "/auth/logout", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("logout without token: expected 200, got %d", rr.Code)
	}
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "henry")
	user := s.login(t, "henry")

	if rr := s.do(t, http.MethodGet, "/admin/users", nil, bearer(user.AccessToken)); rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin: expected 403, got %d", rr.Code)
	}

	create := map[string]string{
		"admin_secret": "wrong",
		"username":     "root",
		"email":        "root@example.com",
		"full_name":    "Root Operator",
		"password":     testPassword,
	}
	if rr := s.do(t, http.MethodPost, "/admin/create", create, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("bad secret: expected 403, got %d", rr.Code)
	}
	create["admin_secret"] = testAdminSecret
	if rr := s.do(t, http.MethodPost, "/admin/create", create, nil); rr.Code != http.StatusCreated {
		t.Fatalf("create admin: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	admin := s.login(t, "root")
	if admin.User.Role != "admin" {
		t.Fatalf("expected admin role, got %q", admin.User.Role)
	}

	rr := s.do(t, http.MethodGet, "/admin/users", nil, bearer(admin.AccessToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("list users: expected 200, got %d", rr.Code)
	}

	rr = s.do(t, http.MethodGet, "/admin/sessions", nil, bearer(admin.AccessToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("list sessions: expected 200, got %d", rr.Code)
	}
	var sessions struct {
		Sessions []sessionResponse `json:"sessions"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &sessions)
	if len(sessions.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions.Sessions))
	}
	for _, sess := range sessions.Sessions {
		if sess.Account == nil {
			t.Fatalf("admin session view must include the account")
		}
	}

	rr = s.do(t, http.MethodPatch, "/admin/sessions/"+user.SessionID+"/suspicious", nil, bearer(admin.AccessToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d", rr.Code)
	}
	var toggled struct {
		Session sessionResponse `json:"session"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &toggled)
	if !toggled.Session.Suspicious {
		t.Fatalf("toggle: expected session to be flagged")
	}

	rr = s.do(t, http.MethodPost, "/auth/verify-login", nil, withRefreshCookie(user.RefreshToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("verify-login: expected 200, got %d", rr.Code)
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &toggled)
	if toggled.Session.Suspicious {
		t.Fatalf("verify-login: expected flag cleared")
	}

	rr = s.do(t, http.MethodDelete, "/admin/logout/"+user.User.ID, nil, bearer(admin.AccessToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("force logout: expected 200, got %d", rr.Code)
	}
	rr = s.do(t, http.MethodPost, "/auth/refresh", nil, withRefreshCookie(user.RefreshToken))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after force logout: expected 401, got %d", rr.Code)
	}

	if rr := s.do(t, http.MethodDelete, "/admin/logout/nobody", nil, bearer(admin.AccessToken)); rr.Code != http.StatusNotFound {
		t.Fatalf("force logout unknown: expected 404, got %d", rr.Code)
	}
}

func TestRegister_Conflicts(t *testing.T) {
	s := newTestServer(t, nil)
	s.register(t, "iris")
	for _, body := range []map[string]string{
		{"username": "iris", "email": "other@example.com", "full_name": "Other Iris", "password": testPassword},
		{"username": "iris2", "email": "iris@example.com", "full_name": "Other Iris", "password": testPassword},
	} {
		rr := s.do(t, http.MethodPost, "/auth/register", body, nil)
		if rr.Code != http.StatusConflict {
			t.Fatalf("%v: expected 409, got %d: %s", body, rr.Code, rr.Body.String())
		}
		if !strings.Contains(rr.Body.String(), `"duplicate_account"`) {
			t.Fatalf("expected duplicate_account code, got %s", rr.Body.String())
		}
	}

	rr := s.do(t, http.MethodPost, "/auth/register", map[string]string{
		"username": "jane", "email": "jane@example.com", "password": testPassword,
	}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing full_name: expected 400, got %d", rr.Code)
	}
}

func TestDeviceName(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := deviceName(req); got != "Unknown" {
		t.Fatalf("expected Unknown, got %q", got)
	}
	req.Header.Set("Sec-CH-UA-Platform", `"Windows"`)
	if got := deviceName(req); got != "Windows" {
		t.Fatalf("expected Windows, got %q", got)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")

	if got := clientIP(req, false).String(); got != "203.0.113.9" {
		t.Fatalf("untrusted proxy: got %s", got)
	}
	if got := clientIP(req, true).String(); got != "198.51.100.1" {
		t.Fatalf("trusted proxy: got %s", got)
	}

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	if got := clientIP(req, true).String(); got != "198.51.100.2" {
		t.Fatalf("x-real-ip: got %s", got)
	}
}
