package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/authority"
)

// Handler exposes the session authority over HTTP.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	auth    *authority.Authority
	auditor Auditor
	limiter *ipLimiter
	now     func() time.Time
}

type HandlerOption func(*Handler)

// WithAuditor replaces the default log-backed auditor.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.auditor = a
		}
	}
}

func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandler(log *slog.Logger, cfg Config, auth *authority.Authority, opts ...HandlerOption) (*Handler, error) {
	if auth == nil {
		return nil, errors.New("authapi: authority is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:     log,
		cfg:     cfg,
		auth:    auth,
		auditor: LogAuditor{Log: log},
		limiter: newIPLimiter(cfg.LoginRatePerMinute, cfg.LoginBurst),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("POST /auth/verify-login", h.handleVerifyLogin)
	mux.HandleFunc("GET /auth/me", h.handleMe)

	mux.HandleFunc("GET /sessions", h.handleSessions)
	mux.HandleFunc("DELETE /sessions/all", h.handleLogoutAll)
	mux.HandleFunc("DELETE /sessions/{id}", h.handleLogoutDevice)

	mux.HandleFunc("GET /admin/sessions", h.handleAdminSessions)
	mux.HandleFunc("DELETE /admin/logout/{userId}", h.handleAdminForceLogout)
	mux.HandleFunc("PATCH /admin/sessions/{sessionId}/suspicious", h.handleAdminToggleSuspicious)
	mux.HandleFunc("GET /admin/users", h.handleAdminUsers)
	mux.HandleFunc("POST /admin/create", h.handleAdminCreate)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	acct, err := h.auth.Register(r.Context(), authority.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		h.writeAuthorityError(w, r, err)
		return
	}
	h.audit(r, AuditEntry{Action: ActionRegister, AccountID: acct.ID})
	writeJSON(w, http.StatusCreated, map[string]any{"user": toAccountResponse(acct)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, h.cfg.TrustProxy)
	if ok, retry := h.limiter.allow(ipString(ip), h.now()); !ok {
		h.audit(r, AuditEntry{Action: ActionLoginRateLimit, Meta: map[string]any{
			"retry_after_s": int64(retry.Seconds()),
		}})
		writeRateLimited(w, retry)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	res, err := h.auth.Login(r.Context(), authority.Credentials{
		Login:    req.identifier(),
		Password: req.Password,
	}, authority.Client{
		IP:         ipString(ip),
		UserAgent:  r.UserAgent(),
		DeviceName: deviceName(r),
	})
	if err != nil {
		h.audit(r, AuditEntry{Action: ActionLoginFailed, Meta: map[string]any{
			"identifier": strings.TrimSpace(req.identifier()),
			"reason":     authority.Code(err),
		}})
		h.writeAuthorityError(w, r, err)
		return
	}

	h.audit(r, AuditEntry{
		Action:    ActionLoginSuccess,
		AccountID: res.Account.ID,
		SessionID: res.SessionID,
		Meta:      map[string]any{"suspicious": res.Suspicious, "country": res.Country},
	})
	h.setCredentialCookies(w, res.Tokens)
	body := newAuthResponse(res.Account, res.SessionID, res.Tokens)
	body.Suspicious = res.Suspicious
	body.Country = res.Country
	writeJSON(w, http.StatusOK, body)
}

// presentedRefresh reads the refresh token from the cookie, falling back to
// the JSON body.
func (h *Handler) presentedRefresh(w http.ResponseWriter, r *http.Request) (string, bool) {
	if v := cookieValue(r, RefreshCookieName); v != "" {
		return v, true
	}
	var req refreshRequest
	if err := decodeOptionalJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return "", false
	}
	return strings.TrimSpace(req.RefreshToken), true
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	presented, ok := h.presentedRefresh(w, r)
	if !ok {
		return
	}
	if presented == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "refresh token required")
		return
	}

	res, err := h.auth.Refresh(r.Context(), presented)
	if err != nil {
		action := ActionRefreshFailed
		if errors.Is(err, authority.ErrReuseDetected) {
			action = ActionRefreshReuse
		}
		h.audit(r, AuditEntry{Action: action, Meta: map[string]any{"reason": authority.Code(err)}})
		h.writeAuthorityError(w, r, err)
		return
	}

	h.audit(r, AuditEntry{Action: ActionRefreshSuccess, AccountID: res.Account.ID, SessionID: res.SessionID})
	h.setCredentialCookies(w, res.Tokens)
	writeJSON(w, http.StatusOK, newAuthResponse(res.Account, res.SessionID, res.Tokens))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	presented, ok := h.presentedRefresh(w, r)
	if !ok {
		return
	}
	if err := h.auth.Logout(r.Context(), presented); err != nil {
		h.writeAuthorityError(w, r, err)
		return
	}
	h.audit(r, AuditEntry{Action: ActionLogout})
	h.clearCredentialCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "clear_credentials": true})
}

func (h *Handler) handleVerifyLogin(w http.ResponseWriter, r *http.Request) {
	presented, ok := h.presentedRefresh(w, r)
	if !ok {
		return
	}
	if presented == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "refresh token required")
		return
	}
	rec, err := h.auth.ConfirmSuspicious(r.Context(), presented)
	if err != nil {
		h.writeAuthorityError(w, r, err)
		return
	}
	h.audit(r, AuditEntry{Action: ActionLoginVerified, AccountID: rec.AccountID, SessionID: rec.ID})
	writeJSON(w, http.StatusOK, map[string]any{"session": toSessionResponse(rec)})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	acct, err := h.auth.Me(r.Context(), p.AccountID)
	if err != nil {
		h.writeAuthorityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toAccountResponse(acct)})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	views, err := h.auth.Sessions(r.Context(), p.AccountID, cookieValue(r, RefreshCookieName))
	if err != nil {
		h.writeAuthorityError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(views))
	for _, v := range views {
		s := toSessionResponse(v.Record)
		s.Current = v.Current
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	n, err := h.auth.LogoutAll(r.Context(), p.AccountID)
	if err != nil {
		h.writeAuthorityError(w, r, err)
		return
	}
	h.audit(r, AuditEntry{Action: ActionLogoutAll, AccountID: p.AccountID, Meta: map[string]any{"revoked": n}})
	h.clearCredentialCookies(w)
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n, "clear_credentials": true})
}

func (h *Handler) handleLogoutDevice(w http.ResponseWriter, r *http.Request) {
	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if err := h.auth.LogoutDevice(r.Context(), p.AccountID, id); err != nil {
		h.writeAuthorityError(w, r, err)
		return
	}
	h.audit(r, AuditEntry{Action: ActionLogoutDevice, AccountID: p.AccountID, SessionID: id})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	views, err := h.auth.ListAllSessions(r.Context())
	if err != nil {
		h.writeAuthorityError(w, r, err)
		return
	}
	out := make([]sessionResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toAdminSessionResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *Handler) handleAdminForceLogout(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	target := strings.TrimSpace(r.PathValue("userId"))
	acct, n, err := h.auth.ForceLogout(r.Context(), target)
	if err != nil {
		h.writeAuthorityError(w, r, err)
		return
	}
	h.audit(r, AuditEntry{Action: ActionAdminForceOut, AccountID: admin.AccountID, Meta: map[string]any{
		"target_account_id": acct.ID,
		"revoked":           n,
	}})
	writeJSON(w, http.StatusOK, map[string]any{"user": toAccountResponse(acct), "revoked": n})
}

func (h *Handler) handleAdminToggleSuspicious(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	rec, err := h.auth.ToggleSuspicious(r.Context(), strings.TrimSpace(r.PathValue("sessionId")))
	if err != nil {
		h.writeAuthorityError(w, r, err)
		return
	}
	h.audit(r, AuditEntry{Action: ActionAdminToggleFlag, AccountID: admin.AccountID, SessionID: rec.ID, Meta: map[string]any{
		"is_suspicious": rec.Suspicious,
	}})
	writeJSON(w, http.StatusOK, map[string]any{"session": toSessionResponse(rec)})
}

func (h *Handler) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	accts, err := h.auth.ListAccounts(r.Context())
	if err != nil {
		h.writeAuthorityError(w, r, err)
		return
	}
	out := make([]accountResponse, 0, len(accts))
	for _, a := range accts {
		out = append(out, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (h *Handler) handleAdminCreate(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	acct, err := h.auth.CreateAdmin(r.Context(), req.AdminSecret, authority.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		h.writeAuthorityError(w, r, err)
		return
	}
	h.audit(r, AuditEntry{Action: ActionAdminCreated, AccountID: acct.ID})
	writeJSON(w, http.StatusCreated, map[string]any{"user": toAccountResponse(acct)})
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (authority.Principal, bool) {
	tok := accessToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "access token required")
		return authority.Principal{}, false
	}
	p, err := h.auth.Authenticate(r.Context(), tok)
	if err != nil {
		h.writeAuthorityError(w, r, err)
		return authority.Principal{}, false
	}
	return p, true
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (authority.Principal, bool) {
	p, ok := h.requireAuth(w, r)
	if !ok {
		return authority.Principal{}, false
	}
	if !p.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden", "admin role required")
		return authority.Principal{}, false
	}
	return p, true
}

// writeAuthorityError maps an authority error onto the wire. Reuse detection
// also expires both credential cookies.
func (h *Handler) writeAuthorityError(w http.ResponseWriter, r *http.Request, err error) {
	code := authority.Code(err)
	resp := errorResponse{Error: apiError{Code: code, Message: authority.Message(err)}}

	status := http.StatusInternalServerError
	switch code {
	case "token_expired":
		status = http.StatusUnauthorized
		resp.Expired = true
	case "reuse_detected":
		status = http.StatusUnauthorized
		resp.ClearCredentials = true
		h.clearCredentialCookies(w)
	case "unauthenticated", "invalid_credentials":
		status = http.StatusUnauthorized
	case "account_not_found", "session_not_found":
		status = http.StatusNotFound
	case "duplicate_account":
		status = http.StatusConflict
	case "forbidden":
		status = http.StatusForbidden
	case "invalid_input":
		status = http.StatusBadRequest
	default:
		if errors.Is(err, context.Canceled) {
			return
		}
		h.log.Error("authapi.request.fail", "err", err, "method", r.Method, "path", r.URL.Path)
	}
	writeJSON(w, status, resp)
}

func (h *Handler) audit(r *http.Request, e AuditEntry) {
	e.IP = ipString(clientIP(r, h.cfg.TrustProxy))
	e.UserAgent = r.UserAgent()
	e.At = h.now().UTC()
	h.auditor.Record(context.WithoutCancel(r.Context()), e)
}
