package authapi

import (
	"time"

	"github.com/Rutvik2302/secure-auth/cmd/identity"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/authority"
	"github.com/Rutvik2302/secure-auth/cmd/internal/auth/session"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

type createAdminRequest struct {
	AdminSecret string `json:"admin_secret"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	Password    string `json:"password"`
}

// loginRequest accepts the identifier under any of three names.
type loginRequest struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r loginRequest) identifier() string {
	switch {
	case r.Login != "":
		return r.Login
	case r.Email != "":
		return r.Email
	default:
		return r.Username
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type accountResponse struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	FullName         string    `json:"full_name,omitempty"`
	Role             string    `json:"role"`
	LastLoginIP      string    `json:"last_login_ip,omitempty"`
	LastLoginCountry string    `json:"last_login_country,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func toAccountResponse(a identity.Account) accountResponse {
	return accountResponse{
		ID:               a.ID,
		Username:         a.Username,
		Email:            a.Email,
		FullName:         a.FullName,
		Role:             string(a.Role),
		LastLoginIP:      a.LastLogin.IP,
		LastLoginCountry: a.LastLogin.Country,
		CreatedAt:        a.CreatedAt,
	}
}

type accountSummaryResponse struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Email            string `json:"email"`
	Role             string `json:"role"`
	LastLoginIP      string `json:"last_login_ip,omitempty"`
	LastLoginCountry string `json:"last_login_country,omitempty"`
}

// sessionResponse never carries the token hash.
type sessionResponse struct {
	ID         string                  `json:"id"`
	AccountID  string                  `json:"account_id"`
	DeviceName string                  `json:"device_name"`
	UserAgent  string                  `json:"user_agent,omitempty"`
	IP         string                  `json:"ip,omitempty"`
	Country    string                  `json:"country,omitempty"`
	Suspicious bool                    `json:"is_suspicious"`
	Current    bool                    `json:"current,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	LastUsedAt time.Time               `json:"last_used_at"`
	ExpiresAt  time.Time               `json:"expires_at"`
	Account    *accountSummaryResponse `json:"account,omitempty"`
}

func toSessionResponse(r session.Record) sessionResponse {
	return sessionResponse{
		ID:         r.ID,
		AccountID:  r.AccountID,
		DeviceName: r.DeviceName,
		UserAgent:  r.UserAgent,
		IP:         r.IP,
		Country:    r.Country,
		Suspicious: r.Suspicious,
		CreatedAt:  r.CreatedAt,
		LastUsedAt: r.LastUsedAt,
		ExpiresAt:  r.ExpiresAt,
	}
}

func toAdminSessionResponse(v authority.AdminSessionView) sessionResponse {
	out := toSessionResponse(v.Record)
	if v.Account != nil {
		out.Account = &accountSummaryResponse{
			ID:               v.Account.ID,
			Username:         v.Account.Username,
			Email:            v.Account.Email,
			Role:             v.Account.Role,
			LastLoginIP:      v.Account.LastLoginIP,
			LastLoginCountry: v.Account.LastLoginCountry,
		}
	}
	return out
}

// authResponse is returned by login and refresh. Tokens are also set as
// cookies; the body copies serve non-browser clients.
type authResponse struct {
	User             accountResponse `json:"user"`
	SessionID        string          `json:"session_id"`
	AccessToken      string          `json:"access_token"`
	AccessExpiresAt  time.Time       `json:"access_expires_at"`
	RefreshToken     string          `json:"refresh_token"`
	RefreshExpiresAt time.Time       `json:"refresh_expires_at"`
	Suspicious       bool            `json:"suspicious,omitempty"`
	Country          string          `json:"country,omitempty"`
}

func newAuthResponse(a identity.Account, sessionID string, pair authority.TokenPair) authResponse {
	return authResponse{
		User:             toAccountResponse(a),
		SessionID:        sessionID,
		AccessToken:      pair.Access.Value,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshToken:     pair.Refresh.Value,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
	}
}
