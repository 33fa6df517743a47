// Package main provides a CI-friendly smoke test for a running secure-auth server.
//
// It validates:
//   - register + login
//   - refresh rotation
//   - replay of a rotated-away refresh token is reported as reuse
//   - reuse revokes every session, including the newest
//   - optionally, the admin event feed sees the reuse (-admin-secret)
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const eventsSubprotocol = "secureauth.events.v1"

type tokenResponse struct {
	SessionID    string `json:"session_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type errorResponse struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
	ClearCredentials bool `json:"clear_credentials"`
}

type event struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	SessionID string `json:"session_id"`
}

type smoke struct {
	base    string
	client  *http.Client
	verbose bool
}

func main() {
	var (
		base        = flag.String("base", "http://127.0.0.1:8080", "Server base URL")
		adminSecret = flag.String("admin-secret", "", "Admin bootstrap secret; enables the event-feed check")
		origin      = flag.String("origin", "", "Origin header for the event-feed handshake")
		timeout     = flag.Duration("timeout", 7*time.Second, "Per-request timeout")
		verbose     = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*base); err != nil {
		fatalf("invalid -base: %v", err)
	}
	s := &smoke{base: strings.TrimRight(*base, "/"), client: &http.Client{Timeout: *timeout}, verbose: *verbose}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	const pw = "smoke test password"

	var feed *websocket.Conn
	if *adminSecret != "" {
		admin := "admin_" + suffix
		s.mustStatus(http.MethodPost, "/admin/create", map[string]string{
			"admin_secret": *adminSecret,
			"username":     admin,
			"email":        admin + "@smoke.test",
			"full_name":    "Smoke Admin",
			"password":     pw,
		}, http.StatusCreated, nil)
		var at tokenResponse
		s.mustStatus(http.MethodPost, "/auth/login", map[string]string{"login": admin, "password": pw}, http.StatusOK, &at)
		feed = mustConnectFeed(s.base, at.AccessToken, *origin, *timeout)
		defer func() { _ = feed.Close(websocket.StatusNormalClosure, "bye") }()
		s.logf("event feed connected")
	}

	user := "smoke_" + suffix
	s.mustStatus(http.MethodPost, "/auth/register", map[string]string{
		"username":  user,
		"email":     user + "@smoke.test",
		"full_name": "Smoke User",
		"password":  pw,
	}, http.StatusCreated, nil)

	var first tokenResponse
	s.mustStatus(http.MethodPost, "/auth/login", map[string]string{"login": user, "password": pw}, http.StatusOK, &first)
	s.logf("login ok: session=%s", first.SessionID)

	var second tokenResponse
	s.mustStatus(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, http.StatusOK, &second)
	if second.RefreshToken == first.RefreshToken || second.SessionID != first.SessionID {
		fatalf("refresh did not rotate within the same session")
	}
	s.logf("refresh rotated")

	var replay errorResponse
	s.mustStatus(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, http.StatusUnauthorized, &replay)
	if replay.Error.Code != "reuse_detected" || !replay.ClearCredentials {
		fatalf("replay: expected reuse_detected with clear_credentials, got %+v", replay)
	}
	s.logf("replay detected")

	s.mustStatus(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": second.RefreshToken}, http.StatusUnauthorized, nil)
	s.logf("newest token revoked")

	if feed != nil {
		mustSeeEvent(feed, "session.reuse_detected", *timeout)
		s.logf("reuse event observed")
	}

	fmt.Println("OK")
}

func (s *smoke) mustStatus(method, path string, body any, want int, out any) {
	b, err := json.Marshal(body)
	if err != nil {
		fatalf("%s %s: marshal: %v", method, path, err)
	}
	req, err := http.NewRequest(method, s.base+path, bytes.NewReader(b))
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != want {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, want, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func mustConnectFeed(base, accessToken, origin string, timeout time.Duration) *websocket.Conn {
	u, _ := url.Parse(base)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/admin/events"

	h := http.Header{}
	h.Set("Authorization", "Bearer "+accessToken)
	if origin != "" {
		h.Set("Origin", origin)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{eventsSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("event feed dial: %v", err)
	}
	if conn.Subprotocol() != eventsSubprotocol {
		fatalf("event feed: subprotocol=%q", conn.Subprotocol())
	}
	return conn
}

func mustSeeEvent(conn *websocket.Conn, typ string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for {
		var e event
		if err := wsjson.Read(ctx, conn, &e); err != nil {
			fatalf("waiting for %s: %v", typ, err)
		}
		if e.Type == typ {
			return
		}
	}
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (s *smoke) logf(format string, args ...any) {
	if s.verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
