// Package seventv talks to the 7TV API: it keeps a usable bearer token
// alive (including the emulated browser login when the cached token has
// expired) and reads/mutates the channel's emote set.
package seventv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/emote-tender/telemetry"
)

const (
	loginRoute    = "https://7tv.io/v3/auth?platform=twitch"
	gqlRoute      = "https://7tv.io/v3/gql"
	emoteRoute    = "https://7tv.io/v3/emotes/"
	emoteSetRoute = "https://7tv.io/v3/emote-sets/"
	userRoute     = "https://7tv.io/v3/users/"

	authCookieName = "seventv-auth"
	csrfCookieName = "seventv-csrf"

	defaultProbeTTL = 60 * time.Second
)

// The identity-provider hop returns an HTML meta-refresh page whose target
// URL carries the handshake state.
var redirectURLPattern = regexp.MustCompile(`URL='([^']+)'`)

// TokenSource maintains the 7TV bearer token for the configured editor
// account. A token is only handed out after a successful validity probe;
// a probe result is trusted for ProbeTTL so one operation sequence doesn't
// re-probe on every call.
//
// When the cached token fails its probe, Get runs the four-step emulated
// browser login once. It never retries within a call; callers re-invoke on
// their own next cycle.
type TokenSource struct {
	// EditorToken and EditorPersistent are the long-lived service
	// credentials presented to the identity provider during login.
	EditorToken     string
	EditorPersistent string
	HTTPClient      *http.Client
	ProbeTTL        time.Duration

	mu          sync.Mutex
	token       string
	lastChecked time.Time
}

func (ts *TokenSource) http() *http.Client {
	if ts.HTTPClient != nil {
		return ts.HTTPClient
	}
	return http.DefaultClient
}

// noRedirect returns a client sharing ts's transport that surfaces
// redirect responses instead of following them. The login handshake needs
// to read Location headers and Set-Cookie from 30x responses directly.
func (ts *TokenSource) noRedirect() *http.Client {
	base := ts.http()
	return &http.Client{
		Transport: base.Transport,
		Timeout:   base.Timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// SetToken seeds the cached token as if it had just probed valid.
func (ts *TokenSource) SetToken(token string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = token
	ts.lastChecked = time.Now()
}

// Get returns a valid bearer token, probing the cached one and falling back
// to the login pipeline when the probe fails. All failures map to ErrAuth.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ttl := ts.ProbeTTL
	if ttl <= 0 {
		ttl = defaultProbeTTL
	}
	if ts.token != "" && time.Since(ts.lastChecked) < ttl {
		return ts.token, nil
	}

	if ts.token != "" && ts.probe(ctx, ts.token) {
		ts.lastChecked = time.Now()
		return ts.token, nil
	}

	slog.Info("7tv token invalid or missing; running login pipeline")
	telemetry.IncLoginAttempt()
	token, err := ts.login(ctx)
	if err != nil {
		telemetry.IncLoginFailure()
		return "", err
	}
	if !ts.probe(ctx, token) {
		telemetry.IncLoginFailure()
		return "", fmt.Errorf("new token failed validity probe: %w", ErrAuth)
	}
	ts.token = token
	ts.lastChecked = time.Now()
	slog.Info("7tv token refreshed")
	return ts.token, nil
}

// probe issues the authenticated identity query. Only a well-formed,
// non-null subject id marks the token valid.
func (ts *TokenSource) probe(ctx context.Context, token string) bool {
	body, _ := json.Marshal(map[string]string{"query": "{ user:actor{id} }"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gqlRoute, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.http().Do(req)
	if err != nil {
		slog.Debug("7tv token probe failed", slog.Any("err", err))
		return false
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var out struct {
		Data struct {
			User struct {
				ID string `json:"id"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.Data.User.ID != "" && out.Data.User.ID != "null"
}

// login emulates the browser OAuth handshake in four sequential steps, each
// failing closed. It performs exactly one pass.
func (ts *TokenSource) login(ctx context.Context) (string, error) {
	if ts.EditorToken == "" {
		return "", fmt.Errorf("no editor credential configured: %w", ErrAuth)
	}

	// Step 1: login initiation must redirect and set the CSRF cookie.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loginRoute, nil)
	if err != nil {
		return "", fmt.Errorf("build login request: %w", ErrAuth)
	}
	resp, err := ts.noRedirect().Do(req)
	if err != nil {
		return "", fmt.Errorf("login initiation: %v: %w", err, ErrAuth)
	}
	location := resp.Header.Get("Location")
	csrf := cookieValue(resp, csrfCookieName)
	closeBody(resp)
	if !isRedirect(resp.StatusCode) || location == "" {
		return "", fmt.Errorf("login initiation: expected redirect, got %s: %w", resp.Status, ErrAuth)
	}
	if csrf == "" {
		return "", fmt.Errorf("login initiation: missing %s cookie: %w", csrfCookieName, ErrAuth)
	}

	// Step 2: follow the identity-provider redirect with the editor
	// credential pair; the response body embeds the next redirect URL.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", fmt.Errorf("build idp request: %w", ErrAuth)
	}
	req.Header.Set("Cookie", fmt.Sprintf("auth-token:%s;persistent=%s", ts.EditorToken, ts.EditorPersistent))
	resp, err = ts.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("idp handshake: %v: %w", err, ErrAuth)
	}
	page, err := io.ReadAll(resp.Body)
	closeBody(resp)
	if err != nil {
		return "", fmt.Errorf("idp handshake: read body: %w", ErrAuth)
	}
	m := redirectURLPattern.FindSubmatch(page)
	if m == nil {
		return "", fmt.Errorf("idp handshake: no embedded redirect URL: %w", ErrAuth)
	}
	// Entity-encoded ampersands come back from the HTML page.
	callback := strings.ReplaceAll(string(m[1]), "&amp;", "&")

	// Step 3: follow the callback with the CSRF cookie; the redirect
	// response carries the fresh auth cookie.
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, callback, nil)
	if err != nil {
		return "", fmt.Errorf("build callback request: %w", ErrAuth)
	}
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: csrf})
	resp, err = ts.noRedirect().Do(req)
	if err != nil {
		return "", fmt.Errorf("callback: %v: %w", err, ErrAuth)
	}
	auth := cookieValue(resp, authCookieName)
	closeBody(resp)
	if !isRedirect(resp.StatusCode) {
		return "", fmt.Errorf("callback: expected redirect, got %s: %w", resp.Status, ErrAuth)
	}
	if auth == "" {
		return "", fmt.Errorf("callback: missing %s cookie: %w", authCookieName, ErrAuth)
	}

	// Step 4 (re-probe) happens in Get.
	return auth, nil
}

func isRedirect(status int) bool {
	return status == http.StatusFound || status == http.StatusSeeOther
}

func cookieValue(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
