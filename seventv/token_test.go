package seventv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

// rewriteTransport redirects requests for the hardcoded API hosts to the
// test server so the code under test needs no URL injection.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func testClient(srv *httptest.Server, t *testing.T) *http.Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	return &http.Client{Transport: rewriteTransport{target: u}}
}

func writeProbeResult(w http.ResponseWriter, id string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data": map[string]any{"user": map[string]string{"id": id}},
	})
}

// loginServer emulates the full four-step handshake. Hits are counted per
// route so tests can assert which steps ran.
type loginServer struct {
	mu         sync.Mutex
	hits       map[string]int
	validToken string
	srv        *httptest.Server

	// step overrides for failure tests
	initiate func(w http.ResponseWriter, r *http.Request) bool
	idp      func(w http.ResponseWriter, r *http.Request) bool
	callback func(w http.ResponseWriter, r *http.Request) bool
}

func newLoginServer(t *testing.T) *loginServer {
	t.Helper()
	ls := &loginServer{hits: map[string]int{}, validToken: "fresh-token"}
	ls.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ls.mu.Lock()
		ls.hits[r.URL.Path]++
		ls.mu.Unlock()
		switch r.URL.Path {
		case "/v3/gql":
			auth := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if auth == ls.validToken {
				writeProbeResult(w, "user123")
			} else {
				writeProbeResult(w, "null")
			}
		case "/v3/auth":
			if ls.initiate != nil && !ls.initiate(w, r) {
				return
			}
			http.SetCookie(w, &http.Cookie{Name: csrfCookieName, Value: "csrf123"})
			w.Header().Set("Location", "https://id.twitch.tv/step2?client_id=abc")
			w.WriteHeader(http.StatusFound)
		case "/step2":
			if ls.idp != nil && !ls.idp(w, r) {
				return
			}
			if !strings.Contains(r.Header.Get("Cookie"), "auth-token:editor-tok") {
				http.Error(w, "missing editor credential", http.StatusForbidden)
				return
			}
			fmt.Fprint(w, `<html><meta http-equiv="refresh" content="0; URL='https://7tv.io/v3/auth/callback?code=abc&amp;state=xyz'"></html>`)
		case "/v3/auth/callback":
			if ls.callback != nil && !ls.callback(w, r) {
				return
			}
			if r.URL.Query().Get("state") != "xyz" {
				http.Error(w, "entity-encoded query not decoded", http.StatusBadRequest)
				return
			}
			if c, err := r.Cookie(csrfCookieName); err != nil || c.Value != "csrf123" {
				http.Error(w, "missing csrf cookie", http.StatusBadRequest)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: authCookieName, Value: ls.validToken})
			w.Header().Set("Location", "https://7tv.app/")
			w.WriteHeader(http.StatusSeeOther)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ls.srv.Close)
	return ls
}

func (ls *loginServer) hitCount(path string) int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.hits[path]
}

func (ls *loginServer) tokenSource(t *testing.T) *TokenSource {
	return &TokenSource{
		EditorToken:      "editor-tok",
		EditorPersistent: "persist-tok",
		HTTPClient:       testClient(ls.srv, t),
	}
}

func TestGetUsesCachedTokenWithinTTL(t *testing.T) {
	ls := newLoginServer(t)
	ts := ls.tokenSource(t)
	ts.ProbeTTL = time.Hour
	ts.SetToken("cached-token")

	got, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "cached-token" {
		t.Errorf("Get() = %q, want cached-token", got)
	}
	if n := ls.hitCount("/v3/gql"); n != 0 {
		t.Errorf("probe ran %d times within TTL, want 0", n)
	}
}

func TestGetProbesStaleTokenWithoutLogin(t *testing.T) {
	ls := newLoginServer(t)
	ls.validToken = "still-good"
	ts := ls.tokenSource(t)
	ts.ProbeTTL = time.Nanosecond
	ts.SetToken("still-good")
	time.Sleep(time.Millisecond)

	got, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "still-good" {
		t.Errorf("Get() = %q, want still-good", got)
	}
	if n := ls.hitCount("/v3/gql"); n != 1 {
		t.Errorf("probe ran %d times, want 1", n)
	}
	if n := ls.hitCount("/v3/auth"); n != 0 {
		t.Errorf("login ran despite valid probe")
	}
}

func TestGetRunsLoginPipelineWhenProbeFails(t *testing.T) {
	ls := newLoginServer(t)
	ts := ls.tokenSource(t)
	ts.ProbeTTL = time.Nanosecond
	ts.SetToken("expired-token")
	time.Sleep(time.Millisecond)

	got, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "fresh-token" {
		t.Errorf("Get() = %q, want fresh-token", got)
	}
	for _, path := range []string{"/v3/auth", "/step2", "/v3/auth/callback"} {
		if n := ls.hitCount(path); n != 1 {
			t.Errorf("%s hit %d times, want 1", path, n)
		}
	}
	// failed probe of the old token + validity probe of the new one
	if n := ls.hitCount("/v3/gql"); n != 2 {
		t.Errorf("/v3/gql hit %d times, want 2", n)
	}

	// The fresh token is now cached; a second Get must not touch the server.
	before := ls.hitCount("/v3/gql")
	if _, err := ts.Get(context.Background()); err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	// ProbeTTL is 1ns so this re-probes, but must not re-login.
	if n := ls.hitCount("/v3/auth"); n != 1 {
		t.Errorf("login re-ran for a fresh token")
	}
	if ls.hitCount("/v3/gql") <= before {
		t.Errorf("expected a re-probe of the cached fresh token")
	}
}

func TestGetLoginFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(ls *loginServer)
	}{
		{
			name: "initiation not a redirect",
			setup: func(ls *loginServer) {
				ls.initiate = func(w http.ResponseWriter, r *http.Request) bool {
					w.WriteHeader(http.StatusOK)
					return false
				}
			},
		},
		{
			name: "initiation missing csrf cookie",
			setup: func(ls *loginServer) {
				ls.initiate = func(w http.ResponseWriter, r *http.Request) bool {
					w.Header().Set("Location", "https://id.twitch.tv/step2")
					w.WriteHeader(http.StatusFound)
					return false
				}
			},
		},
		{
			name: "idp page without embedded redirect",
			setup: func(ls *loginServer) {
				ls.idp = func(w http.ResponseWriter, r *http.Request) bool {
					fmt.Fprint(w, "<html>access denied</html>")
					return false
				}
			},
		},
		{
			name: "callback missing auth cookie",
			setup: func(ls *loginServer) {
				ls.callback = func(w http.ResponseWriter, r *http.Request) bool {
					w.Header().Set("Location", "https://7tv.app/")
					w.WriteHeader(http.StatusSeeOther)
					return false
				}
			},
		},
		{
			name: "callback not a redirect",
			setup: func(ls *loginServer) {
				ls.callback = func(w http.ResponseWriter, r *http.Request) bool {
					http.Error(w, "bad state", http.StatusBadRequest)
					return false
				}
			},
		},
		{
			name: "new token fails validity probe",
			setup: func(ls *loginServer) {
				ls.callback = func(w http.ResponseWriter, r *http.Request) bool {
					http.SetCookie(w, &http.Cookie{Name: authCookieName, Value: "token-the-probe-rejects"})
					w.WriteHeader(http.StatusSeeOther)
					return false
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls := newLoginServer(t)
			tt.setup(ls)
			ts := ls.tokenSource(t)

			_, err := ts.Get(context.Background())
			if !errors.Is(err, ErrAuth) {
				t.Errorf("Get() error = %v, want ErrAuth", err)
			}
		})
	}
}

func TestGetWithoutEditorCredential(t *testing.T) {
	ls := newLoginServer(t)
	ts := ls.tokenSource(t)
	ts.EditorToken = ""

	_, err := ts.Get(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Errorf("Get() error = %v, want ErrAuth", err)
	}
	if n := ls.hitCount("/v3/auth"); n != 0 {
		t.Errorf("login ran without a configured credential")
	}
}
