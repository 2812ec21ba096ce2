package seventv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func seededTokens(srv *httptest.Server, t *testing.T) *TokenSource {
	t.Helper()
	ts := &TokenSource{HTTPClient: testClient(srv, t), ProbeTTL: time.Hour}
	ts.SetToken("test-token")
	return ts
}

type gqlRequest struct {
	OperationName string `json:"operationName"`
	Variables     struct {
		Action  string `json:"action"`
		ID      string `json:"id"`
		EmoteID string `json:"emote_id"`
		Name    string `json:"name"`
	} `json:"variables"`
}

func TestEmoteSetID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/users/user123" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"connections":[{"emote_set_id":"set456"},{"emote_set_id":"other"}]}`)
	}))
	defer srv.Close()
	c := &Client{HTTPClient: testClient(srv, t)}

	id, err := c.EmoteSetID(context.Background(), "user123")
	if err != nil {
		t.Fatalf("EmoteSetID() error = %v", err)
	}
	if id != "set456" {
		t.Errorf("EmoteSetID() = %q, want set456", id)
	}
}

func TestEmoteSetIDNoConnections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"connections":[]}`)
	}))
	defer srv.Close()
	c := &Client{HTTPClient: testClient(srv, t)}

	if _, err := c.EmoteSetID(context.Background(), "user123"); err == nil {
		t.Error("EmoteSetID() error = nil, want error for missing connection")
	}
}

func TestLoadSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/emote-sets/set456" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"id":"set456","emotes":[{"id":"e1","name":"pepeW"},{"id":"e2","name":"catJAM"}]}`)
	}))
	defer srv.Close()
	c := &Client{HTTPClient: testClient(srv, t)}

	set, err := c.LoadSet(context.Background(), "set456")
	if err != nil {
		t.Fatalf("LoadSet() error = %v", err)
	}
	if set.ID != "set456" || len(set.Emotes) != 2 || set.Emotes[0].Name != "pepeW" {
		t.Errorf("LoadSet() = %+v", set)
	}
}

func TestCheckEmote(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantName string
	}{
		{name: "listed", status: 200, body: `{"name":"pepeW","listed":true}`, wantName: "pepeW"},
		{name: "unlisted", status: 200, body: `{"name":"sus","listed":false}`, wantErr: ErrEmoteUnlisted, wantName: "sus"},
		{name: "not found", status: 404, body: `{}`, wantErr: ErrEmoteNotFound},
		{name: "bad id", status: 400, body: `{}`, wantErr: ErrEmoteNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.HasPrefix(r.URL.Path, "/v3/emotes/") {
					http.NotFound(w, r)
					return
				}
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()
			c := &Client{HTTPClient: testClient(srv, t)}

			info, err := c.CheckEmote(context.Background(), "emote1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("CheckEmote() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("CheckEmote() error = %v", err)
			}
			if tt.wantName != "" && info.Name != tt.wantName {
				t.Errorf("CheckEmote() name = %q, want %q", info.Name, tt.wantName)
			}
		})
	}
}

func TestCheckEmoteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := &Client{HTTPClient: testClient(srv, t)}

	_, err := c.CheckEmote(context.Background(), "emote1")
	if err == nil {
		t.Fatal("CheckEmote() error = nil, want error")
	}
	if errors.Is(err, ErrEmoteNotFound) {
		t.Error("a 500 must not map to ErrEmoteNotFound")
	}
}

// mutationServer records the ChangeEmoteInSet calls it receives.
func mutationServer(t *testing.T, reply string) (*httptest.Server, *[]gqlRequest) {
	t.Helper()
	var calls []gqlRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/gql" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if c, err := r.Cookie(authCookieName); err != nil || c.Value != "test-token" {
			http.Error(w, "missing auth cookie", http.StatusUnauthorized)
			return
		}
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		calls = append(calls, req)
		fmt.Fprint(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestAddEmote(t *testing.T) {
	srv, calls := mutationServer(t, `{"data":{}}`)
	c := &Client{Tokens: seededTokens(srv, t), HTTPClient: testClient(srv, t)}
	set := &EmoteSet{ID: "set456", Emotes: []SetEmote{{ID: "e1", Name: "pepeW"}}}

	name, err := c.AddEmote(context.Background(), set, "e2", "catJAM")
	if err != nil {
		t.Fatalf("AddEmote() error = %v", err)
	}
	if name != "catJAM" {
		t.Errorf("AddEmote() name = %q, want catJAM", name)
	}
	if len(*calls) != 1 {
		t.Fatalf("mutation called %d times, want 1", len(*calls))
	}
	v := (*calls)[0].Variables
	if v.Action != "ADD" || v.ID != "set456" || v.EmoteID != "e2" || v.Name != "catJAM" {
		t.Errorf("mutation variables = %+v", v)
	}
}

func TestAddEmoteAlreadyPresent(t *testing.T) {
	srv, calls := mutationServer(t, `{"data":{}}`)
	c := &Client{Tokens: seededTokens(srv, t), HTTPClient: testClient(srv, t)}
	set := &EmoteSet{ID: "set456", Emotes: []SetEmote{{ID: "e1", Name: "pepeW"}}}

	name, err := c.AddEmote(context.Background(), set, "e1", "whatever")
	if !errors.Is(err, ErrAlreadyPresent) {
		t.Fatalf("AddEmote() error = %v, want ErrAlreadyPresent", err)
	}
	if name != "pepeW" {
		t.Errorf("AddEmote() name = %q, want the existing name pepeW", name)
	}
	if len(*calls) != 0 {
		t.Errorf("mutation called for an already-present emote")
	}
}

func TestAddEmoteNameCollisionAdvancesSuffix(t *testing.T) {
	srv, calls := mutationServer(t, `{"data":{}}`)
	c := &Client{Tokens: seededTokens(srv, t), HTTPClient: testClient(srv, t)}
	// Both the base name and the first suffixed name are taken; the suffix
	// must keep advancing instead of retrying "pepeW2" forever.
	set := &EmoteSet{ID: "set456", Emotes: []SetEmote{
		{ID: "e1", Name: "pepeW"},
		{ID: "e2", Name: "pepeW2"},
	}}

	name, err := c.AddEmote(context.Background(), set, "e3", "pepeW")
	if err != nil {
		t.Fatalf("AddEmote() error = %v", err)
	}
	if name != "pepeW3" {
		t.Errorf("AddEmote() name = %q, want pepeW3", name)
	}
	if len(*calls) != 1 || (*calls)[0].Variables.Name != "pepeW3" {
		t.Errorf("mutation calls = %+v", *calls)
	}
}

func TestAddEmoteNameCollisionIsCaseInsensitive(t *testing.T) {
	srv, _ := mutationServer(t, `{"data":{}}`)
	c := &Client{Tokens: seededTokens(srv, t), HTTPClient: testClient(srv, t)}
	set := &EmoteSet{ID: "set456", Emotes: []SetEmote{{ID: "e1", Name: "PEPEW"}}}

	name, err := c.AddEmote(context.Background(), set, "e2", "pepeW")
	if err != nil {
		t.Fatalf("AddEmote() error = %v", err)
	}
	if name != "pepeW2" {
		t.Errorf("AddEmote() name = %q, want pepeW2", name)
	}
}

func TestAddEmoteNameExhaustionFailsClosed(t *testing.T) {
	srv, calls := mutationServer(t, `{"data":{}}`)
	c := &Client{Tokens: seededTokens(srv, t), HTTPClient: testClient(srv, t)}

	set := &EmoteSet{ID: "set456", Emotes: []SetEmote{{ID: "e0", Name: "x"}}}
	for i := 2; i <= maxNameAttempts; i++ {
		set.Emotes = append(set.Emotes, SetEmote{ID: fmt.Sprintf("e%d", i), Name: fmt.Sprintf("x%d", i)})
	}

	_, err := c.AddEmote(context.Background(), set, "new", "x")
	if !errors.Is(err, ErrMutation) {
		t.Fatalf("AddEmote() error = %v, want ErrMutation", err)
	}
	if len(*calls) != 0 {
		t.Errorf("mutation called despite name exhaustion")
	}
}

func TestAddEmoteMutationRejected(t *testing.T) {
	srv, _ := mutationServer(t, `{"errors":[{"message":"insufficient privilege"}]}`)
	c := &Client{Tokens: seededTokens(srv, t), HTTPClient: testClient(srv, t)}
	set := &EmoteSet{ID: "set456"}

	_, err := c.AddEmote(context.Background(), set, "e1", "pepeW")
	if !errors.Is(err, ErrMutation) {
		t.Fatalf("AddEmote() error = %v, want ErrMutation", err)
	}
	if !strings.Contains(err.Error(), "insufficient privilege") {
		t.Errorf("error %q does not carry the server message", err)
	}
}

func TestRemoveEmote(t *testing.T) {
	srv, calls := mutationServer(t, `{"data":{}}`)
	c := &Client{Tokens: seededTokens(srv, t), HTTPClient: testClient(srv, t)}

	if err := c.RemoveEmote(context.Background(), "set456", "e1", "pepeW"); err != nil {
		t.Fatalf("RemoveEmote() error = %v", err)
	}
	if len(*calls) != 1 {
		t.Fatalf("mutation called %d times, want 1", len(*calls))
	}
	v := (*calls)[0].Variables
	if v.Action != "REMOVE" || v.EmoteID != "e1" || v.Name != "pepeW" {
		t.Errorf("mutation variables = %+v", v)
	}
}

func TestMutateTokenFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Probe always reports an invalid subject; no login route exists.
		writeProbeResult(w, "null")
	}))
	defer srv.Close()
	ts := &TokenSource{HTTPClient: testClient(srv, t)}
	c := &Client{Tokens: ts, HTTPClient: testClient(srv, t)}

	err := c.RemoveEmote(context.Background(), "set456", "e1", "pepeW")
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("RemoveEmote() error = %v, want ErrAuth", err)
	}
}
