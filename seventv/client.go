package seventv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// maxNameAttempts bounds collision suffixing so a pathological set can't
// spin the processor forever.
const maxNameAttempts = 100

const changeEmoteQuery = "mutation ChangeEmoteInSet($id: ObjectID!, $action: ListItemAction!, $emote_id: ObjectID!, $name: String) {\n  emoteSet(id: $id) {\n    id\n    emotes(id: $emote_id, action: $action, name: $name) {\n      id\n      name\n      __typename\n    }\n    __typename\n  }\n}"

// EmoteSet is a snapshot of the remote set. It is refetched at the start of
// every mutating sequence and never trusted across cycles; other editors
// and the sweeper change the set behind our back.
type EmoteSet struct {
	ID     string     `json:"id"`
	Emotes []SetEmote `json:"emotes"`
}

// SetEmote is one entry of an emote set. Name, not id, determines the
// remote display slot.
type SetEmote struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EmoteInfo is the result of a remote emote lookup.
type EmoteInfo struct {
	Name   string `json:"name"`
	Listed bool   `json:"listed"`
}

// Client reads and mutates 7TV emote sets. Mutations authenticate through
// the TokenSource; reads are unauthenticated.
type Client struct {
	Tokens     *TokenSource
	HTTPClient *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// EmoteSetID resolves a 7TV user id to its active emote set id.
func (c *Client) EmoteSetID(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("userID empty")
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, userRoute+userID, nil)
	resp, err := c.http().Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("user lookup failed: %s", resp.Status)
	}
	var body struct {
		Connections []struct {
			EmoteSetID string `json:"emote_set_id"`
		} `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Connections) == 0 || body.Connections[0].EmoteSetID == "" {
		return "", fmt.Errorf("user %s has no emote set connection", userID)
	}
	return body.Connections[0].EmoteSetID, nil
}

// LoadSet fetches the current remote emote set.
func (c *Client) LoadSet(ctx context.Context, setID string) (*EmoteSet, error) {
	if setID == "" {
		return nil, fmt.Errorf("setID empty")
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, emoteSetRoute+setID, nil)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("emote set fetch failed: %s", resp.Status)
	}
	var set EmoteSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, err
	}
	return &set, nil
}

// CheckEmote looks up an emote id on 7TV. A 400/404-class response maps to
// ErrEmoteNotFound; an unlisted emote returns its info alongside
// ErrEmoteUnlisted (a rejection reason, not a fault).
func (c *Client) CheckEmote(ctx context.Context, emoteID string) (EmoteInfo, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, emoteRoute+emoteID, nil)
	resp, err := c.http().Do(req)
	if err != nil {
		return EmoteInfo{}, err
	}
	defer closeBody(resp)
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusNotFound:
		return EmoteInfo{}, fmt.Errorf("emote %s: %w", emoteID, ErrEmoteNotFound)
	case http.StatusOK, http.StatusNotModified:
	default:
		return EmoteInfo{}, fmt.Errorf("emote lookup failed: %s", resp.Status)
	}
	var info EmoteInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return EmoteInfo{}, err
	}
	if !info.Listed {
		return info, fmt.Errorf("emote %s (%s): %w", emoteID, info.Name, ErrEmoteUnlisted)
	}
	return info, nil
}

// AddEmote adds the emote to the set under desiredName, resolving name
// collisions against the provided snapshot. Returns the name actually used.
//
// If the emote id is already present it returns the existing name and
// ErrAlreadyPresent. A colliding name gets a numeric suffix that advances on
// every retry until a free slot is found or maxNameAttempts is exhausted.
func (c *Client) AddEmote(ctx context.Context, set *EmoteSet, emoteID, desiredName string) (string, error) {
	for _, e := range set.Emotes {
		if e.ID == emoteID {
			return e.Name, fmt.Errorf("emote %s as %q: %w", emoteID, e.Name, ErrAlreadyPresent)
		}
	}

	name := desiredName
	suffix := 2
	for hasName(set, name) {
		if suffix > maxNameAttempts {
			return "", fmt.Errorf("no free name for %q after %d attempts: %w", desiredName, maxNameAttempts, ErrMutation)
		}
		name = desiredName + strconv.Itoa(suffix)
		suffix++
	}

	if err := c.mutate(ctx, set.ID, emoteID, "ADD", name); err != nil {
		return "", err
	}
	return name, nil
}

// RemoveEmote removes the emote from the set.
func (c *Client) RemoveEmote(ctx context.Context, setID, emoteID, name string) error {
	return c.mutate(ctx, setID, emoteID, "REMOVE", name)
}

// mutate issues a single authenticated ChangeEmoteInSet write. Any transport
// or application error maps to ErrMutation; no local state changes happen
// here, so the caller must not record the outcome until this returns nil.
func (c *Client) mutate(ctx context.Context, setID, emoteID, action, name string) error {
	token, err := c.Tokens.Get(ctx)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"operationName": "ChangeEmoteInSet",
		"query":         changeEmoteQuery,
		"variables": map[string]string{
			"action":   action,
			"id":       setID,
			"emote_id": emoteID,
			"name":     name,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gqlRoute, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.AddCookie(&http.Cookie{Name: authCookieName, Value: token})

	resp, err := c.http().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %v: %w", action, emoteID, err, ErrMutation)
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: %s: %s: %w", action, emoteID, resp.Status, strings.TrimSpace(string(b)), ErrMutation)
	}
	var out struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", action, emoteID, ErrMutation)
	}
	if len(out.Errors) > 0 {
		slog.Warn("7tv mutation rejected", slog.String("action", action), slog.String("emote_id", emoteID), slog.String("message", out.Errors[0].Message))
		return fmt.Errorf("%s %s: %s: %w", action, emoteID, out.Errors[0].Message, ErrMutation)
	}
	return nil
}

func hasName(set *EmoteSet, name string) bool {
	for _, e := range set.Emotes {
		if strings.EqualFold(e.Name, name) {
			return true
		}
	}
	return false
}
