// Package twitchapi contains minimal helpers to interact with the Twitch
// Helix channel-points API: looking up a user's newest unfulfilled
// redemption, marking redemptions fulfilled or canceled, and creating the
// default reward.
package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

const redemptionsRoute = "https://api.twitch.tv/helix/channel_points/custom_rewards/redemptions"
const rewardsRoute = "https://api.twitch.tv/helix/channel_points/custom_rewards"

// Redemption statuses accepted by the PATCH endpoint.
const (
	StatusFulfilled = "FULFILLED"
	StatusCanceled  = "CANCELED"
)

// RewardsClient calls the Helix redemptions endpoints for one broadcaster
// and one configured reward. The broadcaster credential is static and
// supplied out of band, wrapped in an oauth2.TokenSource.
type RewardsClient struct {
	ClientID      string
	BroadcasterID string
	RewardID      string
	TokenSource   oauth2.TokenSource
	HTTPClient    *http.Client
}

// NewRewardsClient builds a client around a static broadcaster token.
func NewRewardsClient(clientID, token, broadcasterID, rewardID string) *RewardsClient {
	return &RewardsClient{
		ClientID:      clientID,
		BroadcasterID: broadcasterID,
		RewardID:      rewardID,
		TokenSource:   oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
	}
}

func (rc *RewardsClient) http() *http.Client {
	if rc.HTTPClient != nil {
		return rc.HTTPClient
	}
	return http.DefaultClient
}

func (rc *RewardsClient) authorize(req *http.Request) error {
	tok, err := rc.TokenSource.Token()
	if err != nil {
		return fmt.Errorf("rewards token: %w", err)
	}
	req.Header.Set("Client-Id", rc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return nil
}

// LastRedemption returns the id of the user's newest unfulfilled redemption
// of the configured reward. The user match is case-insensitive.
func (rc *RewardsClient) LastRedemption(ctx context.Context, user string) (string, error) {
	if user == "" {
		return "", fmt.Errorf("user empty")
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, redemptionsRoute, nil)
	q := req.URL.Query()
	q.Set("broadcaster_id", rc.BroadcasterID)
	q.Set("reward_id", rc.RewardID)
	q.Set("status", "UNFULFILLED")
	q.Set("sort", "NEWEST")
	req.URL.RawQuery = q.Encode()
	if err := rc.authorize(req); err != nil {
		return "", err
	}
	resp, err := rc.http().Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("redemption list failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		Data []struct {
			ID       string `json:"id"`
			UserName string `json:"user_name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	for _, entry := range body.Data {
		if strings.EqualFold(entry.UserName, user) {
			return entry.ID, nil
		}
	}
	return "", fmt.Errorf("no unfulfilled redemption for %s", user)
}

// SetRedemptionStatus marks a redemption FULFILLED or CANCELED.
func (rc *RewardsClient) SetRedemptionStatus(ctx context.Context, redemptionID, status string) error {
	if redemptionID == "" {
		return fmt.Errorf("redemptionID empty")
	}
	payload, _ := json.Marshal(map[string]string{"status": status})
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, redemptionsRoute, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("id", redemptionID)
	q.Set("broadcaster_id", rc.BroadcasterID)
	q.Set("reward_id", rc.RewardID)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")
	if err := rc.authorize(req); err != nil {
		return err
	}
	resp, err := rc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("redemption update failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

// CreateReward creates the channel-point reward the bot listens for.
func (rc *RewardsClient) CreateReward(ctx context.Context, title string, cost int) error {
	if title == "" {
		return fmt.Errorf("title empty")
	}
	payload, _ := json.Marshal(map[string]any{"title": title, "cost": cost})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rewardsRoute, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	q := req.URL.Query()
	q.Set("broadcaster_id", rc.BroadcasterID)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")
	if err := rc.authorize(req); err != nil {
		return err
	}
	resp, err := rc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("reward creation failed: %s: %s", resp.Status, string(b))
	}
	return nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
