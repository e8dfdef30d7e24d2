package external

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"legalchat/internal/types"
)

// SendBirdClientConfig holds the configuration for creating a SendBirdClient.
type SendBirdClientConfig struct {
	AppID    string
	APIToken types.SecretString
	BaseURL  string // Override for testing; defaults to the per-app API host
	Logger   *slog.Logger
}

// SendBirdClient implements ChannelFetcher against the SendBird Platform
// API. It exists so the router can resolve channel membership for message
// events that arrive without their channel attached; the chat UI itself is
// entirely owned by the embedded widget and never touched here.
type SendBirdClient struct {
	base     *BaseClient
	apiToken types.SecretString
	baseURL  string
	logger   *slog.Logger
}

// NewSendBirdClient creates a SendBirdClient with the default retry policy.
func NewSendBirdClient(httpClient *http.Client, cfg SendBirdClientConfig) *SendBirdClient {
	base := NewBaseClient(httpClient, "sendbird", DefaultRetryPolicy())
	return NewSendBirdClientWithBase(base, cfg)
}

// NewSendBirdClientWithBase creates a SendBirdClient with a pre-configured
// BaseClient.
func NewSendBirdClientWithBase(base *BaseClient, cfg SendBirdClientConfig) *SendBirdClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://api-%s.sendbird.com", cfg.AppID)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendBirdClient{
		base:     base,
		apiToken: cfg.APIToken,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		logger:   logger,
	}
}

// sendBirdMember mirrors the Platform API member shape; metadata keys other
// than email are ignored.
type sendBirdMember struct {
	UserID   string            `json:"user_id"`
	Nickname string            `json:"nickname"`
	MetaData map[string]string `json:"metadata"`
}

// sendBirdChannel mirrors the Platform API group channel shape.
type sendBirdChannel struct {
	ChannelURL string           `json:"channel_url"`
	CustomType string           `json:"custom_type"`
	Data       string           `json:"data"`
	Members    []sendBirdMember `json:"members"`
}

// FetchChannel retrieves a group channel with its member list. Failures map
// to a types.AppError with code channel_resolution_failed; the router logs
// and records them without retrying.
func (c *SendBirdClient) FetchChannel(ctx context.Context, channelURL string) (*types.Channel, error) {
	reqURL := fmt.Sprintf("%s/v3/group_channels/%s?show_member=true",
		c.baseURL, url.PathEscape(channelURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to create channel fetch request", err)
	}
	req.Header.Set("Api-Token", c.apiToken.Unmask())
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeChannelResolution,
			fmt.Sprintf("channel fetch failed for %s", channelURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeChannelResolution,
			fmt.Sprintf("channel fetch for %s returned %d", channelURL, resp.StatusCode),
			nil,
			map[string]any{"status": resp.StatusCode})
	}

	var raw sendBirdChannel
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, types.NewAppError(types.ErrCodeChannelResolution,
			"failed to decode channel response", err)
	}

	return mapChannel(raw), nil
}

// mapChannel converts the Platform API shape into the domain Channel.
func mapChannel(raw sendBirdChannel) *types.Channel {
	ch := &types.Channel{
		URL:        raw.ChannelURL,
		CustomType: raw.CustomType,
		Members:    make([]types.Member, 0, len(raw.Members)),
	}
	if raw.Data != "" {
		// Channel data is an opaque string; keep it decodable if it holds
		// JSON, raw otherwise.
		var data map[string]any
		if err := json.Unmarshal([]byte(raw.Data), &data); err == nil {
			ch.Data = data
		} else {
			ch.Data = map[string]any{"raw": raw.Data}
		}
	}
	for _, m := range raw.Members {
		member := types.Member{
			UserID:   m.UserID,
			Nickname: m.Nickname,
		}
		if m.MetaData != nil {
			member.MetaData.Email = m.MetaData["email"]
		}
		ch.Members = append(ch.Members, member)
	}
	return ch
}

// Compile-time assertion that SendBirdClient satisfies ChannelFetcher.
var _ ChannelFetcher = (*SendBirdClient)(nil)
