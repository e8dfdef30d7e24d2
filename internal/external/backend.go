package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"legalchat/internal/types"
)

// BackendClientConfig holds the configuration for creating a BackendClient.
type BackendClientConfig struct {
	BaseURL string
	// Debounce is the minimum interval between registration submissions.
	// Attempts inside the window are rejected locally, before any request
	// reaches the backend.
	Debounce time.Duration
	Logger   *slog.Logger
	// now is injectable for debounce tests; defaults to time.Now.
	now func() time.Time
}

// BackendClient implements Registrar against the backend relay's HTTP
// surface. Registration provisions the chat-provider user that the session
// runs as.
type BackendClient struct {
	base     *BaseClient
	baseURL  string
	debounce time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	lastAttempt time.Time
	now         func() time.Time
}

// NewBackendClient creates a BackendClient. Registration is a POST, so the
// underlying client never retries; the debounce window throttles resubmits.
func NewBackendClient(httpClient *http.Client, cfg BackendClientConfig) *BackendClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &BackendClient{
		base:     NewBaseClient(httpClient, "backend", NoRetryPolicy()),
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		debounce: cfg.Debounce,
		logger:   logger,
		now:      nowFn,
	}
}

// registrationResponse mirrors the backend register endpoint response.
type registrationResponse struct {
	SendbirdUserID string `json:"sendbirdUserId"`
	Nickname       string `json:"nickname"`
}

// Register submits the registration form. Submissions closer together than
// the debounce window fail locally with registration_throttled. An HTTP 429
// from the backend maps to the same code with a rate-limit-specific message
// so the UI can tell the user to wait.
func (c *BackendClient) Register(ctx context.Context, reg types.RegistrationRequest) (*types.Session, error) {
	if !reg.Role.Valid() {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			fmt.Sprintf("unknown role %q", reg.Role), nil)
	}

	if err := c.checkDebounce(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(reg)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to marshal registration request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/users/register", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to create registration request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeUpstreamRateLimited {
			return nil, c.rateLimitError(appErr)
		}
		return nil, types.NewAppError(types.ErrCodeRegistrationFailed,
			"registration request failed", err)
	}
	defer resp.Body.Close()

	// 429 never reaches here: BaseClient returns it through the error path
	// handled above.
	if resp.StatusCode >= 400 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeRegistrationFailed,
			fmt.Sprintf("registration returned %d", resp.StatusCode), nil,
			map[string]any{"status": resp.StatusCode})
	}

	var out registrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewAppError(types.ErrCodeRegistrationFailed,
			"failed to decode registration response", err)
	}

	c.logger.Info("user registered",
		"user_id", out.SendbirdUserID,
		"role", string(reg.Role),
	)

	return &types.Session{
		UserID:   out.SendbirdUserID,
		Nickname: out.Nickname,
		Role:     reg.Role,
	}, nil
}

// checkDebounce enforces the minimum interval between submissions and
// records the attempt time when the submission is allowed.
func (c *BackendClient) checkDebounce() error {
	if c.debounce <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < c.debounce {
		return types.NewAppError(types.ErrCodeRegistrationThrottled,
			"registration attempted too soon after the previous submission", nil)
	}
	c.lastAttempt = now
	return nil
}

// rateLimitError builds the user-facing rate-limit message for HTTP 429.
func (c *BackendClient) rateLimitError(cause error) error {
	return types.NewAppError(types.ErrCodeRegistrationThrottled,
		"too many attempts; please wait a few minutes and try again", cause)
}

// Compile-time assertion that BackendClient satisfies Registrar.
var _ Registrar = (*BackendClient)(nil)
