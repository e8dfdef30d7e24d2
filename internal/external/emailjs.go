package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"legalchat/internal/types"
)

// emailJSAPIBase is the default EmailJS REST endpoint base.
// Overridable in tests via EmailJSClientConfig.BaseURL.
const emailJSAPIBase = "https://api.emailjs.com"

// EmailJSClientConfig holds the configuration for creating an EmailJSClient.
type EmailJSClientConfig struct {
	PublicKey types.SecretString
	BaseURL   string // Override for testing; defaults to emailJSAPIBase
	Logger    *slog.Logger
}

// EmailJSClient implements EmailProvider against the EmailJS REST send API.
// Requests route through BaseClient for circuit breaking and error mapping,
// but with retries disabled: a rejected or timed-out dispatch surfaces to
// the caller exactly once.
type EmailJSClient struct {
	base      *BaseClient
	publicKey types.SecretString
	baseURL   string
	logger    *slog.Logger
}

// NewEmailJSClient creates an EmailJSClient with a no-retry BaseClient.
func NewEmailJSClient(httpClient *http.Client, cfg EmailJSClientConfig) *EmailJSClient {
	base := NewBaseClient(httpClient, "emailjs", NoRetryPolicy())
	return NewEmailJSClientWithBase(base, cfg)
}

// NewEmailJSClientWithBase creates an EmailJSClient with a pre-configured
// BaseClient. Useful in tests that control breaker or sleep behavior.
func NewEmailJSClientWithBase(base *BaseClient, cfg EmailJSClientConfig) *EmailJSClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = emailJSAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailJSClient{
		base:      base,
		publicKey: cfg.PublicKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// emailJSSendPayload is the JSON body of the EmailJS send call.
type emailJSSendPayload struct {
	ServiceID      string         `json:"service_id"`
	TemplateID     string         `json:"template_id"`
	UserID         string         `json:"user_id"`
	TemplateParams map[string]any `json:"template_params"`
}

// Send posts the template parameters to EmailJS. On HTTP 200 it returns a
// successful EmailDispatchResult carrying the status and response text. Any
// other outcome maps to a types.AppError with code dispatch_failed and the
// provider status recorded in Details.
func (c *EmailJSClient) Send(ctx context.Context, serviceID, templateID string, templateParams map[string]any) (types.EmailDispatchResult, error) {
	payload := emailJSSendPayload{
		ServiceID:      serviceID,
		TemplateID:     templateID,
		UserID:         c.publicKey.Unmask(),
		TemplateParams: templateParams,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.EmailDispatchResult{}, types.NewAppError(
			types.ErrCodeInternalUnexpected, "failed to marshal send payload", err)
	}

	reqURL := c.baseURL + "/api/v1.0/email/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return types.EmailDispatchResult{}, types.NewAppError(
			types.ErrCodeInternalUnexpected, "failed to create send request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.base.Do(req)
	if err != nil {
		return types.EmailDispatchResult{}, c.wrapTransportError(err)
	}
	defer resp.Body.Close()

	text := readBodyText(resp.Body)

	if resp.StatusCode == http.StatusOK {
		c.logger.Info("email dispatched",
			"service_id", serviceID,
			"template_id", templateID,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return types.EmailDispatchResult{
			Success: true,
			Status:  resp.StatusCode,
			Text:    text,
		}, nil
	}

	return types.EmailDispatchResult{}, types.NewAppErrorWithDetails(
		types.ErrCodeDispatchFailed,
		fmt.Sprintf("email provider rejected send (%d): %s", resp.StatusCode, text),
		nil,
		map[string]any{"status": resp.StatusCode, "text": text},
	)
}

// wrapTransportError normalizes BaseClient failures into dispatch errors so
// the router and relay reporting see a single error code.
func (c *EmailJSClient) wrapTransportError(err error) error {
	if appErr, ok := err.(*types.AppError); ok {
		return types.NewAppErrorWithDetails(
			types.ErrCodeDispatchFailed,
			"email provider request failed: "+appErr.Message,
			appErr,
			appErr.Details,
		)
	}
	return types.NewAppError(types.ErrCodeDispatchFailed,
		fmt.Sprintf("email provider request failed: %v", err), err)
}

// readBodyText reads a short provider response body; EmailJS replies with
// plain text ("OK" on success).
func readBodyText(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// Compile-time assertion that EmailJSClient satisfies EmailProvider.
var _ EmailProvider = (*EmailJSClient)(nil)
