// Package dispatch maps resolved email requests onto the provider's
// template-parameter shape and invokes the send API with the statically
// configured defaults. It owns no retry policy: a failed dispatch is
// returned to the caller exactly as the provider reported it.
package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"legalchat/internal/external"
	"legalchat/internal/types"
)

// Config holds the dispatcher's static provider defaults and the frontend
// base URL used to build reply links.
type Config struct {
	ServiceID       string
	TemplateID      string
	FrontendBaseURL string
}

// Dispatcher turns EmailDispatchRequests into provider sends.
type Dispatcher struct {
	provider external.EmailProvider
	cfg      Config
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given provider.
func NewDispatcher(provider external.EmailProvider, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		provider: provider,
		cfg:      Config{
			ServiceID:       cfg.ServiceID,
			TemplateID:      cfg.TemplateID,
			FrontendBaseURL: strings.TrimSuffix(cfg.FrontendBaseURL, "/"),
		},
		logger: logger,
	}
}

// Dispatch sends one email derived from a chat message. Template parameters
// follow the provider template contract: from_name, to_email, message,
// channel_url (reply link back into the chat thread), attachments.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.EmailDispatchRequest) (types.EmailDispatchResult, error) {
	attachments := req.Attachments
	if attachments == nil {
		attachments = []types.Attachment{}
	}

	params := map[string]any{
		"from_name":   req.From,
		"to_email":    req.To,
		"message":     req.ReplyBody,
		"channel_url": d.cfg.FrontendBaseURL + "/chat/" + req.ThreadID,
		"attachments": attachments,
	}

	return d.provider.Send(ctx, d.cfg.ServiceID, d.cfg.TemplateID, params)
}

// DispatchTemplate sends pre-built template parameters, as pushed by the
// relay. Empty serviceID or templateID fall back to the configured defaults.
func (d *Dispatcher) DispatchTemplate(ctx context.Context, serviceID, templateID string, params map[string]any) (types.EmailDispatchResult, error) {
	if serviceID == "" {
		serviceID = d.cfg.ServiceID
	}
	if templateID == "" {
		templateID = d.cfg.TemplateID
	}
	if params == nil {
		params = map[string]any{}
	}
	return d.provider.Send(ctx, serviceID, templateID, params)
}
