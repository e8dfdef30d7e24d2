// Package router classifies chat message events, resolves email recipients
// from channel membership, triggers dispatch, and reports outcomes back over
// the relay connection. It never touches connection internals: the relay is
// reached only through its Emit contract.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"legalchat/internal/external"
	"legalchat/internal/types"
)

// Dispatcher is the outbound email capability the router invokes.
type Dispatcher interface {
	// Dispatch sends one email derived from a chat message.
	Dispatch(ctx context.Context, req types.EmailDispatchRequest) (types.EmailDispatchResult, error)

	// DispatchTemplate sends relay-supplied template parameters, with
	// empty service or template IDs falling back to configured defaults.
	DispatchTemplate(ctx context.Context, serviceID, templateID string, params map[string]any) (types.EmailDispatchResult, error)
}

// Emitter is the slice of the relay connection the router is allowed to use.
type Emitter interface {
	Emit(event string, payload any) error
}

// Router routes chat events to email dispatch. Construct one per session;
// it holds no global state.
type Router struct {
	dispatcher Dispatcher
	fetcher    external.ChannelFetcher
	emitter    Emitter
	errs       *ErrorState
	logger     *slog.Logger
}

// NewRouter creates a Router. fetcher resolves channels for events that
// arrive without one; emitter reports dispatch outcomes to the relay.
func NewRouter(dispatcher Dispatcher, fetcher external.ChannelFetcher, emitter Emitter, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		dispatcher: dispatcher,
		fetcher:    fetcher,
		emitter:    emitter,
		errs:       &ErrorState{},
		logger:     logger,
	}
}

// LastError returns the current dismissible error for the status surface.
func (r *Router) LastError() *types.AppError {
	return r.errs.Last()
}

// DismissError clears the current dismissible error.
func (r *Router) DismissError() {
	r.errs.Clear()
}

// OnOutboundMessage handles a message surfaced by the chat widget. Only
// events tagged with the email message type are routed; everything else is
// a no-op. Failures are recorded for the status surface and returned, but
// never retried: the user re-triggers by sending again.
func (r *Router) OnOutboundMessage(ctx context.Context, event types.ChatMessageEvent) error {
	if event.MessageType != types.MessageTypeEmail {
		return nil
	}

	logger := r.logger.With(
		"message_id", event.MessageID,
		"channel_url", event.ChannelURL,
		"sender_id", event.SenderID,
	)

	channel, err := r.resolveChannel(ctx, event)
	if err != nil {
		logger.Error("channel resolution failed", "error", err)
		r.recordError(err)
		return err
	}

	recipient, err := resolveRecipient(channel, event.SenderID)
	if err != nil {
		logger.Error("recipient resolution failed", "error", err)
		r.recordError(err)
		return err
	}

	req := types.EmailDispatchRequest{
		From:        event.SenderID,
		To:          recipient,
		ReplyBody:   event.Body,
		ThreadID:    event.MessageID,
		Attachments: event.Attachments,
	}

	result, err := r.dispatcher.Dispatch(ctx, req)
	if err != nil {
		logger.Error("email dispatch failed", "to", recipient, "error", err)
		r.recordError(err)
		return err
	}

	logger.Info("email dispatched for chat message", "to", recipient, "status", result.Status)
	r.errs.Clear()

	// Best-effort report to the relay; a dropped report is logged by the
	// connection manager and does not fail the dispatch.
	_ = r.emitter.Emit(types.EventEmailReport, types.EmailReportEvent{
		From:        req.From,
		To:          req.To,
		ReplyBody:   req.ReplyBody,
		ThreadID:    req.ThreadID,
		Attachments: req.Attachments,
		Success:     true,
		Response:    types.ProviderResponse{Status: result.Status, Text: result.Text},
	})
	return nil
}

// OnInboundRelayEmailRequest handles a send-email event pushed by the
// backend relay. The outcome always goes back over the relay, success or
// failure; this path never touches the user-visible error state.
func (r *Router) OnInboundRelayEmailRequest(ctx context.Context, payload json.RawMessage) {
	var req types.SendEmailRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		r.logger.Error("malformed send-email payload", "error", err)
		return
	}

	logger := r.logger.With("email_id", req.ID)
	logger.Info("relay email request received",
		"service_id", req.ServiceID,
		"template_id", req.TemplateID,
		"param_count", len(req.TemplateParams),
	)

	result, err := r.dispatcher.DispatchTemplate(ctx, req.ServiceID, req.TemplateID, req.TemplateParams)
	if err != nil {
		logger.Error("relay email dispatch failed", "error", err)
		_ = r.emitter.Emit(types.EventEmailError, types.EmailErrorEvent{
			EmailID: req.ID,
			Error:   dispatchErrorDetail(err),
		})
		return
	}

	logger.Info("relay email dispatched", "status", result.Status)
	_ = r.emitter.Emit(types.EventEmailSent, types.EmailSentEvent{
		EmailID:  req.ID,
		Success:  true,
		Response: types.ProviderResponse{Status: result.Status, Text: result.Text},
	})
}

// resolveChannel returns the event's channel, fetching it when absent.
func (r *Router) resolveChannel(ctx context.Context, event types.ChatMessageEvent) (*types.Channel, error) {
	if event.Channel != nil {
		return event.Channel, nil
	}
	if event.ChannelURL == "" {
		return nil, types.NewAppError(types.ErrCodeChannelResolution,
			"message event carries neither channel nor channel URL", nil)
	}
	channel, err := r.fetcher.FetchChannel(ctx, event.ChannelURL)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, types.NewAppError(types.ErrCodeChannelResolution,
			fmt.Sprintf("failed to fetch channel %s", event.ChannelURL), err)
	}
	return channel, nil
}

// resolveRecipient applies the membership invariant: exactly one member
// other than the sender, addressed by metadata email when present, else by
// user ID.
func resolveRecipient(channel *types.Channel, senderID string) (string, error) {
	member, ok := channel.Counterpart(senderID)
	if !ok {
		return "", types.NewAppError(types.ErrCodeRecipientResolution,
			fmt.Sprintf("channel %s has no member besides sender %s", channel.URL, senderID), nil)
	}
	to := member.RecipientAddress()
	if to == "" {
		return "", types.NewAppError(types.ErrCodeRecipientResolution,
			fmt.Sprintf("member in channel %s has neither email nor user ID", channel.URL), nil)
	}
	return to, nil
}

// recordError stores err in the dismissible error state, wrapping non-app
// errors so the surface always carries a code.
func (r *Router) recordError(err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		r.errs.Record(appErr)
		return
	}
	r.errs.Record(types.NewAppError(types.ErrCodeInternalUnexpected, err.Error(), err))
}

// dispatchErrorDetail shapes a dispatch failure for the email-error event.
func dispatchErrorDetail(err error) types.EmailErrorDetail {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return types.EmailErrorDetail{
			Message: appErr.Message,
			Status:  appErr.StatusDetail(),
			Details: appErr.Details,
		}
	}
	return types.EmailErrorDetail{Message: err.Error()}
}
