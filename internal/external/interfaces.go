package external

import (
	"context"

	"legalchat/internal/types"
)

// EmailProvider abstracts the transactional email service. Implementations
// send one templated message per call and normalize the provider outcome.
// A failed send is returned, never retried here; dispatch retry policy
// belongs to whoever triggered the send.
type EmailProvider interface {
	// Send delivers templateParams through the named service and template.
	Send(ctx context.Context, serviceID, templateID string, templateParams map[string]any) (types.EmailDispatchResult, error)
}

// ChannelFetcher abstracts the chat provider's channel lookup. The router
// calls it when a message event arrives without its channel attached.
type ChannelFetcher interface {
	// FetchChannel retrieves a channel with its full member list.
	FetchChannel(ctx context.Context, channelURL string) (*types.Channel, error)
}

// Registrar abstracts the backend registration endpoint that provisions a
// chat-provider user for the session.
type Registrar interface {
	// Register submits the registration form and returns the session
	// identity minted by the backend.
	Register(ctx context.Context, req types.RegistrationRequest) (*types.Session, error)
}
