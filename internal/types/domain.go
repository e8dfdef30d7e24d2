// Package types defines the shared domain model for the LegalChat email
// bridge: chat sessions, message events, channel membership, and the
// ephemeral email dispatch request/result pair derived from them. All
// entities here are transient; nothing in this module is persisted.
package types

// Role identifies the kind of participant a session belongs to.
type Role string

const (
	RoleClient   Role = "client"
	RoleAttorney Role = "attorney"
)

// Valid reports whether the role is one of the known participant roles.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleAttorney
}

// Session identifies the logged-in actor for the lifetime of the bridge
// process. It is created by user registration and discarded on shutdown.
type Session struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Role     Role   `json:"role"`
}

// MessageTypeEmail is the message type tag that marks a chat message as an
// email-notification trigger. Messages with any other type pass through the
// router untouched.
const MessageTypeEmail = "email"

// Attachment is a file reference carried on a chat message and forwarded
// verbatim to the email provider.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// MemberMetaData holds the chat provider's per-member metadata. Only the
// email address is meaningful to the bridge.
type MemberMetaData struct {
	Email string `json:"email,omitempty"`
}

// Member is a participant in a chat channel.
type Member struct {
	UserID   string         `json:"userId"`
	Nickname string         `json:"nickname,omitempty"`
	MetaData MemberMetaData `json:"metaData,omitempty"`
}

// Channel is a chat conversation container owned by the chat provider.
// Membership order is as delivered by the provider.
type Channel struct {
	URL        string         `json:"url"`
	Members    []Member       `json:"members"`
	CustomType string         `json:"customType,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Counterpart returns the first member whose user ID differs from senderID.
// A member with an empty user ID still counts: it may carry a metadata email
// address. The boolean is false when the channel has no such member, which
// callers must treat as a recipient resolution failure.
func (c *Channel) Counterpart(senderID string) (Member, bool) {
	for _, m := range c.Members {
		if m.UserID != senderID {
			return m, true
		}
	}
	return Member{}, false
}

// RecipientAddress returns the address email should be sent to for this
// member: the metadata email when present, else the raw user ID. An empty
// result means the member cannot receive email.
func (m Member) RecipientAddress() string {
	if m.MetaData.Email != "" {
		return m.MetaData.Email
	}
	return m.UserID
}

// ChatMessageEvent is a message surfaced by the chat widget. Channel may be
// nil, in which case the router resolves it through the channel fetcher.
type ChatMessageEvent struct {
	MessageType string         `json:"messageType"`
	SenderID    string         `json:"senderId"`
	ChannelURL  string         `json:"channelUrl"`
	MessageID   string         `json:"messageId"`
	Body        string         `json:"message"`
	CustomType  string         `json:"customType,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Channel     *Channel       `json:"channel,omitempty"`
}

// EmailDispatchRequest is the ephemeral, fully-resolved input to an email
// dispatch, derived from a chat message event and its channel membership.
type EmailDispatchRequest struct {
	From        string       `json:"from"`
	To          string       `json:"to"`
	ReplyBody   string       `json:"replyBody"`
	ThreadID    string       `json:"threadId"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// EmailDispatchResult is the normalized outcome of a provider send call.
// Status and Text carry the provider response on success; on failure the
// provider error travels separately as an *AppError.
type EmailDispatchResult struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Text    string `json:"text"`
}

// RegistrationRequest is the payload for the backend user registration
// endpoint, which provisions a chat-provider user for the session.
type RegistrationRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}
