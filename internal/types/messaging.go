package types

// Relay event names. Inbound events are pushed by the backend relay over the
// realtime connection; outbound events are emitted back by the bridge. JSON
// payload tags use camelCase to match the relay's wire contract.
const (
	// Inbound.
	EventSendEmail      = "send-email"
	EventEmailProcessed = "emailProcessed"

	// Outbound.
	EventEmailSent   = "email-sent"
	EventEmailError  = "email-error"
	EventEmailReport = "emailSent"
)

// SendEmailRequest is the payload of a relay-pushed send-email event.
// ServiceID and TemplateID override the statically configured defaults when
// present.
type SendEmailRequest struct {
	ID             string         `json:"id"`
	ServiceID      string         `json:"serviceId,omitempty"`
	TemplateID     string         `json:"templateId,omitempty"`
	TemplateParams map[string]any `json:"templateParams"`
}

// ProviderResponse is the provider outcome echoed back to the relay.
type ProviderResponse struct {
	Status int    `json:"status"`
	Text   string `json:"text"`
}

// EmailSentEvent acknowledges a relay-triggered dispatch that succeeded.
type EmailSentEvent struct {
	EmailID  string           `json:"emailId"`
	Success  bool             `json:"success"`
	Response ProviderResponse `json:"response"`
}

// EmailErrorDetail is the structured error carried on an email-error event.
type EmailErrorDetail struct {
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
	Details any    `json:"details,omitempty"`
}

// EmailErrorEvent reports a relay-triggered dispatch that failed.
type EmailErrorEvent struct {
	EmailID string           `json:"emailId"`
	Error   EmailErrorDetail `json:"error"`
}

// EmailReportEvent reports a widget-triggered direct dispatch back to the
// relay. It repeats the request fields alongside the provider response.
type EmailReportEvent struct {
	From        string           `json:"from"`
	To          string           `json:"to"`
	ReplyBody   string           `json:"replyBody"`
	ThreadID    string           `json:"threadId"`
	Attachments []Attachment     `json:"attachments,omitempty"`
	Success     bool             `json:"success"`
	Response    ProviderResponse `json:"response"`
}
