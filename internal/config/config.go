// Package config defines the configuration for the LegalChat email bridge.
// Configuration is loaded once at process start and is immutable thereafter,
// following 12-Factor principles: OS environment (highest priority) over an
// optional dotenv file. Any missing required value or invalid format fails
// the process immediately on startup.
package config

import (
	"time"

	"legalchat/internal/types"
)

// SecretString is an alias for types.SecretString, used for credentials so
// they never appear in logs or serialized config.
type SecretString = types.SecretString

// Config is the top-level configuration for the bridge process. Components
// receive only the subsets they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Backend  BackendConfig
	Frontend FrontendConfig
	Relay    RelayConfig
	Email    EmailConfig
	Chat     ChatConfig
	Status   StatusConfig
	User     UserConfig
}

// BackendConfig locates the backend relay service.
type BackendConfig struct {
	// Base URL of the backend relay (no trailing slash). The realtime
	// connection attaches to <BaseURL>/email; registration posts to
	// <BaseURL>/users/register.
	BaseURL string `envconfig:"BACKEND_URL" default:"http://localhost:3000" validate:"required,url"`

	// Minimum interval between registration submissions. Attempts inside
	// the window are rejected locally before any request is made.
	RegisterDebounce time.Duration `envconfig:"REGISTER_DEBOUNCE" default:"1s"`

	RequestTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"10s"`
}

// FrontendConfig holds the public URL of the chat UI, used to build reply
// links embedded in outbound email.
type FrontendConfig struct {
	BaseURL string `envconfig:"FRONTEND_URL" default:"http://localhost:5173" validate:"required,url"`
}

// RelayConfig tunes the realtime connection to the backend relay. Two retry
// layers exist on purpose: the transport dials up to TransportMaxAttempts
// per connect cycle, and the connection manager retries whole cycles at a
// fixed interval without bound. The manager loop is the authoritative one.
type RelayConfig struct {
	// Delay before retrying after a failed connect cycle.
	ConnectRetryDelay time.Duration `envconfig:"RELAY_CONNECT_RETRY_DELAY" default:"2s"`

	// Delay before reconnecting after an unexpected drop.
	ReconnectDelay time.Duration `envconfig:"RELAY_RECONNECT_DELAY" default:"1s"`

	// Handshake attempts within one connect cycle.
	TransportMaxAttempts int `envconfig:"RELAY_TRANSPORT_ATTEMPTS" default:"5" validate:"min=1"`

	// Delay between handshake attempts within a cycle.
	TransportRetryDelay time.Duration `envconfig:"RELAY_TRANSPORT_RETRY_DELAY" default:"1s"`

	HandshakeTimeout time.Duration `envconfig:"RELAY_HANDSHAKE_TIMEOUT" default:"10s"`
}

// EmailConfig holds the transactional email provider credentials and the
// statically configured defaults used when a relay push carries no service
// or template override.
type EmailConfig struct {
	PublicKey  SecretString `envconfig:"EMAILJS_PUBLIC_KEY" validate:"required"`
	ServiceID  string       `envconfig:"EMAILJS_SERVICE_ID" validate:"required"`
	TemplateID string       `envconfig:"EMAILJS_TEMPLATE_ID" validate:"required"`

	// Override for testing; defaults to the hosted provider endpoint.
	BaseURL string `envconfig:"EMAILJS_BASE_URL"`

	RequestTimeout time.Duration `envconfig:"EMAILJS_TIMEOUT" default:"10s"`
}

// ChatConfig holds chat provider identifiers used for channel lookups.
type ChatConfig struct {
	AppID    string       `envconfig:"SENDBIRD_APP_ID" validate:"required"`
	APIToken SecretString `envconfig:"SENDBIRD_API_TOKEN" validate:"required"`

	// Override for testing; defaults to the per-application API host.
	BaseURL string `envconfig:"SENDBIRD_BASE_URL"`

	RequestTimeout time.Duration `envconfig:"SENDBIRD_TIMEOUT" default:"10s"`
}

// StatusConfig tunes the local HTTP surface that exposes connection state
// and the dismissible error to the UI.
type StatusConfig struct {
	Port string `envconfig:"STATUS_PORT" default:"8080"`
}

// UserConfig identifies the actor the bridge registers on startup.
type UserConfig struct {
	Name  string     `envconfig:"USER_NAME" validate:"required"`
	Email string     `envconfig:"USER_EMAIL" validate:"required,email"`
	Role  types.Role `envconfig:"USER_ROLE" default:"client" validate:"required,oneof=client attorney"`
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates environment values could not be parsed into
	// their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
