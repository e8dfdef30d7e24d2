package types

// secretPlaceholder replaces secret values in logs and serialized output.
const secretPlaceholder = "***REDACTED***"

var secretPlaceholderJSON = []byte(`"***REDACTED***"`)

// SecretString holds a credential (the email provider public key, the chat
// provider API token) without letting it leak through fmt or JSON output.
// Call Unmask only at the point the raw value is handed to an HTTP client.
type SecretString string

// String returns the redacted placeholder instead of the raw value.
func (s SecretString) String() string {
	return secretPlaceholder
}

// MarshalJSON returns the redacted placeholder as a JSON string so config
// dumps and structured logs never contain the secret.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return secretPlaceholderJSON, nil
}

// Unmask returns the raw plaintext value.
func (s SecretString) Unmask() string {
	return string(s)
}
