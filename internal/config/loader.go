// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC to prevent timezone drift bugs.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Populate the Config struct from envconfig tags.
//  4. Validate the struct with go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by Load.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load builds and validates the process configuration from the environment.
// dotenvPath names an optional dotenv file; pass "" for the default ".env".
// A missing dotenv file is not an error; the OS environment alone may be
// complete.
func Load(dotenvPath string) (*Config, error) {
	time.Local = time.UTC

	if dotenvPath == "" {
		dotenvPath = ".env"
	}
	// Ignore load errors: the file is optional and envconfig validation
	// below catches anything genuinely missing.
	_ = godotenv.Load(dotenvPath)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to parse environment configuration",
			Err:     err,
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate runs struct validation rules against an already-populated Config.
// Exposed separately so tests can validate hand-built configs.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("configuration failed validation on %d field(s)", len(verrs)),
				Err:     err,
			}
		}
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}
