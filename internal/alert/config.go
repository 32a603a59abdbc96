// Package alert evaluates audit events against advisory alert rules and
// delivers the resulting alerts by email.
package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultRecipient receives alerts when no recipients are configured.
const DefaultRecipient = "admin@face-system.local"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config controls the alert rules.
type Config struct {
	Recipients  []string `validate:"required,min=1,dive,email"`
	FailedAuth  FailedAuthConfig
	ServerError ServerErrorConfig
}

// FailedAuthConfig tunes the brute-force login rule.
type FailedAuthConfig struct {
	// Threshold is the number of failed logins from one IP that trips the rule.
	Threshold int `validate:"min=1"`
	// WindowMinutes is the TTL of both the attempt counter and the fired flag.
	WindowMinutes int `validate:"min=1"`
}

// Window returns WindowMinutes as a duration.
func (c FailedAuthConfig) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// ServerErrorConfig toggles the per-5xx rule.
type ServerErrorConfig struct {
	Enabled bool
}

// DefaultConfig returns threshold 5, a 10 minute window, server error alerts
// on, and DefaultRecipient.
func DefaultConfig() Config {
	return Config{
		Recipients:  []string{DefaultRecipient},
		FailedAuth:  FailedAuthConfig{Threshold: 5, WindowMinutes: 10},
		ServerError: ServerErrorConfig{Enabled: true},
	}
}

// Validate checks recipients and rule bounds.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid alert config: %w", err)
	}
	return nil
}

// ParseRecipients splits a comma-separated list, dropping blanks.
func ParseRecipients(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
