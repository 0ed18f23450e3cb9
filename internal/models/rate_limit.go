package models

// Scope names one rate-limit category. The persisted counter key is
// "{scope}_{sha256hex(identifier)}" so raw identifiers never reach
// the counter store.
type Scope string

const (
	ScopePasswordResetEmail Scope = "password_reset_email"
	ScopePasswordResetPhone Scope = "password_reset_phone"
	ScopePasswordResetIP    Scope = "password_reset_ip"
)

// RateLimitRecord is one counter document per (scope, key) pair.
// Records are created lazily and never deleted by this service;
// retention is an external policy.
type RateLimitRecord struct {
	Scope             Scope `json:"scope"`
	RequestCount      int64 `json:"request_count"`
	WindowStartedAtMs int64 `json:"window_started_at_ms"`
	LastRequestedAtMs int64 `json:"last_requested_at_ms"`
	UpdatedAtMs       int64 `json:"updated_at_ms"`
}
