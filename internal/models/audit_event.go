package models

import "time"

// Reset audit event types.
const (
	AuditResetRequested  = "password_reset_requested"
	AuditResetDenied     = "password_reset_denied"
	AuditResetDeprecated = "password_reset_deprecated_endpoint"
)

// ResetAuditEvent is published to Kafka for every terminal outcome of
// a reset orchestration. Identifiers are hashed upstream; the event
// never carries a raw email or phone number.
type ResetAuditEvent struct {
	EventID     string    `json:"event_id"`
	EventBucket int       `json:"event_bucket"`
	EventType   string    `json:"event_type"`
	EventTime   time.Time `json:"event_time"`
	EmailHash   string    `json:"email_hash,omitempty"`
	PhoneHash   string    `json:"phone_hash,omitempty"`
	IPHash      string    `json:"ip_hash,omitempty"`
	FailedState string    `json:"failed_state,omitempty"`
	ErrorCode   string    `json:"error_code,omitempty"`
}
