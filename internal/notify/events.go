package notify

import (
	"encoding/json"
	"time"
)

const (
	TopicNotifications = "marketplace.notifications"
	TopicAudit         = "marketplace.audit"
)

const (
	EventNotificationRequested = "NotificationRequested"
	EventAuditRecorded         = "AuditRecorded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type NotificationPayload struct {
	UserID  string          `json:"user_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AuditPayload struct {
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Details    string `json:"details,omitempty"`
}

// Partition key keeps all events for one entity in order.
func PartitionKey(id string) []byte { return []byte(id) }
