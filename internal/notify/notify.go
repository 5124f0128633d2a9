package notify

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kafkax "github.com/sporehub/marketplace/internal/kafka"
)

// Notifier and Auditor are fire-and-forget collaborators. They are invoked
// only after the enclosing transaction has committed, and their failures are
// logged, never surfaced into a ledger or order outcome.

type Notifier struct {
	Producer *kafkax.Producer
	Service  string
}

func (n *Notifier) Notify(userID, kind string, payload any) {
	if n == nil || n.Producer == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("type", kind).Warn("notify: marshal payload")
		return
	}
	n.publish(EventNotificationRequested, userID, NotificationPayload{
		UserID:  userID,
		Type:    kind,
		Payload: raw,
	})
}

func (n *Notifier) publish(eventType, correlationID string, payload any) {
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      n.Service,
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
	n.Producer.Publish(PartitionKey(correlationID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

type Auditor struct {
	Producer *kafkax.Producer
	Service  string
}

// Append records an audit entry, best-effort and non-blocking.
func (a *Auditor) Append(action, entityType, entityID, actorID, details string) {
	if a == nil || a.Producer == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventAuditRecorded,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      a.Service,
		CorrelationID: entityID,
		Payload: kafkax.MustMarshal(AuditPayload{
			Action:     action,
			EntityType: entityType,
			EntityID:   entityID,
			ActorID:    actorID,
			Details:    details,
		}),
	}
	a.Producer.Publish(PartitionKey(entityID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(EventAuditRecorded)},
	)
}
