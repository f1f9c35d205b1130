package notify

import (
	"go.uber.org/zap"

	"mailsuite/pkg/mq"
)

// Routing keys on the events exchange consumed by the push layer.
const (
	RouteNewEmail      = "email.new"
	RouteEmailUpdated  = "email.updated"
	RouteEmailDeleted  = "email.deleted"
	RouteSyncCompleted = "email.sync.completed"
	RouteScheduledSent = "email.scheduled.sent"
)

// MQNotifier publishes notifications to the events exchange. Publish errors
// are logged and dropped; the push layer is best-effort only.
type MQNotifier struct {
	publisher *mq.Publisher
	logger    *zap.Logger
}

func NewMQNotifier(publisher *mq.Publisher, logger *zap.Logger) *MQNotifier {
	return &MQNotifier{publisher: publisher, logger: logger}
}

func (n *MQNotifier) publish(routingKey string, payload any) {
	if err := n.publisher.Publish(routingKey, payload); err != nil {
		n.logger.Warn("Dropping notification",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
}

func (n *MQNotifier) NewEmail(userID int64, summary NewEmailSummary) {
	n.publish(RouteNewEmail, map[string]any{
		"user_id": userID,
		"summary": summary,
	})
}

func (n *MQNotifier) EmailUpdated(userID, messageID int64, changes map[string]any) {
	n.publish(RouteEmailUpdated, map[string]any{
		"user_id":    userID,
		"message_id": messageID,
		"changes":    changes,
	})
}

func (n *MQNotifier) EmailDeleted(userID, messageID int64) {
	n.publish(RouteEmailDeleted, map[string]any{
		"user_id":    userID,
		"message_id": messageID,
	})
}

func (n *MQNotifier) SyncCompleted(userID int64, result SyncSummary) {
	n.publish(RouteSyncCompleted, map[string]any{
		"user_id": userID,
		"result":  result,
	})
}

func (n *MQNotifier) ScheduledEmailSent(userID, entryID int64, subject string) {
	n.publish(RouteScheduledSent, map[string]any{
		"user_id":  userID,
		"entry_id": entryID,
		"subject":  subject,
	})
}
