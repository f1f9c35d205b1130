package notify

// SyncSummary is the payload of a sync-completion notification.
type SyncSummary struct {
	Folder string `json:"folder"`
	Synced int    `json:"synced"`
	Errors int    `json:"errors"`
	Total  int    `json:"total"`
}

// NewEmailSummary describes a freshly mirrored message.
type NewEmailSummary struct {
	MessageID int64  `json:"message_id"`
	Folder    string `json:"folder"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Snippet   string `json:"snippet"`
}

// Notifier pushes updates to connected clients. Every call is
// fire-and-forget: no return value is consumed and delivery failures are
// not retried.
type Notifier interface {
	NewEmail(userID int64, summary NewEmailSummary)
	EmailUpdated(userID, messageID int64, changes map[string]any)
	EmailDeleted(userID, messageID int64)
	SyncCompleted(userID int64, result SyncSummary)
	ScheduledEmailSent(userID, entryID int64, subject string)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) NewEmail(int64, NewEmailSummary)           {}
func (NopNotifier) EmailUpdated(int64, int64, map[string]any) {}
func (NopNotifier) EmailDeleted(int64, int64)                 {}
func (NopNotifier) SyncCompleted(int64, SyncSummary)          {}
func (NopNotifier) ScheduledEmailSent(int64, int64, string)   {}
