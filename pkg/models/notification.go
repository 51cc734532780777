package models

import "time"

// NotificationType identifies why a notification was raised.
type NotificationType string

const (
	NotifyImportFail    NotificationType = "import_fail"
	NotifyImportSuccess NotificationType = "import_success"
	NotifyNewContent    NotificationType = "new_content"
	NotifySurvey        NotificationType = "survey"
	NotifyNewRelease    NotificationType = "new_release"
)

// AllNotificationTypes lists every notification type in display order.
var AllNotificationTypes = []NotificationType{
	NotifyImportFail, NotifyImportSuccess, NotifyNewContent, NotifySurvey, NotifyNewRelease,
}

// Notification is an in-app message for a user.
type Notification struct {
	ID           int64            `json:"id"`
	UserID       int64            `json:"user"`
	Type         NotificationType `json:"type"`
	Message      string           `json:"message"`
	RepositoryID *int64           `json:"repository,omitempty"`
	CollectionID *int64           `json:"collection,omitempty"`
	ImportTaskID *int64           `json:"import_task,omitempty"`
	Seen         bool             `json:"seen"`
	Created      time.Time        `json:"created"`
}

// NotificationPreferences holds a user's per-type opt-ins.
type NotificationPreferences struct {
	UserID      int64                     `json:"user"`
	Preferences map[NotificationType]bool `json:"preferences"`
}

// DefaultPreferences returns the opt-ins a new user starts with.
func DefaultPreferences(userID int64) *NotificationPreferences {
	prefs := make(map[NotificationType]bool, len(AllNotificationTypes))
	for _, t := range AllNotificationTypes {
		prefs[t] = true
	}
	prefs[NotifyImportSuccess] = false
	return &NotificationPreferences{UserID: userID, Preferences: prefs}
}

// Wants reports whether the user opted in to t. Unknown types fall back to
// the defaults.
func (p *NotificationPreferences) Wants(t NotificationType) bool {
	if p == nil {
		return DefaultPreferences(0).Wants(t)
	}
	v, ok := p.Preferences[t]
	if !ok {
		return t != NotifyImportSuccess
	}
	return v
}
