package models

import "time"

// TaskState is the lifecycle state of an ImportTask.
type TaskState string

const (
	TaskPending TaskState = "PENDING"
	TaskRunning TaskState = "RUNNING"
	TaskSuccess TaskState = "SUCCESS"
	TaskFailed  TaskState = "FAILED"
)

// Finished reports whether s is a terminal state.
func (s TaskState) Finished() bool {
	return s == TaskSuccess || s == TaskFailed
}

// TaskType distinguishes role imports from collection imports.
type TaskType string

const (
	TaskTypeRole       TaskType = "role"
	TaskTypeCollection TaskType = "collection"
)

// MessageLevel is the severity of an import message.
type MessageLevel string

const (
	LevelDebug   MessageLevel = "DEBUG"
	LevelInfo    MessageLevel = "INFO"
	LevelWarning MessageLevel = "WARNING"
	LevelError   MessageLevel = "ERROR"
	LevelFailed  MessageLevel = "FAILED"
)

// ImportTaskMessage is a line of importer output attached to a task.
type ImportTaskMessage struct {
	Level       MessageLevel `json:"message_type"`
	Text        string       `json:"message_text"`
	ContentName string       `json:"content_name,omitempty"`
	LineNumber  int          `json:"linenum,omitempty"`
	RuleID      string       `json:"rule_id,omitempty"`
	Created     time.Time    `json:"created"`
}

// ImportTask tracks one asynchronous role or collection import.
type ImportTask struct {
	ID                  int64               `json:"id"`
	Type                TaskType            `json:"type"`
	State               TaskState           `json:"state"`
	OwnerID             int64               `json:"owner"`
	RepositoryID        *int64              `json:"repository,omitempty"`
	NamespaceID         *int64              `json:"namespace,omitempty"`
	CollectionVersionID *int64              `json:"collection_version,omitempty"`
	GitHubUser          string              `json:"github_user,omitempty"`
	GitHubRepo          string              `json:"github_repo,omitempty"`
	GitHubReference     string              `json:"github_reference,omitempty"`
	AlternateRoleName   string              `json:"alternate_role_name,omitempty"`
	ArtifactKey         string              `json:"-"`
	CommitSHA           string              `json:"commit,omitempty"`
	CommitMessage       string              `json:"commit_message,omitempty"`
	ImportBranch        string              `json:"import_branch,omitempty"`
	Error               string              `json:"error,omitempty"`
	Messages            []ImportTaskMessage `json:"messages"`
	WarningCount        int                 `json:"warning_count"`
	ErrorCount          int                 `json:"error_count"`
	Created             time.Time           `json:"created"`
	Started             *time.Time          `json:"started,omitempty"`
	Finished            *time.Time          `json:"finished,omitempty"`
}

// AddMessage appends a message and keeps the warning/error counters in step.
func (t *ImportTask) AddMessage(level MessageLevel, contentName, text string) {
	switch level {
	case LevelWarning:
		t.WarningCount++
	case LevelError, LevelFailed:
		t.ErrorCount++
	}
	t.Messages = append(t.Messages, ImportTaskMessage{
		Level:       level,
		Text:        text,
		ContentName: contentName,
		Created:     time.Now().UTC(),
	})
}
