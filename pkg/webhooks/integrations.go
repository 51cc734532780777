package webhooks

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// SlackMessage is a Slack incoming-webhook payload.
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// TeamsMessage is a Microsoft Teams connector card.
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	Summary    string         `json:"summary"`
	Title      string         `json:"title"`
	ThemeColor string         `json:"themeColor"`
	Sections   []TeamsSection `json:"sections"`
}

// TeamsSection represents a section in a Teams message
type TeamsSection struct {
	Facts []TeamsFact `json:"facts,omitempty"`
	Text  string      `json:"text,omitempty"`
}

// TeamsFact represents a fact in a Teams message
type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Format is the body shape a receiver expects.
type Format string

const (
	FormatJSON  Format = "json"
	FormatSlack Format = "slack"
	FormatTeams Format = "teams"
)

// FormatFor picks the body format from the receiver's host. Slack and
// Teams incoming webhooks reject arbitrary JSON.
func FormatFor(rawURL string) Format {
	u, err := url.Parse(rawURL)
	if err != nil {
		return FormatJSON
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "hooks.slack.com":
		return FormatSlack
	case strings.HasSuffix(host, ".webhook.office.com"), host == "outlook.office.com":
		return FormatTeams
	default:
		return FormatJSON
	}
}

// Payload encodes event for the receiver at rawURL.
func Payload(rawURL string, event *Event) ([]byte, error) {
	var body interface{} = event
	switch FormatFor(rawURL) {
	case FormatSlack:
		body = FormatSlackMessage(event)
	case FormatTeams:
		body = FormatTeamsMessage(event)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// eventFields are the well-known data keys shown in chat messages, in order.
var eventFields = []struct {
	key   string
	title string
	short bool
}{
	{"namespace", "Namespace", true},
	{"name", "Name", true},
	{"version", "Version", true},
	{"repository", "Repository", true},
	{"task_id", "Import", true},
	{"url", "URL", false},
}

func dataString(data map[string]interface{}, key string) (string, bool) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, s != ""
	}
	return fmt.Sprint(v), true
}

// FormatSlackMessage formats an event as a Slack message
func FormatSlackMessage(event *Event) SlackMessage {
	fields := []SlackField{
		{Title: "Event", Value: string(event.Type), Short: true},
	}
	for _, f := range eventFields {
		if v, ok := dataString(event.Data, f.key); ok {
			fields = append(fields, SlackField{Title: f.title, Value: v, Short: f.short})
		}
	}
	text, _ := dataString(event.Data, "message")

	return SlackMessage{
		Attachments: []SlackAttachment{
			{
				Color:  getEventColor(event.Type),
				Title:  EventTitle(event),
				Text:   text,
				Fields: fields,
			},
		},
	}
}

// FormatTeamsMessage formats an event as a Microsoft Teams message
func FormatTeamsMessage(event *Event) TeamsMessage {
	title := EventTitle(event)
	facts := []TeamsFact{
		{Name: "Event", Value: string(event.Type)},
		{Name: "Event ID", Value: event.ID},
		{Name: "Timestamp", Value: event.Timestamp.Format("2006-01-02 15:04:05")},
	}
	for _, f := range eventFields {
		if v, ok := dataString(event.Data, f.key); ok {
			facts = append(facts, TeamsFact{Name: f.title, Value: v})
		}
	}
	text, _ := dataString(event.Data, "message")

	return TeamsMessage{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		Summary:    title,
		Title:      title,
		ThemeColor: getEventThemeColor(event.Type),
		Sections: []TeamsSection{
			{
				Facts: facts,
				Text:  text,
			},
		},
	}
}
