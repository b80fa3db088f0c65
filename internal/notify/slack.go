package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SlackNotifier mirrors presenter notifications into a Slack channel through
// an incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the webhook payload. Text is the fallback shown in push
// notifications; Blocks carry the rendered card.
type SlackMessage struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks,omitempty"`
}

// SlackBlock is the subset of Block Kit used for dispatch cards
type SlackBlock struct {
	Type     string         `json:"type"`
	Text     *SlackText     `json:"text,omitempty"`
	Elements []SlackElement `json:"elements,omitempty"`
}

// SlackText is a Block Kit text object
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SlackElement is a context text or a link button
type SlackElement struct {
	Type  string     `json:"type"`
	Text  *SlackText `json:"text,omitempty"`
	URL   string     `json:"url,omitempty"`
	Style string     `json:"style,omitempty"`
}

// NewSlackNotifier returns a notifier posting to webhookURL. An empty URL
// disables it.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SlackEmoji returns the leading emoji for a notification type
func SlackEmoji(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return ":white_check_mark:"
	case NotifyWarning:
		return ":warning:"
	case NotifyError:
		return ":x:"
	default:
		return ":robot_face:"
	}
}

// BuildSlackMessage renders n as a section, an issue context line and, when
// the issue page is known, an "Open in Jira" button
func BuildSlackMessage(n Notification) SlackMessage {
	headline := fmt.Sprintf("%s *%s*", SlackEmoji(n.Type), n.Title)
	if n.Message != "" {
		headline += "\n" + n.Message
	}

	msg := SlackMessage{
		Text: strings.TrimSpace(n.Title + " " + n.IssueKey),
		Blocks: []SlackBlock{{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: headline},
		}},
	}

	if n.IssueKey != "" {
		issue := n.IssueKey
		if n.URL != "" {
			issue = fmt.Sprintf("<%s|%s>", n.URL, n.IssueKey)
		}
		msg.Blocks = append(msg.Blocks, SlackBlock{
			Type: "context",
			Elements: []SlackElement{
				{Type: "mrkdwn", Text: &SlackText{Type: "mrkdwn", Text: issue + " · boardwatch"}},
			},
		})
	}

	if n.URL != "" {
		button := SlackElement{
			Type: "button",
			Text: &SlackText{Type: "plain_text", Text: "Open in Jira"},
			URL:  n.URL,
		}
		if n.Type == NotifyError {
			button.Style = "danger"
		}
		msg.Blocks = append(msg.Blocks, SlackBlock{Type: "actions", Elements: []SlackElement{button}})
	}

	return msg
}

// Send posts n to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(BuildSlackMessage(n))
	if err != nil {
		return fmt.Errorf("encoding slack message: %w", err)
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
