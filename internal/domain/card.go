package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	issueKeyRegex      = regexp.MustCompile(`^[A-Z]+-[0-9]+$`)
	issueKeySearch     = regexp.MustCompile(`[A-Z]+-[0-9]+`)
	notificationSuffix = regexp.MustCompile(`-([A-Z]+-[0-9]+)$`)
)

// ValidIssueKey reports whether s is a canonical issue key such as "PROJ-12"
func ValidIssueKey(s string) bool {
	return issueKeyRegex.MatchString(s)
}

// FindIssueKey returns the first issue key found in free text
func FindIssueKey(text string) (string, bool) {
	key := issueKeySearch.FindString(text)
	return key, key != ""
}

// ParseColumnLabel maps a displayed column title to a tracked column.
// Matching is case-insensitive and tolerant of surrounding text, so
// "  IN PROGRESS (3) " is IN_PROGRESS. Untracked labels return false.
func ParseColumnLabel(label string) (Column, bool) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	switch {
	case normalized == "":
		return "", false
	case strings.Contains(normalized, "in progress"):
		return ColumnInProgress, true
	case strings.Contains(normalized, "qa"):
		return ColumnQA, true
	default:
		return "", false
	}
}

// ParseColumn parses a wire status ("qa", "in progress") or a CLI spelling
// ("in-progress")
func ParseColumn(s string) (Column, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qa":
		return ColumnQA, nil
	case "in progress", "in-progress", "in_progress":
		return ColumnInProgress, nil
	}
	return "", fmt.Errorf("unknown column %q", s)
}

// Operation returns the backend route that handles cards entering c
func (c Column) Operation() Operation {
	if c == ColumnQA {
		return OpRunTests
	}
	return OpSuggestScenarios
}

// Label returns the display form used in logs and notifications
func (c Column) Label() string {
	switch c {
	case ColumnQA:
		return "QA"
	case ColumnInProgress:
		return "In Progress"
	}
	return string(c)
}

// CardSnapshot is what the classifier reads off one card node
type CardSnapshot struct {
	IssueKey     string
	ColumnLabel  string
	TestedMarker bool
}

// CardEvent is a card observed in a tracked column
type CardEvent struct {
	IssueKey     string
	Column       Column
	TestedMarker bool
}

// Event converts a snapshot into a CardEvent when its column is tracked
func (s CardSnapshot) Event() (CardEvent, bool) {
	col, ok := ParseColumnLabel(s.ColumnLabel)
	if !ok || !ValidIssueKey(s.IssueKey) {
		return CardEvent{}, false
	}
	return CardEvent{IssueKey: s.IssueKey, Column: col, TestedMarker: s.TestedMarker}, true
}

// NotificationID returns the deterministic notification identifier for a
// phase of one issue, e.g. "complete-PROJ-12"
func NotificationID(phase Phase, issueKey string) string {
	return fmt.Sprintf("%s-%s", phase, issueKey)
}

// IssueKeyFromNotificationID extracts the issue key suffix of a notification id
func IssueKeyFromNotificationID(id string) (string, bool) {
	m := notificationSuffix.FindStringSubmatch(id)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// BrowseURL returns the canonical issue page on the given Jira domain
func BrowseURL(domain, issueKey string) string {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), "/")
	if domain == "" {
		return ""
	}
	if !strings.HasPrefix(domain, "http://") && !strings.HasPrefix(domain, "https://") {
		domain = "https://" + domain
	}
	return domain + "/browse/" + issueKey
}
