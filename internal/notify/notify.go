package notify

import (
	"errors"
	"fmt"
)

// NotificationType sets urgency, icon and color across sinks
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

func (t NotificationType) String() string {
	switch t {
	case NotifySuccess:
		return "success"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "error"
	default:
		return "info"
	}
}

// Notification is one user-visible message about a dispatch phase
type Notification struct {
	ID       string // "<phase>-<issueKey>", stable across resends
	Title    string
	Message  string
	Type     NotificationType
	IssueKey string
	URL      string // issue page; empty when no Jira domain is configured
	Icon     string // empty picks one from Type
}

// Notifier delivers notifications to one sink
type Notifier interface {
	Send(n Notification) error
}

// Clearer is implemented by sinks that can withdraw a notification they
// showed earlier
type Clearer interface {
	Clear(id string) error
}

// MultiNotifier fans a notification out to every sink. A failing sink does
// not stop delivery to the others.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Send(n Notification) error {
	var errs []error
	for _, sink := range m.notifiers {
		if err := sink.Send(n); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", sink, err))
		}
	}
	return errors.Join(errs...)
}

// Clear withdraws id from the sinks that support it
func (m *MultiNotifier) Clear(id string) error {
	var errs []error
	for _, sink := range m.notifiers {
		c, ok := sink.(Clearer)
		if !ok {
			continue
		}
		if err := c.Clear(id); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", sink, err))
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier discards everything
type NoopNotifier struct{}

func (NoopNotifier) Send(Notification) error { return nil }
