package notify

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/boardwatch/internal/domain"
)

// ErrUnknownNotification is returned by Activate for ids that do not carry an
// issue key
var ErrUnknownNotification = errors.New("notification id has no issue key")

// DomainSource supplies the Jira host used for issue links
type DomainSource interface {
	JiraDomain() string
}

// Presenter turns dispatch phases into notifications. Each phase gets its own
// id, "<phase>-<issueKey>", so start, complete and error show up as separate
// notifications in sequence. The latest one becomes the issue's active record;
// earlier ones stay visible until the user dismisses or clicks them.
type Presenter struct {
	notifier Notifier
	domain   DomainSource
	opener   Opener
	icon     string
	log      zerolog.Logger

	mu     sync.Mutex
	active map[string]string // issue key -> notification id
}

// NewPresenter creates a presenter. icon overrides the per-type default when
// non-empty.
func NewPresenter(notifier Notifier, domain DomainSource, opener Opener, icon string, log zerolog.Logger) *Presenter {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Presenter{
		notifier: notifier,
		domain:   domain,
		opener:   opener,
		icon:     icon,
		log:      log.With().Str("component", "notify").Logger(),
		active:   make(map[string]string),
	}
}

// Present shows the notification for phase. Sink failures are logged and
// never returned.
func (p *Presenter) Present(phase domain.Phase, issueKey string) {
	n := p.build(phase, issueKey)

	p.mu.Lock()
	p.active[issueKey] = n.ID
	p.mu.Unlock()

	if err := p.notifier.Send(n); err != nil {
		p.log.Warn().Err(err).Str("id", n.ID).Msg("notification not shown")
	}
}

// Activate handles a click on notification id: it opens the issue page and
// clears the notification.
func (p *Presenter) Activate(id string) error {
	key, ok := domain.IssueKeyFromNotificationID(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNotification, id)
	}
	defer p.forget(key, id)

	url := domain.BrowseURL(p.jiraDomain(), key)
	if url == "" {
		return errors.New("jira domain not configured")
	}
	if p.opener == nil {
		return errors.New("no opener configured")
	}
	if err := p.opener.Open(url); err != nil {
		return fmt.Errorf("opening %s: %w", url, err)
	}
	p.log.Debug().Str("issue", key).Str("url", url).Msg("opened issue")
	return nil
}

// Active returns the id of the latest notification shown for issueKey
func (p *Presenter) Active(issueKey string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.active[issueKey]
	return id, ok
}

func (p *Presenter) forget(key, id string) {
	p.mu.Lock()
	if p.active[key] == id {
		delete(p.active, key)
	}
	p.mu.Unlock()
	p.clear(id)
}

func (p *Presenter) clear(id string) {
	c, ok := p.notifier.(Clearer)
	if !ok {
		return
	}
	if err := c.Clear(id); err != nil {
		p.log.Debug().Err(err).Str("id", id).Msg("clear failed")
	}
}

func (p *Presenter) jiraDomain() string {
	if p.domain == nil {
		return ""
	}
	return p.domain.JiraDomain()
}

func (p *Presenter) build(phase domain.Phase, issueKey string) Notification {
	n := Notification{
		ID:       domain.NotificationID(phase, issueKey),
		IssueKey: issueKey,
		URL:      domain.BrowseURL(p.jiraDomain(), issueKey),
		Icon:     p.icon,
	}
	switch phase {
	case domain.PhaseStart:
		n.Title = "Agent triggered"
		n.Message = fmt.Sprintf("Sending %s to the automation backend", issueKey)
		n.Type = NotifyInfo
	case domain.PhaseComplete:
		n.Title = "Agent finished"
		n.Message = fmt.Sprintf("Backend accepted %s", issueKey)
		n.Type = NotifySuccess
	default:
		n.Title = "Agent failed"
		n.Message = fmt.Sprintf("Could not dispatch %s, it will be retried on the next scan", issueKey)
		n.Type = NotifyError
	}
	return n
}
