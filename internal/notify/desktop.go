package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// ActivateFunc is called with the notification id when the user clicks a
// desktop notification
type ActivateFunc func(id string)

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// DesktopNotifier sends desktop notifications. On Linux it waits for the
// default action in the background so clicks can be reported.
type DesktopNotifier struct {
	enabled  bool
	appName  string
	goos     string
	command  commandFunc
	activate ActivateFunc

	mu      sync.Mutex
	pending map[string]context.CancelFunc
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{
		enabled: enabled,
		appName: "boardwatch",
		goos:    runtime.GOOS,
		command: exec.CommandContext,
		pending: make(map[string]context.CancelFunc),
	}
}

// OnActivate registers the click handler. Must be called before Send.
func (d *DesktopNotifier) OnActivate(fn ActivateFunc) {
	d.activate = fn
}

// Send sends a desktop notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch d.goos {
	case "darwin":
		return d.sendMacOS(n)
	case "linux":
		return d.sendLinux(n)
	default:
		return nil // Unsupported
	}
}

// Clear closes a notification that is still waiting for a click
func (d *DesktopNotifier) Clear(id string) error {
	d.mu.Lock()
	cancel, ok := d.pending[id]
	delete(d.pending, id)
	d.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (d *DesktopNotifier) sendMacOS(n Notification) error {
	script := fmt.Sprintf(`display notification "%s" with title "%s"`,
		escapeAppleScript(n.Message), escapeAppleScript(n.Title))
	cmd := d.command(context.Background(), "osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (d *DesktopNotifier) sendLinux(n Notification) error {
	if d.activate == nil || n.ID == "" {
		cmd := d.command(context.Background(), "notify-send", d.linuxArgs(n, false)...)
		return cmd.Run()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := d.command(ctx, "notify-send", d.linuxArgs(n, true)...)
	var out strings.Builder
	cmd.Stdout = &out
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("notify-send: %w", err)
	}

	d.mu.Lock()
	if prev, ok := d.pending[n.ID]; ok {
		prev()
	}
	d.pending[n.ID] = cancel
	d.mu.Unlock()

	go func() {
		defer cancel()
		err := cmd.Wait()

		d.mu.Lock()
		// Only drop our own entry; a resend under the same id replaces it
		if ctx.Err() == nil {
			delete(d.pending, n.ID)
		}
		d.mu.Unlock()

		if err == nil && strings.TrimSpace(out.String()) == "default" {
			d.activate(n.ID)
		}
	}()
	return nil
}

func (d *DesktopNotifier) linuxArgs(n Notification, wait bool) []string {
	icon := n.Icon
	if icon == "" {
		icon = IconForType(n.Type)
	}
	args := []string{"--app-name=" + d.appName, "--icon=" + icon}
	if n.Type == NotifyError {
		args = append(args, "--urgency=critical")
	}
	if wait {
		args = append(args, "--action=default=Open", "--wait")
	}
	return append(args, n.Title, n.Message)
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// IconForType returns an icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
