package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Opener opens a url for the user
type Opener interface {
	Open(url string) error
}

// SystemOpener opens urls with the platform's default handler
type SystemOpener struct{}

// Open starts the handler and does not wait for it
func (SystemOpener) Open(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", cmd.Path, err)
	}
	go cmd.Wait()
	return nil
}
