package login

import (
	"errors"
	"os/exec"
	"runtime"
	"strings"
)

// Browser opens a URL for the user
type Browser interface {
	Open(url string) error
}

// BrowserFunc adapts a function to Browser
type BrowserFunc func(url string) error

func (f BrowserFunc) Open(url string) error { return f(url) }

// SystemBrowser opens URLs with the platform's default handler
type SystemBrowser struct{}

func (SystemBrowser) Open(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return errors.New("empty url")
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	// reap the helper process; its exit status does not matter
	go func() { _ = cmd.Wait() }()
	return nil
}
