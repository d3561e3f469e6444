package main

import (
	"os/exec"
	"runtime"
)

// openBrowser opens target in the user's default browser without waiting
// for it to exit.
func openBrowser(target string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32.exe", "url.dll,FileProtocolHandler", target)
	case "darwin":
		cmd = exec.Command("open", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}

	_, err := startDetached(cmd)

	return err
}

// startDetached starts cmd and reaps it in the background. The returned
// channel receives the exit result once the process is gone.
func startDetached(cmd *exec.Cmd) (<-chan error, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)

	go func() {
		done <- cmd.Wait()
	}()

	return done, nil
}
