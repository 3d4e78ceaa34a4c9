// CLAUDE:SUMMARY Starts and stops an Xvfb virtual display for headful recording on display-less hosts.
package browser

import (
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// startXvfb launches an Xvfb display sized to the configured window.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}

	screen := strconv.Itoa(m.cfg.Width) + "x" + strconv.Itoa(m.cfg.Height) + "x24"
	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", screen, "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	m.xvfb = cmd

	// Xvfb accepts connections shortly after exec.
	time.Sleep(500 * time.Millisecond)

	m.cfg.Logger.Info("browser: xvfb started", "display", m.cfg.XvfbDisplay, "screen", screen, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if m.xvfb.Process != nil {
		m.xvfb.Process.Kill()
		m.xvfb.Wait()
	}
	m.cfg.Logger.Info("browser: xvfb stopped")
	m.xvfb = nil
}
