package agent

import (
	"fmt"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// Tamper responses the watchdog can take when the agent dies.
const (
	TamperSleep    = "sleep"
	TamperShutdown = "shutdown"
	TamperLock     = "lock"
)

var tamperCommands = map[string][]string{
	TamperSleep:    {"pmset", "sleepnow"},
	TamperShutdown: {"shutdown", "-h", "now"},
	TamperLock:     {"pmset", "displaysleepnow"},
}

// RespondToTamper executes the configured tamper action. A failing
// primary action falls back to locking the screen.
func RespondToTamper(action string, logger *logrus.Entry) error {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	cmd, ok := tamperCommands[action]
	if !ok {
		logger.WithField("action", action).Warn("unknown tamper action, locking")
		cmd = tamperCommands[TamperLock]
		action = TamperLock
	}

	logger.WithField("action", action).Error("tamper detected")
	if err := exec.Command(cmd[0], cmd[1:]...).Run(); err != nil {
		if action == TamperLock {
			return fmt.Errorf("tamper lock failed: %w", err)
		}
		logger.WithError(err).WithField("action", action).Warn("tamper action failed, falling back to lock")
		lock := tamperCommands[TamperLock]
		if err := exec.Command(lock[0], lock[1:]...).Run(); err != nil {
			return fmt.Errorf("tamper lock fallback failed: %w", err)
		}
	}
	return nil
}
