package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// tickInterval is how often the enforcement loop re-checks the
// frontmost application.
const tickInterval = 100 * time.Millisecond

// recentlyKilledMax bounds the log-suppression set; at the cap it is
// cleared wholesale.
const recentlyKilledMax = 10

// Enforcer is the app-kill loop. The OS-facing calls are injectable so
// the decision logic is testable off-device.
type Enforcer struct {
	policy  FocusPolicy
	network *NetworkBlocker
	logger  *logrus.Entry

	// Suspended pauses enforcement (emergency disable). Cleared when
	// the schedule transitions blocked -> unblocked.
	suspended atomic.Bool

	recentlyKilled map[string]bool
	wasActive      bool

	frontmost   func() (*AppInfo, error)
	pidsFor     func(bundleID string) []int
	runningApps func() []AppInfo
	kill        func(pid int) error
	now         func() time.Time
}

// NewEnforcer builds an enforcer with the real OS bindings.
func NewEnforcer(policy FocusPolicy, network *NetworkBlocker, logger *logrus.Entry) *Enforcer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Enforcer{
		policy:         policy,
		network:        network,
		logger:         logger,
		recentlyKilled: make(map[string]bool),
		frontmost:      FrontmostApp,
		pidsFor:        PIDsForBundle,
		runningApps:    RunningApps,
		kill:           func(pid int) error { return unix.Kill(pid, unix.SIGKILL) },
		now:            time.Now,
	}
}

// SetPolicy swaps the active policy. The pf anchor is reconciled on the
// next tick.
func (e *Enforcer) SetPolicy(policy FocusPolicy) {
	e.policy = policy
	e.logger.Info("policy updated")
}

// Suspend pauses enforcement until the current block period ends and
// clears the packet-filter rules.
func (e *Enforcer) Suspend() {
	e.suspended.Store(true)
	if e.network != nil {
		if err := e.network.Disable(); err != nil {
			e.logger.WithError(err).Warn("clearing network rules on suspend")
		}
	}
	e.logger.Warn("enforcement suspended until next unblock")
}

// Suspended reports whether enforcement is currently paused.
func (e *Enforcer) Suspended() bool {
	return e.suspended.Load()
}

// Blocked reports whether the schedule is active and enforcement is
// not suspended.
func (e *Enforcer) Blocked() bool {
	return e.policy.Schedule.ActiveAt(e.now()) && !e.suspended.Load()
}

// SecondsUntilUnblock returns the remaining block time, or false when
// not blocked.
func (e *Enforcer) SecondsUntilUnblock() (int, bool) {
	return e.policy.Schedule.SecondsUntilUnblock(e.now())
}

// Run drives the enforcement loop until ctx is cancelled.
func (e *Enforcer) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if e.network != nil {
				if err := e.network.Disable(); err != nil {
					e.logger.WithError(err).Warn("clearing network rules on shutdown")
				}
			}
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick performs one enforcement pass.
func (e *Enforcer) Tick() {
	active := e.policy.Schedule.ActiveAt(e.now())

	// The suspend flag grants one session of relief; the blocked ->
	// unblocked transition re-arms it.
	if !active && e.wasActive {
		e.suspended.Store(false)
	}
	e.wasActive = active

	if !active || e.suspended.Load() {
		if len(e.recentlyKilled) > 0 {
			e.recentlyKilled = make(map[string]bool)
		}
		if e.network != nil {
			if err := e.network.Disable(); err != nil {
				e.logger.WithError(err).Warn("clearing network rules")
			}
		}
		return
	}

	if e.network != nil {
		if err := e.network.Apply(e.policy.Websites); err != nil {
			e.logger.WithError(err).Warn("applying network rules")
		}
	}

	app, err := e.frontmost()
	if err != nil {
		e.logger.WithError(err).Debug("frontmost app unavailable")
		return
	}
	if app.BundleID == "" || e.policy.Apps.Permits(app.BundleID) {
		return
	}

	e.killApp(app)
}

func (e *Enforcer) killApp(app *AppInfo) {
	if !e.recentlyKilled[app.BundleID] {
		e.logger.WithFields(logrus.Fields{
			"bundle_id": app.BundleID,
			"name":      app.Name,
		}).Info("killing blocked app")
	}

	pids := e.pidsFor(app.BundleID)
	seen := false
	for _, pid := range pids {
		if pid == app.PID {
			seen = true
		}
		e.killPID(pid)
	}
	if !seen {
		e.killPID(app.PID)
	}

	if len(e.recentlyKilled) >= recentlyKilledMax {
		e.recentlyKilled = make(map[string]bool)
	}
	e.recentlyKilled[app.BundleID] = true
}

func (e *Enforcer) killPID(pid int) {
	if err := e.kill(pid); err != nil {
		e.logger.WithError(err).WithField("pid", pid).Warn("kill failed")
	}
}

// SweepRunning kills every running blocked app. Called at startup so a
// restart cannot be used to sneak a blocked app past the frontmost
// check.
func (e *Enforcer) SweepRunning() {
	if !e.Blocked() {
		return
	}
	for _, app := range e.runningApps() {
		if app.BundleID == "" || e.policy.Apps.Permits(app.BundleID) {
			continue
		}
		e.logger.WithFields(logrus.Fields{
			"bundle_id": app.BundleID,
			"name":      app.Name,
		}).Info("killing blocked app at startup")
		e.killPID(app.PID)
	}
}
