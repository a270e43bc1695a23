package agent

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type fakeOS struct {
	frontmost *AppInfo
	pids      map[string][]int
	running   []AppInfo
	killed    []int
}

func testEnforcer(t *testing.T, policy FocusPolicy, os *fakeOS, now time.Time) *Enforcer {
	t.Helper()
	e := NewEnforcer(policy, nil, logrus.NewEntry(logrus.New()))
	e.frontmost = func() (*AppInfo, error) {
		if os.frontmost == nil {
			return nil, fmt.Errorf("no frontmost app")
		}
		return os.frontmost, nil
	}
	e.pidsFor = func(bundleID string) []int { return os.pids[bundleID] }
	e.runningApps = func() []AppInfo { return os.running }
	e.kill = func(pid int) error {
		os.killed = append(os.killed, pid)
		return nil
	}
	e.now = func() time.Time { return now }
	return e
}

func activeSchedule() Schedule {
	return Schedule{Periods: []TimePeriod{{Start: "00:00", End: "23:59"}}}
}

func TestEnforcerKillsBlockedFrontmost(t *testing.T) {
	os := &fakeOS{
		frontmost: &AppInfo{PID: 101, BundleID: "com.twitter.twitter", Name: "Twitter"},
		pids:      map[string][]int{"com.twitter.twitter": {101, 102}},
	}
	policy := FocusPolicy{
		Schedule: activeSchedule(),
		Apps:     AppPolicy{Mode: ModeAllowlist, Apps: []string{"com.apple.Terminal"}},
	}
	e := testEnforcer(t, policy, os, time.Date(2024, 1, 8, 12, 0, 0, 0, time.Local))

	e.Tick()

	if len(os.killed) != 2 {
		t.Fatalf("killed = %v, want both PIDs", os.killed)
	}
	got := map[int]bool{os.killed[0]: true, os.killed[1]: true}
	if !got[101] || !got[102] {
		t.Errorf("killed = %v, want 101 and 102", os.killed)
	}
}

func TestEnforcerSparesPermittedAndEssential(t *testing.T) {
	policy := FocusPolicy{
		Schedule: activeSchedule(),
		Apps:     AppPolicy{Mode: ModeAllowlist, Apps: []string{"com.apple.Terminal"}},
	}

	for _, bundleID := range []string{"com.apple.Terminal", "com.apple.finder"} {
		os := &fakeOS{frontmost: &AppInfo{PID: 200, BundleID: bundleID}}
		e := testEnforcer(t, policy, os, time.Date(2024, 1, 8, 12, 0, 0, 0, time.Local))
		e.Tick()
		if len(os.killed) != 0 {
			t.Errorf("%s: killed = %v, want none", bundleID, os.killed)
		}
	}
}

func TestEnforcerInactiveOutsideSchedule(t *testing.T) {
	os := &fakeOS{frontmost: &AppInfo{PID: 101, BundleID: "com.twitter.twitter"}}
	policy := FocusPolicy{
		Schedule: Schedule{Periods: []TimePeriod{{Start: "09:00", End: "10:00"}}},
		Apps:     AppPolicy{Mode: ModeAllowlist, Apps: nil},
	}
	e := testEnforcer(t, policy, os, time.Date(2024, 1, 8, 12, 0, 0, 0, time.Local))

	e.Tick()

	if len(os.killed) != 0 {
		t.Errorf("killed = %v outside schedule, want none", os.killed)
	}
}

func TestEnforcerRecentlyKilledBounded(t *testing.T) {
	os := &fakeOS{}
	policy := FocusPolicy{
		Schedule: activeSchedule(),
		Apps:     AppPolicy{Mode: ModeAllowlist, Apps: nil},
	}
	e := testEnforcer(t, policy, os, time.Date(2024, 1, 8, 12, 0, 0, 0, time.Local))

	for i := 0; i < recentlyKilledMax+3; i++ {
		os.frontmost = &AppInfo{PID: 300 + i, BundleID: fmt.Sprintf("com.example.app%d", i)}
		e.Tick()
	}

	if len(e.recentlyKilled) > recentlyKilledMax {
		t.Errorf("recentlyKilled grew to %d, cap is %d", len(e.recentlyKilled), recentlyKilledMax)
	}
}

func TestEnforcerSuspendResetOnUnblock(t *testing.T) {
	os := &fakeOS{frontmost: &AppInfo{PID: 101, BundleID: "com.twitter.twitter"}}
	policy := FocusPolicy{
		Schedule: Schedule{Periods: []TimePeriod{{Start: "09:00", End: "17:00"}}},
		Apps:     AppPolicy{Mode: ModeAllowlist, Apps: nil},
	}
	now := time.Date(2024, 1, 8, 12, 0, 0, 0, time.Local)
	e := testEnforcer(t, policy, os, now)
	e.now = func() time.Time { return now }

	// Suspended: nothing dies inside the window.
	e.Suspend()
	e.Tick()
	if len(os.killed) != 0 {
		t.Fatalf("killed = %v while suspended", os.killed)
	}
	if e.Blocked() {
		t.Error("Blocked() should be false while suspended")
	}

	// The window ends; the suspend flag re-arms.
	now = time.Date(2024, 1, 8, 18, 0, 0, 0, time.Local)
	e.Tick()
	if e.Suspended() {
		t.Error("suspend flag should reset when leaving the block window")
	}

	// Next window: enforcement is live again.
	now = time.Date(2024, 1, 9, 12, 0, 0, 0, time.Local)
	e.Tick()
	if len(os.killed) == 0 {
		t.Error("expected kills after suspend reset")
	}
}

func TestEnforcerStartupSweep(t *testing.T) {
	os := &fakeOS{
		running: []AppInfo{
			{PID: 400, BundleID: "com.twitter.twitter"},
			{PID: 401, BundleID: "com.apple.Terminal"},
			{PID: 402, BundleID: "com.apple.finder"},
			{PID: 403, BundleID: "com.reddit.Reddit"},
		},
	}
	policy := FocusPolicy{
		Schedule: activeSchedule(),
		Apps:     AppPolicy{Mode: ModeAllowlist, Apps: []string{"com.apple.Terminal"}},
	}
	e := testEnforcer(t, policy, os, time.Date(2024, 1, 8, 12, 0, 0, 0, time.Local))

	e.SweepRunning()

	if len(os.killed) != 2 {
		t.Fatalf("killed = %v, want exactly the two blocked apps", os.killed)
	}
	got := map[int]bool{os.killed[0]: true, os.killed[1]: true}
	if !got[400] || !got[403] {
		t.Errorf("killed = %v, want 400 and 403", os.killed)
	}
}
