// Package agent implements the on-device focus enforcement: policy
// evaluation, the app-kill loop, the packet-filter reconciler, and the
// watchdog IPC protocol.
package agent

import (
	"fmt"
	"time"
)

// Policy modes for app and website blocking.
const (
	ModeAllowlist = "allowlist"
	ModeBlocklist = "blocklist"
)

// systemEssentials are platform bundle ids that are never killed, no
// matter what the policy says. Killing these would take down the login
// session itself.
var systemEssentials = map[string]bool{
	"com.apple.dock":                 true,
	"com.apple.finder":               true,
	"com.apple.loginwindow":          true,
	"com.apple.SecurityAgent":        true,
	"com.apple.WindowManager":        true,
	"com.apple.systemuiserver":       true,
	"com.apple.controlcenter":        true,
	"com.apple.notificationcenterui": true,
}

// IsSystemEssential reports whether a bundle id is always permitted.
func IsSystemEssential(bundleID string) bool {
	return systemEssentials[bundleID]
}

// FocusPolicy is the policy the MDM server distributes to agents as a
// command payload.
type FocusPolicy struct {
	Schedule Schedule      `json:"schedule"`
	Apps     AppPolicy     `json:"apps"`
	Websites WebsitePolicy `json:"websites"`
}

// Schedule holds the time periods during which blocking is active.
type Schedule struct {
	Periods []TimePeriod `json:"periods"`
}

// TimePeriod is one schedule window. Days uses Sunday=0..Saturday=6;
// empty means every day. End < Start means the period crosses
// midnight.
type TimePeriod struct {
	Start string `json:"start"` // "HH:MM"
	End   string `json:"end"`   // "HH:MM"
	Days  []int  `json:"days,omitempty"`
}

// AppPolicy decides which bundle ids may run while blocking is active.
type AppPolicy struct {
	Mode string   `json:"mode"`
	Apps []string `json:"apps"`
}

// WebsitePolicy decides which domains are reachable while blocking is
// active.
type WebsitePolicy struct {
	Mode    string   `json:"mode"`
	Domains []string `json:"domains"`
}

// Permits reports whether the policy lets a bundle id run. System
// essentials are always permitted.
func (p AppPolicy) Permits(bundleID string) bool {
	if IsSystemEssential(bundleID) {
		return true
	}
	listed := false
	for _, app := range p.Apps {
		if app == bundleID {
			listed = true
			break
		}
	}
	if p.Mode == ModeBlocklist {
		return !listed
	}
	return listed
}

func parseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parsing time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*60 + m, nil
}

// activeAt reports whether the period covers local time t. Malformed
// start/end times deactivate the period.
func (p TimePeriod) activeAt(t time.Time) bool {
	if len(p.Days) > 0 {
		day := int(t.Weekday())
		found := false
		for _, d := range p.Days {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	start, err := parseClock(p.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(p.End)
	if err != nil {
		return false
	}
	now := t.Hour()*60 + t.Minute()

	if start <= end {
		return now >= start && now <= end
	}
	// Midnight crossing, e.g. 22:00 to 06:00.
	return now >= start || now <= end
}

// ActiveAt reports whether any period covers local time t.
func (s Schedule) ActiveAt(t time.Time) bool {
	for _, p := range s.Periods {
		if p.activeAt(t) {
			return true
		}
	}
	return false
}

// Active reports whether blocking is active right now.
func (s Schedule) Active() bool {
	return s.ActiveAt(time.Now())
}

// SecondsUntilUnblock returns how long the current block lasts, or
// false when no period is active at t. Overlapping periods yield the
// soonest end.
func (s Schedule) SecondsUntilUnblock(t time.Time) (int, bool) {
	now := t.Hour()*3600 + t.Minute()*60 + t.Second()
	const day = 24 * 3600

	min := -1
	for _, p := range s.Periods {
		if !p.activeAt(t) {
			continue
		}
		start, err := parseClock(p.Start)
		if err != nil {
			continue
		}
		end, err := parseClock(p.End)
		if err != nil {
			continue
		}
		endSec := end * 60
		startSec := start * 60

		var remaining int
		switch {
		case start <= end:
			remaining = endSec - now
		case now >= startSec:
			// First half of a midnight-crossing period; the end is
			// tomorrow.
			remaining = (day - now) + endSec
		default:
			remaining = endSec - now
		}
		if remaining < 0 {
			remaining = 0
		}
		if min < 0 || remaining < min {
			min = remaining
		}
	}
	if min < 0 {
		return 0, false
	}
	return min, true
}
