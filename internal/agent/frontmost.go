package agent

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// AppInfo identifies a running application.
type AppInfo struct {
	PID      int
	BundleID string
	Name     string
}

const frontmostScript = `
tell application "System Events"
	set frontApp to first application process whose frontmost is true
	set appName to name of frontApp
	set appPID to unix id of frontApp
	set bundleID to bundle identifier of frontApp
	return appPID & "||" & bundleID & "||" & appName
end tell
`

// FrontmostApp returns the currently focused application, asked via
// System Events. Requires accessibility permission.
func FrontmostApp() (*AppInfo, error) {
	out, err := exec.Command("osascript", "-e", frontmostScript).Output()
	if err != nil {
		return nil, fmt.Errorf("querying frontmost app: %w", err)
	}
	parts := strings.Split(strings.TrimSpace(string(out)), "||")
	if len(parts) < 3 {
		return nil, fmt.Errorf("unexpected osascript output %q", strings.TrimSpace(string(out)))
	}
	pid, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("parsing frontmost pid: %w", err)
	}
	return &AppInfo{PID: pid, BundleID: strings.TrimSpace(parts[1]), Name: strings.TrimSpace(parts[2])}, nil
}

// PIDsForBundle returns every PID of processes with the given bundle id.
func PIDsForBundle(bundleID string) []int {
	script := fmt.Sprintf(`
tell application "System Events"
	set pidList to {}
	repeat with proc in (every application process whose bundle identifier is "%s")
		set end of pidList to unix id of proc
	end repeat
	return pidList
end tell
`, bundleID)
	out, err := exec.Command("osascript", "-e", script).Output()
	if err != nil {
		return nil
	}
	var pids []int
	for _, field := range strings.Split(strings.TrimSpace(string(out)), ", ") {
		if pid, err := strconv.Atoi(strings.TrimSpace(field)); err == nil {
			pids = append(pids, pid)
		}
	}
	return pids
}

const runningAppsScript = `
tell application "System Events"
	set appList to {}
	repeat with proc in (every application process whose background only is false)
		set end of appList to (unix id of proc as string) & "||" & (bundle identifier of proc) & "||" & (name of proc)
	end repeat
	return appList
end tell
`

// RunningApps lists every foreground application process.
func RunningApps() []AppInfo {
	out, err := exec.Command("osascript", "-e", runningAppsScript).Output()
	if err != nil {
		return nil
	}
	var apps []AppInfo
	for _, entry := range strings.Split(strings.TrimSpace(string(out)), ", ") {
		parts := strings.Split(entry, "||")
		if len(parts) < 3 {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		apps = append(apps, AppInfo{PID: pid, BundleID: strings.TrimSpace(parts[1]), Name: strings.TrimSpace(parts[2])})
	}
	return apps
}

// HasAccessibilityPermission reports whether System Events queries are
// permitted for this process.
func HasAccessibilityPermission() bool {
	err := exec.Command("osascript", "-e",
		`tell application "System Events" to return name of first application process whose frontmost is true`).Run()
	return err == nil
}
