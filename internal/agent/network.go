package agent

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	pfAnchor    = "com.moonstone"
	pfRulesPath = "/etc/pf.anchors/com.moonstone"
	pfConfPath  = "/etc/pf.conf"

	// resolveInterval is how often resolved IPs go stale and domains
	// are looked up again.
	resolveInterval = 5 * time.Minute
)

// alwaysAllowCIDRs pass in allowlist mode regardless of the domain
// list: GitHub's published ranges, Apple's 17/8, and the Akamai CDN
// ranges Apple services ride on.
var alwaysAllowCIDRs = []string{
	"140.82.112.0/20",
	"185.199.108.0/22",
	"192.30.252.0/22",
	"17.0.0.0/8",
	"23.0.0.0/8",
	"104.64.0.0/10",
}

// distractionCIDRs block in blocklist mode regardless of the domain
// list: Twitter/X, TikTok, Meta, Reddit.
var distractionCIDRs = []string{
	"104.244.42.0/24",
	"104.244.43.0/24",
	"142.250.0.0/16",
	"157.240.0.0/16",
	"31.13.24.0/21",
	"31.13.64.0/18",
	"151.101.0.0/16",
}

// NetworkBlocker reconciles a WebsitePolicy into a pf anchor. Applying
// the same policy twice is a no-op; resolved IPs are refreshed every
// resolveInterval.
type NetworkBlocker struct {
	logger *logrus.Entry

	active       bool
	appliedRules string
	lastPolicy   *WebsitePolicy
	lastResolved time.Time

	lookupIP   func(domain string) []string
	writeFile  func(path string, data []byte) error
	removeFile func(path string) error
	pfctl      func(args ...string) error
}

// NewNetworkBlocker builds a reconciler with the real pfctl bindings.
func NewNetworkBlocker(logger *logrus.Entry) *NetworkBlocker {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &NetworkBlocker{
		logger:   logger,
		lookupIP: resolveDomain,
		writeFile: func(path string, data []byte) error {
			return os.WriteFile(path, data, 0o644)
		},
		removeFile: os.Remove,
		pfctl: func(args ...string) error {
			out, err := exec.Command("pfctl", args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("pfctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
			}
			return nil
		},
	}
}

func resolveDomain(domain string) []string {
	addrs, err := net.LookupIP(domain)
	if err != nil {
		return nil
	}
	ips := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		ips = append(ips, addr.String())
	}
	return ips
}

// resolveAll looks up every domain, skipping failures with a log line.
// The result is sorted so rule generation is deterministic.
func (b *NetworkBlocker) resolveAll(domains []string) []string {
	set := make(map[string]bool)
	for _, domain := range domains {
		ips := b.lookupIP(domain)
		if len(ips) == 0 {
			b.logger.WithField("domain", domain).Warn("dns resolution failed, skipping")
			continue
		}
		for _, ip := range ips {
			set[ip] = true
		}
	}
	ips := make([]string, 0, len(set))
	for ip := range set {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}

// GenerateRules renders the pf rule set for a policy and its resolved
// IPs.
func GenerateRules(policy WebsitePolicy, resolvedIPs []string) string {
	var sb strings.Builder
	sb.WriteString("# moonstone blocking rules - do not edit\n")
	sb.WriteString("# allow loopback\n")
	sb.WriteString("pass out quick on lo0 all\n")
	sb.WriteString("# allow DNS\n")
	sb.WriteString("pass out quick proto { tcp, udp } to any port 53\n")
	sb.WriteString("# allow DHCP\n")
	sb.WriteString("pass out quick proto udp to any port { 67, 68 }\n")

	if policy.Mode == ModeBlocklist {
		sb.WriteString("# block known distraction ranges\n")
		for _, cidr := range distractionCIDRs {
			fmt.Fprintf(&sb, "block drop out quick proto { tcp, udp } to %s\n", cidr)
		}
		for _, ip := range resolvedIPs {
			fmt.Fprintf(&sb, "block drop out quick proto { tcp, udp } to %s\n", ip)
		}
		sb.WriteString("# allow everything else\n")
		sb.WriteString("pass out quick all\n")
		return sb.String()
	}

	sb.WriteString("# always-allow ranges\n")
	for _, cidr := range alwaysAllowCIDRs {
		fmt.Fprintf(&sb, "pass out quick proto { tcp, udp } to %s\n", cidr)
	}
	if len(resolvedIPs) > 0 {
		fmt.Fprintf(&sb, "# allowed domains\npass out quick proto { tcp, udp } to { %s }\n",
			strings.Join(resolvedIPs, ", "))
	}
	sb.WriteString("# block everything else\n")
	sb.WriteString("block drop out quick proto { tcp, udp } all\n")
	return sb.String()
}

// Apply reconciles the anchor with the policy. An unchanged policy is
// a no-op until the resolve interval elapses, at which point domains
// are looked up again; an unchanged rule set is never rewritten.
func (b *NetworkBlocker) Apply(policy WebsitePolicy) error {
	if b.active && b.lastPolicy != nil && policyEqual(*b.lastPolicy, policy) &&
		time.Since(b.lastResolved) < resolveInterval {
		return nil
	}

	ips := b.resolveAll(policy.Domains)
	rules := GenerateRules(policy, ips)
	if b.active && rules == b.appliedRules {
		b.lastPolicy = &policy
		b.lastResolved = time.Now()
		return nil
	}

	if err := b.writeFile(pfRulesPath, []byte(rules)); err != nil {
		return fmt.Errorf("writing pf rules: %w", err)
	}
	if err := b.pfctl("-a", pfAnchor, "-f", pfRulesPath); err != nil {
		return err
	}
	// Enable pf if not already on; fails harmlessly when enabled.
	if err := b.pfctl("-e"); err != nil {
		b.logger.WithError(err).Debug("pfctl -e")
	}

	b.active = true
	b.appliedRules = rules
	b.lastPolicy = &policy
	b.lastResolved = time.Now()
	b.logger.WithFields(logrus.Fields{
		"mode": policy.Mode,
		"ips":  len(ips),
	}).Info("network rules applied")
	return nil
}

func policyEqual(a, b WebsitePolicy) bool {
	if a.Mode != b.Mode || len(a.Domains) != len(b.Domains) {
		return false
	}
	for i := range a.Domains {
		if a.Domains[i] != b.Domains[i] {
			return false
		}
	}
	return true
}

// Disable flushes the anchor and removes the rules file. Safe to call
// when nothing is active.
func (b *NetworkBlocker) Disable() error {
	if !b.active {
		return nil
	}
	if err := b.pfctl("-a", pfAnchor, "-F", "all"); err != nil {
		b.logger.WithError(err).Warn("flushing pf anchor")
	}
	if err := b.removeFile(pfRulesPath); err != nil && !os.IsNotExist(err) {
		b.logger.WithError(err).Warn("removing pf rules file")
	}
	b.active = false
	b.appliedRules = ""
	b.lastPolicy = nil
	b.logger.Info("network rules cleared")
	return nil
}

// FlushStale unconditionally flushes the anchor and removes the rules
// file, ignoring the in-memory state. Called at daemon startup: a
// previous run may have died with rules still loaded, which Disable's
// active check would never clear.
func (b *NetworkBlocker) FlushStale() {
	if err := b.pfctl("-a", pfAnchor, "-F", "all"); err != nil {
		b.logger.WithError(err).Debug("flushing pf anchor at startup")
	}
	if err := b.removeFile(pfRulesPath); err != nil && !os.IsNotExist(err) {
		b.logger.WithError(err).Debug("removing stale pf rules file")
	}
	b.active = false
	b.appliedRules = ""
	b.lastPolicy = nil
}

// Active reports whether the anchor currently holds rules.
func (b *NetworkBlocker) Active() bool {
	return b.active
}

// SetupAnchor registers the moonstone anchor in pf.conf if missing and
// reloads pf. Requires root.
func SetupAnchor(logger *logrus.Entry) error {
	conf, err := os.ReadFile(pfConfPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading pf.conf: %w", err)
	}
	if strings.Contains(string(conf), pfAnchor) {
		return nil
	}

	appended := fmt.Sprintf("%s\n# moonstone network blocking\nanchor \"%s\"\nload anchor \"%s\" from \"%s\"\n",
		string(conf), pfAnchor, pfAnchor, pfRulesPath)
	if err := os.WriteFile(pfConfPath, []byte(appended), 0o644); err != nil {
		return fmt.Errorf("writing pf.conf: %w", err)
	}
	if out, err := exec.Command("pfctl", "-f", pfConfPath).CombinedOutput(); err != nil {
		logger.WithError(err).WithField("output", strings.TrimSpace(string(out))).Warn("reloading pf.conf")
	}
	logger.Info("moonstone anchor registered in pf.conf")
	return nil
}
