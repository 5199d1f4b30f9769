// Package banlist decides which source addresses the transport refuses
// to admit. Rules are single IP addresses or CIDR prefixes, loaded from
// a YAML file and swappable at runtime.
package banlist

import (
	"fmt"
	"net/netip"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// yamlBanFile is the top-level YAML structure for ban rule files.
type yamlBanFile struct {
	Banned []string `yaml:"banned"`
}

// List answers whether an address is banned against a reloadable rule
// set. All methods are safe for concurrent use.
type List struct {
	path string

	mu       sync.RWMutex
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

// Load reads ban rules from the given file path. An empty path yields
// an empty list that bans nothing.
//
// Postcondition: Returns a validated List or a non-nil error naming the
// first bad rule.
func Load(path string) (*List, error) {
	l := &List{
		path:  path,
		addrs: make(map[netip.Addr]struct{}),
	}
	if path == "" {
		return l, nil
	}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the rule file and atomically swaps the rule set.
// On error the previous rules stay in effect.
func (l *List) Reload() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("reading ban list %s: %w", l.path, err)
	}

	addrs, prefixes, err := parseRules(data)
	if err != nil {
		return fmt.Errorf("parsing ban list %s: %w", l.path, err)
	}

	l.mu.Lock()
	l.addrs = addrs
	l.prefixes = prefixes
	l.mu.Unlock()
	return nil
}

func parseRules(data []byte) (map[netip.Addr]struct{}, []netip.Prefix, error) {
	var file yamlBanFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, err
	}

	addrs := make(map[netip.Addr]struct{})
	var prefixes []netip.Prefix
	for _, rule := range file.Banned {
		if p, err := netip.ParsePrefix(rule); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(rule)
		if err != nil {
			return nil, nil, fmt.Errorf("rule %q is neither an IP address nor a CIDR prefix", rule)
		}
		addrs[a.Unmap()] = struct{}{}
	}
	return addrs, prefixes, nil
}

// IsBanned reports whether ip matches any loaded rule.
func (l *List) IsBanned(ip netip.Addr) bool {
	ip = ip.Unmap()

	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.addrs[ip]; ok {
		return true
	}
	for _, p := range l.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Len returns the number of loaded rules.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.addrs) + len(l.prefixes)
}

// Path returns the rule file path, or empty for an always-allow list.
func (l *List) Path() string {
	return l.path
}
