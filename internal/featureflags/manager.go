// Package featureflags evaluates runtime switches for sync behavior.
package featureflags

import (
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// RefetchOnDuplicate re-reads the authoritative row after a toggle hits a
// benign duplicate instead of trusting the optimistic state.
const RefetchOnDuplicate = "refetch_on_duplicate"

// Defaults holds the value of every known flag when FEATURE_FLAGS is silent.
var Defaults = map[string]bool{
	RefetchOnDuplicate: true,
}

type mode int

const (
	modeOff mode = iota
	modeOn
	modeRollout
)

// rule is one parsed FEATURE_FLAGS entry.
type rule struct {
	raw  string
	mode mode
	pct  int
}

func parseRule(v string) (rule, bool) {
	switch v {
	case "on", "true", "1":
		return rule{raw: v, mode: modeOn}, true
	case "off", "false", "0":
		return rule{raw: v, mode: modeOff}, true
	}
	n, found := strings.CutSuffix(v, "%")
	if !found {
		return rule{}, false
	}
	pct, err := strconv.Atoi(n)
	if err != nil {
		return rule{}, false
	}
	return rule{raw: v, mode: modeRollout, pct: min(max(pct, 0), 100)}, true
}

func (r rule) eval(name, userID string) bool {
	switch r.mode {
	case modeOn:
		return true
	case modeRollout:
		if r.pct >= 100 {
			return true
		}
		return userID != "" && r.pct > 0 && bucket(name, userID) < r.pct
	}
	return false
}

// Manager evaluates flags from a list such as
// "refetch_on_duplicate=on,live_threads=25%". Malformed entries are skipped.
type Manager struct {
	rules map[string]rule
}

func NewManager(raw string) *Manager {
	m := &Manager{rules: make(map[string]rule)}
	for _, entry := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		k, v = normalize(k), normalize(v)
		if k == "" {
			continue
		}
		if r, ok := parseRule(v); ok {
			m.rules[k] = r
		}
	}
	return m
}

// Enabled evaluates name for userID, falling back to Defaults.
func (m *Manager) Enabled(name, userID string) bool {
	return m.EnabledOr(name, userID, Defaults[normalize(name)])
}

// EnabledOr is Enabled with an explicit fallback for unconfigured flags.
// Percentage rollouts bucket users deterministically and exclude anonymous
// callers.
func (m *Manager) EnabledOr(name, userID string, fallback bool) bool {
	if m == nil {
		return fallback
	}
	r, ok := m.rules[normalize(name)]
	if !ok {
		return fallback
	}
	return r.eval(normalize(name), userID)
}

// Raw returns the configured value of every parsed flag.
func (m *Manager) Raw() map[string]string {
	out := make(map[string]string)
	if m == nil {
		return out
	}
	for k, r := range m.rules {
		out[k] = r.raw
	}
	return out
}

// Names lists configured and known flags in order.
func (m *Manager) Names() []string {
	seen := make(map[string]struct{}, len(Defaults))
	for k := range Defaults {
		seen[k] = struct{}{}
	}
	if m != nil {
		for k := range m.rules {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot evaluates every configured or known flag for userID.
func (m *Manager) Snapshot(userID string) map[string]bool {
	names := m.Names()
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name, userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name + ":" + userID))
	return int(h.Sum32() % 100)
}
