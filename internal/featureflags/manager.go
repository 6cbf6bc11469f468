// Package featureflags evaluates kill switches and percentage rollouts for
// the checkout surfaces.
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Flag names checked by the API.
const (
	Claims    = "claims"
	Purchases = "purchases"
)

// Manager holds flags parsed from a list like "claims=on,purchases=25%".
// Its zero value and a nil Manager allow everything.
type Manager struct {
	flags map[string]string
}

// NewManager parses raw, skipping malformed entries.
func NewManager(raw string) *Manager {
	flags := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		name, value = normalize(name), normalize(value)
		if name != "" && value != "" {
			flags[name] = value
		}
	}
	return &Manager{flags: flags}
}

// Enabled reports whether name is on for userID. Unset flags are on, so a
// flag only needs configuring to switch a surface off or ramp it.
// Values are on/true/1, off/false/0 or N% keyed on the user id.
func (m *Manager) Enabled(name string, userID uint) bool {
	if m == nil {
		return true
	}
	value, ok := m.flags[normalize(name)]
	if !ok {
		return true
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pct, err := strconv.Atoi(strings.TrimSuffix(value, "%"))
	if err != nil || !strings.HasSuffix(value, "%") {
		// Unparseable values fail closed.
		return false
	}
	switch {
	case pct >= 100:
		return true
	case pct <= 0 || userID == 0:
		return false
	}
	return bucket(name, userID) < pct
}

// Snapshot evaluates every configured flag for one user.
func (m *Manager) Snapshot(userID uint) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, userID)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func bucket(name string, userID uint) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + strconv.FormatUint(uint64(userID), 10)))
	return int(h.Sum32() % 100)
}
