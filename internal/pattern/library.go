package pattern

import (
	"fmt"
	"sort"
	"strings"
)

// Library is an immutable set of validated patterns. Lookups accept either a
// bare id (highest version wins) or the canonical id@version form.
type Library struct {
	byKey map[string]*Pattern
	byID  map[string][]*Pattern
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{
		byKey: make(map[string]*Pattern),
		byID:  make(map[string][]*Pattern),
	}
}

// Add inserts a validated pattern. Duplicate id@version is a defect.
func (l *Library) Add(p *Pattern) error {
	key := p.Key()
	if _, exists := l.byKey[key]; exists {
		return fmt.Errorf("duplicate pattern %s", key)
	}
	l.byKey[key] = p
	versions := append(l.byID[p.ID], p)
	sort.Slice(versions, func(i, j int) bool {
		return compareVersions(versions[i].Version, versions[j].Version) > 0
	})
	l.byID[p.ID] = versions
	return nil
}

// Get resolves an id or id@version to a pattern. A bare id returns the
// highest version.
func (l *Library) Get(id string) (*Pattern, bool) {
	if strings.Contains(id, "@") {
		p, ok := l.byKey[id]
		return p, ok
	}
	versions, ok := l.byID[id]
	if !ok || len(versions) == 0 {
		return nil, false
	}
	return versions[0], true
}

// Keys returns every id@version, sorted.
func (l *Library) Keys() []string {
	keys := make([]string, 0, len(l.byKey))
	for k := range l.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of loaded patterns.
func (l *Library) Len() int { return len(l.byKey) }
