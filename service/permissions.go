package service

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// PermissionEntry describes how a call identified by Pattern is exposed.
type PermissionEntry struct {
	Pattern      string `yaml:"pattern"`
	Public       bool   `yaml:"public"`
	Mutating     bool   `yaml:"mutating"`
	Confirmation bool   `yaml:"confirmation"`
}

// RequiresConfirmation reports whether step-up applies to the call.
func (e PermissionEntry) RequiresConfirmation() bool {
	return e.Public && e.Mutating && e.Confirmation
}

// PermissionRegistry is the static table of call patterns built at startup.
type PermissionRegistry struct {
	entries map[string]PermissionEntry
}

// NewPermissionRegistry builds a registry, rejecting empty and duplicate patterns.
func NewPermissionRegistry(entries ...PermissionEntry) (*PermissionRegistry, error) {
	r := &PermissionRegistry{entries: make(map[string]PermissionEntry, len(entries))}
	for _, e := range entries {
		if e.Pattern == "" {
			return nil, fmt.Errorf("permission entry without pattern")
		}
		if _, dup := r.entries[e.Pattern]; dup {
			return nil, fmt.Errorf("duplicate permission pattern %q", e.Pattern)
		}
		r.entries[e.Pattern] = e
	}
	return r, nil
}

// ParsePermissionRegistry reads a YAML document of the form
//
//	permissions:
//	  - pattern: "POST /sessions/terminate-all"
//	    public: true
//	    mutating: true
//	    confirmation: true
func ParsePermissionRegistry(data []byte) (*PermissionRegistry, error) {
	var doc struct {
		Permissions []PermissionEntry `yaml:"permissions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse permission registry: %w", err)
	}
	return NewPermissionRegistry(doc.Permissions...)
}

// LoadPermissionRegistry reads the registry from a YAML file. An empty path
// yields an empty registry.
func LoadPermissionRegistry(path string) (*PermissionRegistry, error) {
	if path == "" {
		return NewPermissionRegistry()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read permission registry: %w", err)
	}
	return ParsePermissionRegistry(data)
}

// Lookup returns the entry registered for pattern.
func (r *PermissionRegistry) Lookup(pattern string) (PermissionEntry, bool) {
	e, ok := r.entries[pattern]
	return e, ok
}

// Patterns lists registered patterns in sorted order.
func (r *PermissionRegistry) Patterns() []string {
	out := make([]string, 0, len(r.entries))
	for p := range r.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
