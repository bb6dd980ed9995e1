// Package scopes manages the YAML list of scopes the scheduler generates for.
package scopes

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scope describes one clustering namespace, typically a user id or "global".
type Scope struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	LookbackHours int    `yaml:"lookback_hours"`
	Schedule      string `yaml:"schedule"`
}

// Config is the top-level YAML structure.
type Config struct {
	Scopes []Scope `yaml:"scopes"`
}

// Registry holds loaded scopes, keyed by name.
type Registry struct {
	byName map[string]*Scope
	order  []string // preserves definition order
}

// Load reads the YAML file at path and returns a Registry.
// If the file does not exist, Load returns an empty Registry (not an error).
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{byName: make(map[string]*Scope)}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	r := &Registry{
		byName: make(map[string]*Scope, len(cfg.Scopes)),
	}
	for i := range cfg.Scopes {
		s := &cfg.Scopes[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, fmt.Errorf("scope %d: name is required", i)
		}
		if _, dup := r.byName[s.Name]; dup {
			return nil, fmt.Errorf("scope %q defined twice", s.Name)
		}
		if s.LookbackHours < 0 {
			return nil, fmt.Errorf("scope %q: negative lookback_hours", s.Name)
		}
		r.byName[s.Name] = s
		r.order = append(r.order, s.Name)
	}
	return r, nil
}

// FromNames builds a registry of plain scopes, skipping blanks and duplicates.
func FromNames(names []string) *Registry {
	r := &Registry{byName: make(map[string]*Scope, len(names))}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := r.byName[name]; dup {
			continue
		}
		r.byName[name] = &Scope{Name: name}
		r.order = append(r.order, name)
	}
	return r
}

// Len returns the number of scopes.
func (r *Registry) Len() int {
	return len(r.order)
}

// Get returns a scope by name. Returns (nil, false) if not found.
func (r *Registry) Get(name string) (*Scope, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// All returns all scopes in definition order.
func (r *Registry) All() []*Scope {
	result := make([]*Scope, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.byName[name])
	}
	return result
}

// Names returns a sorted list of scope names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// Lookback returns the scope's lookback window, or def when unset.
func (s *Scope) Lookback(def time.Duration) time.Duration {
	if s == nil || s.LookbackHours <= 0 {
		return def
	}
	return time.Duration(s.LookbackHours) * time.Hour
}

// ScheduleOr returns the scope's cron schedule, or def when unset.
func (s *Scope) ScheduleOr(def string) string {
	if s == nil || strings.TrimSpace(s.Schedule) == "" {
		return def
	}
	return strings.TrimSpace(s.Schedule)
}
