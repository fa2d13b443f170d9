package config

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/BurntSushi/toml"
)

// Role identifies the capability level assigned at authentication time.
type Role string

const (
	RoleGuest        Role = "guest"
	RoleManager      Role = "manager"
	RoleHousekeeping Role = "housekeeping"
	RoleMaintenance  Role = "maintenance"
)

// KnownRoles lists every role the service recognizes.
var KnownRoles = []Role{RoleGuest, RoleManager, RoleHousekeeping, RoleMaintenance}

// IsValidRole reports whether r is one of the known roles.
func IsValidRole(r Role) bool {
	for _, known := range KnownRoles {
		if r == known {
			return true
		}
	}
	return false
}

// ErrRoleNotConfigured is returned when a role has no entry in the capability
// table. Callers must be able to tell "no tools" apart from "misconfigured
// role", so this is never collapsed into an empty result.
var ErrRoleNotConfigured = errors.New("role has no tool configuration")

// ToolProviderConfig describes one tool provider available to a role.
// Allow and Deny hold bare tool names; deny wins on conflict.
type ToolProviderConfig struct {
	Name      string `toml:"name"`
	Transport string `toml:"transport"` // "stdio", "sse", "streamable-http"

	// Local process transport.
	Command string   `toml:"command"`
	Args    []string `toml:"args"`

	// Network transport.
	ServerURL string            `toml:"server_url"`
	Headers   map[string]string `toml:"headers"`

	Allow []string `toml:"allow"`
	Deny  []string `toml:"deny"`

	// AutoFill names schema parameters the server generates per call.
	// They are stripped from the schema the model sees.
	AutoFill []string `toml:"auto_fill"`

	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Timeout returns the per-call wall clock limit in seconds, defaulting by
// transport kind when unset.
func (p ToolProviderConfig) Timeout() int {
	if p.TimeoutSeconds > 0 {
		return p.TimeoutSeconds
	}
	if p.Transport == "stdio" {
		return 10
	}
	return 30
}

// IsToolAllowed applies the deny-then-allow filter to a bare tool name.
func (p ToolProviderConfig) IsToolAllowed(name string) bool {
	for _, denied := range p.Deny {
		if denied == name {
			return false
		}
	}
	if len(p.Allow) > 0 {
		for _, allowed := range p.Allow {
			if allowed == name {
				return true
			}
		}
		return false
	}
	return true
}

type rolesFile struct {
	Roles map[string]roleEntry `toml:"roles"`
}

type roleEntry struct {
	Providers []ToolProviderConfig `toml:"providers"`
}

// Registry is the role capability table. It is loaded once and swapped
// atomically on reload; an in-flight request keeps whichever snapshot it
// started with.
type Registry struct {
	path     string
	snapshot atomic.Pointer[map[Role][]ToolProviderConfig]
}

// NewRegistry loads the capability table from path.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRegistryFromTable builds a registry from an in-memory table. Used by
// tests and by callers that manage configuration themselves.
func NewRegistryFromTable(table map[Role][]ToolProviderConfig) *Registry {
	r := &Registry{}
	normalized := normalizeTable(table)
	r.snapshot.Store(&normalized)
	return r
}

// Reload re-reads the capability table from disk and swaps it in atomically.
func (r *Registry) Reload() error {
	if r.path == "" {
		return fmt.Errorf("registry has no backing file")
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read roles file: %w", err)
	}

	var parsed rolesFile
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse roles file: %w", err)
	}

	table := make(map[Role][]ToolProviderConfig, len(parsed.Roles))
	for name, entry := range parsed.Roles {
		role := Role(name)
		if !IsValidRole(role) {
			return fmt.Errorf("roles file declares unknown role %q", name)
		}
		for _, p := range entry.Providers {
			if p.Name == "" {
				return fmt.Errorf("role %q has a provider with no name", name)
			}
		}
		table[role] = entry.Providers
	}

	normalized := normalizeTable(table)
	r.snapshot.Store(&normalized)

	if DebugLog != nil {
		DebugLog.Printf("[Registry] Loaded capability table for %d roles from %s", len(normalized), r.path)
	}

	return nil
}

// ForRole returns the tool provider configurations for role, or
// ErrRoleNotConfigured when the role has no entry.
func (r *Registry) ForRole(role Role) ([]ToolProviderConfig, error) {
	snap := r.snapshot.Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotConfigured, role)
	}

	providers, ok := (*snap)[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotConfigured, role)
	}

	out := make([]ToolProviderConfig, len(providers))
	copy(out, providers)
	return out, nil
}

// AllProviders returns every distinct provider across all roles, keyed by
// provider name. Used at startup to open connections ahead of traffic.
func (r *Registry) AllProviders() map[string]ToolProviderConfig {
	snap := r.snapshot.Load()
	if snap == nil {
		return nil
	}

	all := make(map[string]ToolProviderConfig)
	for _, providers := range *snap {
		for _, p := range providers {
			if _, seen := all[p.Name]; !seen {
				all[p.Name] = p
			}
		}
	}
	return all
}

// normalizeTable resolves allow/deny conflicts in favor of deny: a name on
// both lists is removed from the allow list.
func normalizeTable(table map[Role][]ToolProviderConfig) map[Role][]ToolProviderConfig {
	out := make(map[Role][]ToolProviderConfig, len(table))
	for role, providers := range table {
		normalized := make([]ToolProviderConfig, len(providers))
		copy(normalized, providers)
		for i := range normalized {
			p := &normalized[i]
			if len(p.Allow) == 0 || len(p.Deny) == 0 {
				continue
			}
			denied := make(map[string]bool, len(p.Deny))
			for _, d := range p.Deny {
				denied[d] = true
			}
			kept := p.Allow[:0:0]
			for _, a := range p.Allow {
				if denied[a] {
					if DebugLog != nil {
						DebugLog.Printf("[Registry] Tool %q on both allow and deny for provider %q (role %s); deny wins", a, p.Name, role)
					}
					continue
				}
				kept = append(kept, a)
			}
			p.Allow = kept
		}
		out[role] = normalized
	}
	return out
}
