// Package prompt loads and assembles role-specific system prompts.
//
// Each role has a template file under the configured directory
// (<dir>/<role>.md). A missing file falls back to a built-in default so a
// misplaced template never blocks a chat turn; Validate reports which roles
// are running on fallbacks for startup diagnostics.
package prompt

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"

	"concierge/config"
)

//go:embed defaults/*.md
var defaultTemplates embed.FS

var placeholderPattern = regexp.MustCompile(`\{\{([a-zA-Z0-9_]+)\}\}`)

// Assembler loads role templates and interpolates runtime variables.
type Assembler struct {
	dir          string
	disableCache bool

	cache sync.Map // config.Role -> string

	// loads counts underlying template reads, for cache verification.
	loads atomic.Int64
}

func NewAssembler(cfg config.PromptConfig) *Assembler {
	return &Assembler{
		dir:          cfg.Dir,
		disableCache: cfg.DisableCache,
	}
}

// ForRole returns the raw template for role. With caching enabled, repeated
// calls return byte-identical output from a single underlying load.
func (a *Assembler) ForRole(role config.Role) (string, error) {
	if !config.IsValidRole(role) {
		return "", fmt.Errorf("unknown role: %s", role)
	}

	if !a.disableCache {
		if cached, ok := a.cache.Load(role); ok {
			return cached.(string), nil
		}
	}

	template, err := a.load(role)
	if err != nil {
		return "", err
	}

	if !a.disableCache {
		a.cache.Store(role, template)
	}
	return template, nil
}

// ForRoleWithVars returns the role template with {{name}} placeholders
// replaced by vars. A placeholder with no matching variable is left verbatim
// rather than treated as an error.
func (a *Assembler) ForRoleWithVars(role config.Role, vars map[string]string) (string, error) {
	template, err := a.ForRole(role)
	if err != nil {
		return "", err
	}
	return Interpolate(template, vars), nil
}

// Interpolate replaces {{name}} placeholders in template with values from
// vars, leaving unresolved placeholders untouched.
func Interpolate(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		return match
	})
}

// Validate returns the roles whose template file is missing on disk and are
// therefore serving the built-in default.
func (a *Assembler) Validate() []config.Role {
	var missing []config.Role
	for _, role := range config.KnownRoles {
		if _, err := os.Stat(a.templatePath(role)); err != nil {
			missing = append(missing, role)
		}
	}
	return missing
}

// Preload warms the cache for every known role.
func (a *Assembler) Preload() error {
	for _, role := range config.KnownRoles {
		if _, err := a.ForRole(role); err != nil {
			return fmt.Errorf("failed to preload prompt for %s: %w", role, err)
		}
	}
	return nil
}

// Loads reports how many underlying template reads have happened.
func (a *Assembler) Loads() int64 {
	return a.loads.Load()
}

func (a *Assembler) load(role config.Role) (string, error) {
	a.loads.Add(1)

	data, err := os.ReadFile(a.templatePath(role))
	if err == nil {
		return string(data), nil
	}

	data, err = defaultTemplates.ReadFile(fmt.Sprintf("defaults/%s.md", role))
	if err != nil {
		return "", fmt.Errorf("no prompt template for role %s: %w", role, err)
	}
	return string(data), nil
}

func (a *Assembler) templatePath(role config.Role) string {
	return filepath.Join(a.dir, string(role)+".md")
}
