package permission

import (
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// Context holds the session's authorization state: the mode, the durable
// always-allow/always-deny rules keyed by tool name, and any extra writable
// directories. Rules are mutated only through the arbiter's
// AllowAlways/DenyAlways decision path and live no longer than the session.
type Context struct {
	mu sync.RWMutex

	mode         Mode
	workDir      string
	alwaysAllow  map[string][]string
	alwaysDeny   map[string][]string
	writableDirs []string
}

// NewContext creates a permission context rooted at workDir.
func NewContext(workDir string, mode Mode) *Context {
	return &Context{
		mode:        mode,
		workDir:     workDir,
		alwaysAllow: make(map[string][]string),
		alwaysDeny:  make(map[string][]string),
	}
}

// Mode returns the current permission mode.
func (c *Context) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetMode changes the permission mode. Only an explicit user action should
// call this.
func (c *Context) SetMode(mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// WorkDir returns the session working directory.
func (c *Context) WorkDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.workDir
}

// AddWritableDir marks an extra directory (or doublestar pattern) as
// writable for edit auto-approval.
func (c *Context) AddWritableDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writableDirs = append(c.writableDirs, dir)
}

// PathWritable reports whether path lies inside the working tree or one of
// the extra writable directories.
func (c *Context) PathWritable(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(c.workDir, path)
	}
	if IsWithinDir(abs, c.workDir) {
		return true
	}
	for _, dir := range c.writableDirs {
		if IsWithinDir(abs, dir) {
			return true
		}
		if ok, err := doublestar.Match(dir, abs); err == nil && ok {
			return true
		}
	}
	return false
}

// AllowRules returns a copy of the always-allow rules for a tool.
func (c *Context) AllowRules(tool string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.alwaysAllow[tool]...)
}

// DenyRules returns a copy of the always-deny rules for a tool.
func (c *Context) DenyRules(tool string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.alwaysDeny[tool]...)
}

func (c *Context) addAllow(tool string, rules []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rule := range rules {
		rule = NormalizeRule(rule)
		if rule == "" || contains(c.alwaysAllow[tool], rule) {
			continue
		}
		c.alwaysAllow[tool] = append(c.alwaysAllow[tool], rule)
	}
}

func (c *Context) addDeny(tool string, rules []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rule := range rules {
		rule = NormalizeRule(rule)
		if rule == "" || contains(c.alwaysDeny[tool], rule) {
			continue
		}
		c.alwaysDeny[tool] = append(c.alwaysDeny[tool], rule)
	}
}

func contains(rules []string, rule string) bool {
	for _, r := range rules {
		if r == rule {
			return true
		}
	}
	return false
}
