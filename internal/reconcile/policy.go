package reconcile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

// DefaultPatterns lists path globs treated as protected areas when no
// project configuration overrides them.
var DefaultPatterns = []string{
	"**/auth/**",
	"**/security/**",
	"**/migrations/**",
	"**/secrets/**",
	"**/credentials/**",
	"**/certs/**",
	"**/keys/**",
	"**/.ssh/**",
	"**/terraform/**",
	"**/helm/**",
}

// DefaultKeywords flag paths whose name suggests sensitive content.
var DefaultKeywords = []string{
	"secret",
	"credential",
	"password",
	"token",
	"private_key",
}

// DefaultFileTypes lists extensions that are protected regardless of
// where the file lives.
var DefaultFileTypes = []string{
	".pem",
	".key",
	".env",
	".p12",
	".crt",
	".sql",
	".tf",
}

// Policy decides whether a file path falls in a protected area. Hits
// never change task state; they only annotate the Diff so a human
// reviews work that strayed into sensitive ground.
type Policy struct {
	mu        sync.RWMutex
	patterns  []string
	keywords  []string
	fileTypes []string
}

// policyConfig is the protected_areas section of a project config file.
type policyConfig struct {
	ProtectedAreas struct {
		Patterns  []string `yaml:"patterns"`
		Keywords  []string `yaml:"keywords"`
		FileTypes []string `yaml:"file_types"`
	} `yaml:"protected_areas"`
}

// NewPolicy returns a policy seeded with the default protected areas.
func NewPolicy() *Policy {
	return &Policy{
		patterns:  append([]string{}, DefaultPatterns...),
		keywords:  append([]string{}, DefaultKeywords...),
		fileTypes: append([]string{}, DefaultFileTypes...),
	}
}

// Protected reports whether path falls in a protected area and, if
// so, why.
func (p *Policy) Protected(path string) (bool, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	normalized := filepath.ToSlash(path)
	lower := strings.ToLower(normalized)

	for _, pattern := range p.patterns {
		if matchPath(normalized, pattern) {
			return true, "matches protected pattern " + pattern
		}
	}
	for _, keyword := range p.keywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return true, "contains protected keyword " + keyword
		}
	}
	ext := strings.ToLower(filepath.Ext(normalized))
	for _, protectedExt := range p.fileTypes {
		if ext == strings.ToLower(protectedExt) {
			return true, "protected file type " + protectedExt
		}
	}
	return false, ""
}

// LoadConfig merges the protected_areas section of a project
// configuration file into the policy.
func (p *Policy) LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cfg policyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.patterns = append(p.patterns, cfg.ProtectedAreas.Patterns...)
	p.keywords = append(p.keywords, cfg.ProtectedAreas.Keywords...)
	p.fileTypes = append(p.fileTypes, cfg.ProtectedAreas.FileTypes...)
	return nil
}

// AddPattern adds a glob pattern to the protected set.
func (p *Policy) AddPattern(pattern string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.patterns = append(p.patterns, pattern)
}

// AddKeyword adds a path keyword to the protected set.
func (p *Policy) AddKeyword(keyword string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keywords = append(p.keywords, keyword)
}

// AddFileType adds a file extension to the protected set.
func (p *Policy) AddFileType(ext string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fileTypes = append(p.fileTypes, ext)
}
