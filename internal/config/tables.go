package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// AliasTable maps surface forms to canonical entity names. Curators edit
// the YAML by hand, so lookups are case-insensitive and Reload picks up
// edits without a restart.
type AliasTable struct {
	mu      sync.RWMutex
	path    string
	aliases map[string]string // lowercased surface form -> canonical name
}

type aliasFile struct {
	Aliases map[string][]string `yaml:"aliases"` // canonical -> surface forms
}

// LoadAliasTable reads the YAML alias file. A missing file yields an
// empty, still-reloadable table.
func LoadAliasTable(path string) (*AliasTable, error) {
	t := &AliasTable{path: path, aliases: map[string]string{}}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the backing file, replacing the table atomically.
func (t *AliasTable) Reload() error {
	if t.path == "" {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read alias table %s: %w", t.path, err)
	}

	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse alias table %s: %w", t.path, err)
	}

	next := make(map[string]string, len(f.Aliases)*3)
	for canonical, forms := range f.Aliases {
		for _, form := range forms {
			next[strings.ToLower(strings.TrimSpace(form))] = canonical
		}
	}

	t.mu.Lock()
	t.aliases = next
	t.mu.Unlock()
	return nil
}

// Canonical returns the canonical name for a surface form, or "" when
// the table has no entry.
func (t *AliasTable) Canonical(surface string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.aliases[strings.ToLower(strings.TrimSpace(surface))]
}

// Len returns the number of mapped surface forms.
func (t *AliasTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.aliases)
}

// TagRule rewrites an oracle-produced tag when its pattern matches the
// cluster title or subject key. First matching rule wins.
type TagRule struct {
	Contains string `yaml:"contains"` // case-insensitive substring of title/subject
	Tag      string `yaml:"tag"`      // replacement tag
}

// RuleTable is the curated tag-correction list.
type RuleTable struct {
	mu    sync.RWMutex
	path  string
	rules []TagRule
}

type ruleFile struct {
	Rules []TagRule `yaml:"rules"`
}

// LoadRuleTable reads the YAML rule file. A missing file yields an empty
// table.
func LoadRuleTable(path string) (*RuleTable, error) {
	t := &RuleTable{path: path}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the backing file, replacing the rules atomically.
func (t *RuleTable) Reload() error {
	if t.path == "" {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read rule table %s: %w", t.path, err)
	}

	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse rule table %s: %w", t.path, err)
	}

	rules := make([]TagRule, 0, len(f.Rules))
	for _, r := range f.Rules {
		if r.Contains == "" || r.Tag == "" {
			continue
		}
		r.Contains = strings.ToLower(r.Contains)
		rules = append(rules, r)
	}

	t.mu.Lock()
	t.rules = rules
	t.mu.Unlock()
	return nil
}

// Apply returns the corrected tag for a cluster, or the original when no
// rule matches.
func (t *RuleTable) Apply(tag, title, subjectKey string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	haystack := strings.ToLower(title + " " + subjectKey)
	for _, r := range t.rules {
		if strings.Contains(haystack, r.Contains) {
			return r.Tag
		}
	}
	return tag
}
