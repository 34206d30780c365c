package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// includeWalker merges include files into a Config while tracking which
// absolute paths are already loaded, so include cycles fail instead of
// looping.
type includeWalker struct {
	visited map[string]bool
}

// processIncludes merges every file referenced by cfg.Includes into cfg.
// baseDir is the directory of the file that declared the includes; visited
// seeds cycle detection with the paths already being loaded.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) error {
	if visited == nil {
		visited = make(map[string]bool)
	}
	w := &includeWalker{visited: visited}
	return w.walk(cfg, baseDir, depth)
}

func (w *includeWalker) walk(cfg *Config, baseDir string, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}

	patterns := cfg.Includes
	cfg.Includes = nil

	for _, pattern := range patterns {
		paths, err := expandPattern(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, path := range paths {
			if err := w.merge(cfg, path, depth); err != nil {
				return err
			}
		}
	}
	return nil
}

// merge overlays one include file onto cfg and recurses into any includes it
// declares, resolved against its own directory.
func (w *includeWalker) merge(cfg *Config, path string, depth int) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config includes: resolve %q: %w", path, err)
	}
	if w.visited[abs] {
		return fmt.Errorf("config includes: circular include detected for %q", abs)
	}
	w.visited[abs] = true

	if err := validatePermissions(abs); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", abs, err)
	}
	if len(data) == 0 {
		return nil
	}

	cfg.Includes = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", abs, err)
	}

	if len(cfg.Includes) > 0 {
		return w.walk(cfg, filepath.Dir(abs), depth+1)
	}
	return nil
}

// expandPattern resolves an include pattern relative to baseDir and refuses
// paths that climb out of the config directory. A glob matching nothing is
// fine; a literal path is passed through so the read can report it missing.
func expandPattern(pattern, baseDir string) ([]string, error) {
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(baseDir, pattern)
	}
	pattern = filepath.Clean(pattern)

	rel, err := filepath.Rel(baseDir, pattern)
	if err == nil && (rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator))) {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) > 0 {
		return matches, nil
	}
	if hasMeta(pattern) {
		return nil, nil
	}
	return []string{pattern}, nil
}

// hasMeta reports whether the pattern contains glob metacharacters.
func hasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}
