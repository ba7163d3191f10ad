// Package match selects local documents for checking using doublestar glob
// semantics.
package match

import (
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates patterns against slash-separated paths relative to a
// root directory.
//
// A Matcher is configured with include and exclude patterns:
//   - Include patterns: a file must match at least one
//   - Exclude patterns: a file must not match any
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes      []string
	excludes      []string
	extensions    map[string]struct{}
	includeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns that files must match (at least one).
	Includes []string

	// Excludes are glob patterns that files must not match (any).
	Excludes []string

	// IncludeHidden controls whether hidden files are matched.
	// Hidden files have path segments starting with '.'.
	// Default: false (hidden files are excluded).
	IncludeHidden bool

	// Extensions restricts matches to these lowercase extensions
	// (e.g., ".pdf"). Empty means any extension.
	Extensions []string
}

// Errors returned by Matcher operations.
var (
	// ErrNoIncludes is returned when no include patterns are provided.
	ErrNoIncludes = errors.New("at least one include pattern is required")

	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// File is a selected local file.
type File struct {
	// Path is the file path joined to the expansion root.
	Path string

	// Rel is the slash-separated path relative to the root.
	Rel string

	Size    int64
	ModTime time.Time
}

// New creates a new Matcher from the given configuration.
//
// Patterns are normalized so Windows-style separators work; escaped glob
// metacharacters are kept.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}

	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}

	m := &Matcher{
		includes:      includes,
		excludes:      excludes,
		includeHidden: cfg.IncludeHidden,
	}
	if len(cfg.Extensions) > 0 {
		m.extensions = make(map[string]struct{}, len(cfg.Extensions))
		for _, ext := range cfg.Extensions {
			m.extensions[strings.ToLower(ext)] = struct{}{}
		}
	}
	return m, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		normalized := strings.TrimPrefix(NormalizePattern(p), "./")
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, normalized)
	}
	return out, nil
}

// Match reports whether the relative path rel is selected.
//
// A path matches if:
//  1. It is not hidden (unless IncludeHidden is true)
//  2. Its extension is allowed
//  3. It matches at least one include pattern
//  4. It does not match any exclude pattern
func (m *Matcher) Match(rel string) bool {
	if !m.includeHidden && IsHidden(rel) {
		return false
	}
	if m.extensions != nil {
		if _, ok := m.extensions[strings.ToLower(path.Ext(rel))]; !ok {
			return false
		}
	}

	matched := false
	for _, inc := range m.includes {
		if matchPattern(inc, rel) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, exc := range m.excludes {
		if matchPattern(exc, rel) {
			return false
		}
	}
	return true
}

// Bases returns the deduplicated literal directories the include patterns
// start from. Walking only these avoids scanning unrelated trees.
func (m *Matcher) Bases() []string {
	seen := make(map[string]struct{}, len(m.includes))
	var bases []string
	for _, inc := range m.includes {
		base, _ := doublestar.SplitPattern(inc)
		if _, ok := seen[base]; ok {
			continue
		}
		seen[base] = struct{}{}
		bases = append(bases, base)
	}
	sort.Strings(bases)

	// Drop bases nested under another base.
	out := bases[:0]
	for _, b := range bases {
		nested := false
		for _, kept := range out {
			if kept == "." || strings.HasPrefix(b, kept+"/") {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, b)
		}
	}
	return out
}

// Expand walks root and returns every selected regular file, sorted by
// relative path. Missing base directories are skipped.
func (m *Matcher) Expand(root string) ([]File, error) {
	seen := make(map[string]struct{})
	var files []File

	for _, base := range m.Bases() {
		start := filepath.Join(root, filepath.FromSlash(base))
		err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && p == start {
					return fs.SkipDir
				}
				return err
			}

			rel, relErr := filepath.Rel(root, p)
			if relErr != nil {
				return relErr
			}
			rel = filepath.ToSlash(rel)

			if d.IsDir() {
				if p != start && !m.includeHidden && IsHidden(d.Name()) {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !m.Match(rel) {
				return nil
			}
			if _, dup := seen[rel]; dup {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			seen[rel] = struct{}{}
			files = append(files, File{Path: p, Rel: rel, Size: info.Size(), ModTime: info.ModTime()})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Rel < files[j].Rel })
	return files, nil
}

// IncludePatterns returns the normalized include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the normalized exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}

func matchPattern(pattern, rel string) bool {
	matched, err := doublestar.Match(pattern, rel)
	if err != nil {
		// validated in New
		return false
	}
	return matched
}
