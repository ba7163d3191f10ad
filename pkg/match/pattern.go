package match

import "strings"

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// Unescaped backslashes become forward slashes so Windows users can write
// "essays\**\*.pdf". Escaped metacharacters ("\*", "\[") are preserved for
// literal matching.
func NormalizePattern(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			b.WriteRune('\\')
			b.WriteRune(runes[i+1])
			i++
			continue
		}
		b.WriteRune('/')
	}
	return b.String()
}

// IsHidden returns true if any slash-separated segment starts with a dot.
// "." and ".." are path navigation, not hidden names.
func IsHidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if seg == "." || seg == ".." {
			continue
		}
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// IsGlobPattern reports whether pattern contains an unescaped glob
// metacharacter. Command-line arguments that are not globs are treated as
// literal file paths.
func IsGlobPattern(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
