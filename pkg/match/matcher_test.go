package match

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantErr     error
		wantErrType interface{}
	}{
		{
			name: "valid single include",
			cfg:  Config{Includes: []string{"essays/**"}},
		},
		{
			name: "valid with excludes",
			cfg:  Config{Includes: []string{"**/*.pdf"}, Excludes: []string{"**/drafts/**"}},
		},
		{
			name:    "no includes",
			cfg:     Config{},
			wantErr: ErrNoIncludes,
		},
		{
			name:        "invalid include pattern",
			cfg:         Config{Includes: []string{"[invalid"}},
			wantErrType: &PatternError{},
		},
		{
			name:        "invalid exclude pattern",
			cfg:         Config{Includes: []string{"**"}, Excludes: []string{"[invalid"}},
			wantErrType: &PatternError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, m)
			case tt.wantErrType != nil:
				require.Error(t, err)
				assert.IsType(t, tt.wantErrType, err)
				assert.True(t, errors.Is(err, ErrInvalidPattern))
			default:
				require.NoError(t, err)
				assert.NotNil(t, m)
			}
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		rel  string
		want bool
	}{
		{"recursive include", Config{Includes: []string{"**/*.pdf"}}, "k65/thesis.pdf", true},
		{"top level", Config{Includes: []string{"**/*.pdf"}}, "thesis.pdf", true},
		{"wrong extension", Config{Includes: []string{"**/*.pdf"}}, "thesis.docx", false},
		{"excluded", Config{Includes: []string{"**/*.pdf"}, Excludes: []string{"**/drafts/**"}}, "k65/drafts/v1.pdf", false},
		{"hidden file", Config{Includes: []string{"**"}}, "k65/.~lock.pdf", false},
		{"hidden dir", Config{Includes: []string{"**"}}, ".cache/a.pdf", false},
		{"hidden allowed", Config{Includes: []string{"**"}, IncludeHidden: true}, ".cache/a.pdf", true},
		{"extension filter", Config{Includes: []string{"**"}, Extensions: []string{".pdf", ".TXT"}}, "notes/a.txt", true},
		{"extension filter rejects", Config{Includes: []string{"**"}, Extensions: []string{".pdf"}}, "notes/a.pptx", false},
		{"windows separators", Config{Includes: []string{`k65\a/**/*.pdf`}}, "k65/a/b.pdf", true},
		{"leading dot slash", Config{Includes: []string{"./essays/*.txt"}}, "essays/a.txt", true},
		{"escaped star is literal", Config{Includes: []string{`a\*.txt`}}, "a*.txt", true},
		{"escaped star does not glob", Config{Includes: []string{`a\*.txt`}}, "ab.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Match(tt.rel))
		})
	}
}

func TestMatcher_Bases(t *testing.T) {
	tests := []struct {
		name     string
		includes []string
		want     []string
	}{
		{"no literal prefix", []string{"**/*.pdf"}, []string{"."}},
		{"single dir", []string{"essays/*.pdf"}, []string{"essays"}},
		{"dedup", []string{"essays/*.pdf", "essays/*.docx"}, []string{"essays"}},
		{"nested dropped", []string{"essays/**/*.pdf", "essays/k65/*.txt", "theses/*.pdf"}, []string{"essays", "theses"}},
		{"root swallows all", []string{"*.txt", "essays/*.pdf"}, []string{"."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(Config{Includes: tt.includes})
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Bases())
		})
	}
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func TestMatcher_Expand(t *testing.T) {
	root := writeTree(t, map[string]string{
		"k65/a.pdf":         "aaaa",
		"k65/b.docx":        "bb",
		"k65/drafts/c.pdf":  "c",
		"k66/d.txt":         "ddd",
		".git/config.txt":   "x",
		"k66/.hidden/e.txt": "e",
		"k66/notes/f.pptx":  "f",
		"other/ignored.pdf": "z",
	})

	m, err := New(Config{
		Includes:   []string{"k65/**", "k66/**"},
		Excludes:   []string{"**/drafts/**"},
		Extensions: []string{".pdf", ".docx", ".txt", ".tex"},
	})
	require.NoError(t, err)

	files, err := m.Expand(root)
	require.NoError(t, err)

	var rels []string
	for _, f := range files {
		rels = append(rels, f.Rel)
	}
	assert.Equal(t, []string{"k65/a.pdf", "k65/b.docx", "k66/d.txt"}, rels)
	assert.Equal(t, int64(4), files[0].Size)
	assert.Equal(t, filepath.Join(root, "k65", "a.pdf"), files[0].Path)
	assert.False(t, files[0].ModTime.IsZero())
}

func TestMatcher_ExpandMissingBase(t *testing.T) {
	root := writeTree(t, map[string]string{"present/a.txt": "a"})

	m, err := New(Config{Includes: []string{"missing/**/*.pdf", "present/*.txt"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"missing", "present"}, m.Bases())

	files, err := m.Expand(root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "present/a.txt", files[0].Rel)
}

func TestMatcher_Patterns(t *testing.T) {
	m, err := New(Config{Includes: []string{`a\b\*.pdf`}, Excludes: []string{"x/**"}})
	require.NoError(t, err)

	assert.Equal(t, []string{`a/b\*.pdf`}, m.IncludePatterns())
	assert.Equal(t, []string{"x/**"}, m.ExcludePatterns())
}

func TestPatternError(t *testing.T) {
	err := &PatternError{Pattern: "[bad", Err: ErrInvalidPattern}
	assert.Equal(t, "pattern [bad: invalid glob pattern", err.Error())
	assert.ErrorIs(t, err, ErrInvalidPattern)
}
