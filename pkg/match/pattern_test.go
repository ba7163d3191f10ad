package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePattern(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"essays/**/*.pdf", "essays/**/*.pdf"},
		{`essays\k65/**`, "essays/k65/**"},
		{`file\*.txt`, `file\*.txt`},
		{`trailing\`, "trailing/"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePattern(tt.in))
		})
	}
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		rel  string
		want bool
	}{
		{"essays/a.pdf", false},
		{".hidden/a.pdf", true},
		{"essays/.~lock.a.docx#", true},
		{"a.pdf.", false},
		{"../essays/a.pdf", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHidden(tt.rel))
		})
	}
}

func TestIsGlobPattern(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"essays/**/*.pdf", true},
		{"essay?.txt", true},
		{"essay[12].txt", true},
		{"{a,b}.txt", true},
		{`file\*.txt`, false},
		{"thesis.pdf", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsGlobPattern(tt.in))
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr bool
	}{
		{name: "raw bytes", input: "1024", want: 1024},
		{name: "zero", input: "0", want: 0},
		{name: "KB", input: "1KB", want: 1000},
		{name: "lowercase", input: "1kb", want: 1000},
		{name: "MiB", input: "20MiB", want: 20 * 1024 * 1024},
		{name: "GiB", input: "1GiB", want: 1024 * 1024 * 1024},
		{name: "shorthand", input: "2M", want: 2000000},
		{name: "decimal", input: "1.5KB", want: 1500},
		{name: "space before unit", input: "100 MB", want: 100 * 1000 * 1000},
		{name: "explicit bytes", input: "1024B", want: 1024},
		{name: "empty", input: "", wantErr: true},
		{name: "negative", input: "-1KB", wantErr: true},
		{name: "unknown unit", input: "100XB", wantErr: true},
		{name: "overflow", input: "9223372036854775808", wantErr: true},
		{name: "two dots", input: "1.2.3MB", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSize)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512B", FormatSize(512))
	assert.Equal(t, "1.5KiB", FormatSize(1536))
	assert.Equal(t, "20.0MiB", FormatSize(20*MiB))
	assert.Equal(t, "2.0GiB", FormatSize(2*GiB))
}
