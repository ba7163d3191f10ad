package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/plagctl/pkg/api"
	"github.com/3leaps/plagctl/pkg/similarity"
)

func TestGauge(t *testing.T) {
	tests := []struct {
		name    string
		percent float64
		filled  int
		label   string
	}{
		{"zero", 0, 0, "Thấp"},
		{"low band edge", 29.9, 9, "Thấp"},
		{"medium", 50, 15, "Trung bình"},
		{"high", 85, 25, "Cao"},
		{"full", 100, 30, "Cao"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gauge(tt.percent)
			bar := g[strings.Index(g, "[")+1 : strings.Index(g, "]")]
			assert.Equal(t, tt.filled, strings.Count(bar, "#"))
			assert.Equal(t, gaugeWidth-tt.filled, strings.Count(bar, "."))
			assert.True(t, strings.HasSuffix(g, tt.label), g)
		})
	}
}

func TestOutputFormat(t *testing.T) {
	orig := flagOutput
	defer func() { flagOutput = orig }()

	flagOutput = " JSON "
	f, err := outputFormat()
	require.NoError(t, err)
	assert.Equal(t, formatJSON, f)

	flagOutput = ""
	f, err = outputFormat()
	require.NoError(t, err)
	assert.Equal(t, formatText, f)

	flagOutput = "jsonl"
	_, err = outputFormat()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")

	f, err = outputFormat(formatText, formatJSONL)
	require.NoError(t, err)
	assert.Equal(t, formatJSONL, f)
}

func TestWriteStructuredYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeStructured(&buf, formatYAML, api.HealthStatus{Status: "healthy", Version: "1.2.3"}))
	assert.Equal(t, "status: healthy\nversion: 1.2.3\n", buf.String())
}

func TestRenderResult(t *testing.T) {
	year := 2020
	var buf bytes.Buffer
	renderResult(&buf, &api.CheckResult{
		Filename:          "essay.pdf",
		IsPlagiarized:     true,
		OverallSimilarity: 82.5,
		PlagiarismLevel:   similarity.LevelHigh,
		WordCount:         1200,
		ProcessingTimeMS:  1500,
		CorpusSize:        4,
		Matches: []api.SourceMatch{
			{Title: "Học máy", Author: "Nguyễn Văn A", University: "ĐH Bách khoa", Year: &year, Similarity: 82.5},
			{Title: "Mạng máy tính", Similarity: 12},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "File:        essay.pdf")
	assert.Contains(t, out, "Plagiarized: yes")
	assert.Contains(t, out, "Processing:  1.5s")
	assert.Contains(t, out, "Matches:     2")
	assert.Contains(t, out, "red")
	assert.Contains(t, out, "green")
	assert.Contains(t, out, "2020")
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	renderHistory(&buf, []api.HistoryItem{
		{ID: "h1", QueryName: "a.pdf", OverallSimilarity: 45, MatchesCount: 2, CreatedAt: "not a time"},
	})
	out := buf.String()
	assert.Contains(t, out, "h1")
	assert.Contains(t, out, "orange")
	assert.Contains(t, out, "not a time")
}

func TestShortIDAndDash(t *testing.T) {
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef"))
	assert.Equal(t, "short", shortID(" short "))
	assert.Equal(t, "-", dash("  "))
	assert.Equal(t, "x", dash("x"))
	assert.Equal(t, "-", formatOptionalTime(nil))
}

func TestHistorySorter(t *testing.T) {
	items := []api.HistoryItem{
		{ID: "a", OverallSimilarity: 10, MatchesCount: 5, CreatedAt: "2025-01-02T00:00:00Z"},
		{ID: "b", OverallSimilarity: 90, MatchesCount: 1, CreatedAt: "2025-01-01T00:00:00Z"},
		{ID: "c", OverallSimilarity: 50, MatchesCount: 3, CreatedAt: "2025-01-03T00:00:00Z"},
	}

	tests := []struct {
		key  string
		want []string
	}{
		{"similarity", []string{"b", "c", "a"}},
		{"matches", []string{"a", "c", "b"}},
		{"created", []string{"c", "a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			less, err := historySorter(tt.key)
			require.NoError(t, err)
			sorted := append([]api.HistoryItem(nil), items...)
			for i := 1; i < len(sorted); i++ {
				for j := i; j > 0 && less(sorted[j], sorted[j-1]); j-- {
					sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
				}
			}
			var ids []string
			for _, it := range sorted {
				ids = append(ids, it.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	less, err := historySorter("")
	require.NoError(t, err)
	assert.Nil(t, less)

	_, err = historySorter("size")
	assert.Error(t, err)
}

func TestSplitObjectURI(t *testing.T) {
	tests := []struct {
		uri, dest, name string
	}{
		{"s3://bucket/reports/history.csv", "s3://bucket/reports/", "history.csv"},
		{"s3://bucket/reports/", "s3://bucket/reports/", "history.xlsx"},
		{"s3://bucket", "s3://bucket/", "history.xlsx"},
		{"s3://bucket/h.xlsx", "s3://bucket/", "h.xlsx"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			dest, name := splitObjectURI(tt.uri)
			assert.Equal(t, tt.dest, dest)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var prompt bytes.Buffer
		got, err := confirm(strings.NewReader(tt.input), &prompt, "Proceed?")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, "Proceed? [y/N]: ", prompt.String())
	}
}
