package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/plagctl/pkg/api"
	"github.com/3leaps/plagctl/pkg/similarity"
)

const (
	formatText  = "text"
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatJSONL = "jsonl"
)

const gaugeWidth = 30

// outputFormat returns the normalized --output value, rejecting formats
// the command does not support.
func outputFormat(allowed ...string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(flagOutput))
	if f == "" {
		f = formatText
	}
	if len(allowed) == 0 {
		allowed = []string{formatText, formatJSON, formatYAML}
	}
	for _, a := range allowed {
		if f == a {
			return f, nil
		}
	}
	return "", exitError(exitInvalidArgument, "Invalid --output",
		fmt.Errorf("unsupported format %q (want %s)", f, strings.Join(allowed, ", ")))
}

// writeStructured encodes v as indented JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// gauge renders a similarity percentage as a bar with its band label.
func gauge(percent float64) string {
	frac := percent / 100
	filled := similarity.Percent(frac) * gaugeWidth / 100
	band := similarity.Band(frac)
	return fmt.Sprintf("[%s%s] %5.1f%% %s",
		strings.Repeat("#", filled), strings.Repeat(".", gaugeWidth-filled), percent, band.Label)
}

// renderResult prints the result card and match list.
func renderResult(w io.Writer, res *api.CheckResult) {
	_, _ = fmt.Fprintf(w, "File:        %s\n", res.Filename)
	_, _ = fmt.Fprintf(w, "Similarity:  %s\n", gauge(res.OverallSimilarity))
	_, _ = fmt.Fprintf(w, "Level:       %s (%s)\n", res.PlagiarismLevel.Label(), res.PlagiarismLevel)
	verdict := "no"
	if res.IsPlagiarized {
		verdict = "yes"
	}
	_, _ = fmt.Fprintf(w, "Plagiarized: %s\n", verdict)
	_, _ = fmt.Fprintf(w, "Words:       %d\n", res.WordCount)
	_, _ = fmt.Fprintf(w, "Processing:  %s\n", (time.Duration(res.ProcessingTimeMS) * time.Millisecond).String())
	_, _ = fmt.Fprintf(w, "Corpus:      %d documents\n", res.CorpusSize)
	_, _ = fmt.Fprintf(w, "Matches:     %d\n", len(res.Matches))

	if len(res.Matches) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "#\tSIMILARITY\tTAG\tTITLE\tAUTHOR\tUNIVERSITY\tYEAR")
	for i, m := range res.Matches {
		year := "-"
		if m.Year != nil {
			year = fmt.Sprintf("%d", *m.Year)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%.1f%%\t%s\t%s\t%s\t%s\t%s\n",
			i+1, m.Similarity, similarity.MatchBand(m.Similarity), dash(m.Title), dash(m.Author), dash(m.University), year)
	}
	_ = tw.Flush()
}

// renderHistory prints history rows as a table.
func renderHistory(w io.Writer, items []api.HistoryItem) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	_, _ = fmt.Fprintln(tw, "ID\tFILE\tSIMILARITY\tTAG\tMATCHES\tCREATED")
	for _, it := range items {
		created := it.CreatedAt
		if t := it.CreatedTime(); !t.IsZero() {
			created = t.Local().Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\t%d\t%s\n",
			it.ID, it.QueryName, it.OverallSimilarity, similarity.MatchBand(it.OverallSimilarity), it.MatchesCount, created)
	}
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}
