// Package diffview compares a source document with the checked (query)
// document. The source is always the "from" side and the query the "to" side.
package diffview

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

// ErrNothingToCompare is returned when both texts are empty.
var ErrNothingToCompare = errors.New("Không có nội dung để so sánh")

const (
	DefaultSourceTitle = "Tài liệu nguồn"
	DefaultQueryTitle  = "Tài liệu của bạn"

	// DefaultMinMatchLength is the shortest run of characters reported as a
	// matched segment.
	DefaultMinMatchLength = 50
)

// Options controls Unified and SideBySide output.
type Options struct {
	SourceTitle string
	QueryTitle  string

	// Context is the number of unchanged lines around each hunk.
	// Default: 3
	Context int

	// Full shows every line instead of hunks only.
	Full bool

	// Width is the column width of each side in SideBySide.
	// Default: 60
	Width int
}

func (o Options) withDefaults() Options {
	if o.SourceTitle == "" {
		o.SourceTitle = DefaultSourceTitle
	}
	if o.QueryTitle == "" {
		o.QueryTitle = DefaultQueryTitle
	}
	if o.Context <= 0 {
		o.Context = 3
	}
	if o.Width <= 0 {
		o.Width = 60
	}
	return o
}

// Unified returns a unified diff of source against query.
func Unified(source, query string, opts Options) (string, error) {
	if source == "" && query == "" {
		return "", ErrNothingToCompare
	}
	opts = opts.withDefaults()

	a := difflib.SplitLines(source)
	b := difflib.SplitLines(query)
	ctx := opts.Context
	if opts.Full {
		ctx = max(len(a), len(b))
	}

	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: opts.SourceTitle,
		ToFile:   opts.QueryTitle,
		Context:  ctx,
	})
	if err != nil {
		return "", fmt.Errorf("build diff: %w", err)
	}
	return out, nil
}

// RowKind classifies a side-by-side row.
type RowKind byte

const (
	RowEqual   RowKind = '='
	RowChanged RowKind = '|'
	RowRemoved RowKind = '<'
	RowAdded   RowKind = '>'
)

// Row is one line of a side-by-side view. Empty sides are "".
type Row struct {
	Kind   RowKind
	Source string
	Query  string
}

// Rows aligns source and query line by line.
func Rows(source, query string) ([]Row, error) {
	if source == "" && query == "" {
		return nil, ErrNothingToCompare
	}
	a := lines(source)
	b := lines(query)

	var rows []Row
	m := difflib.NewMatcherWithJunk(a, b, false, nil)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for i := op.I1; i < op.I2; i++ {
				rows = append(rows, Row{Kind: RowEqual, Source: a[i], Query: b[op.J1+i-op.I1]})
			}
		case 'd':
			for i := op.I1; i < op.I2; i++ {
				rows = append(rows, Row{Kind: RowRemoved, Source: a[i]})
			}
		case 'i':
			for j := op.J1; j < op.J2; j++ {
				rows = append(rows, Row{Kind: RowAdded, Query: b[j]})
			}
		case 'r':
			n := max(op.I2-op.I1, op.J2-op.J1)
			for k := 0; k < n; k++ {
				var r Row
				i, j := op.I1+k, op.J1+k
				if i < op.I2 {
					r.Source = a[i]
				}
				if j < op.J2 {
					r.Query = b[j]
				}
				switch {
				case i < op.I2 && j < op.J2:
					r.Kind = RowChanged
				case i < op.I2:
					r.Kind = RowRemoved
				default:
					r.Kind = RowAdded
				}
				rows = append(rows, r)
			}
		}
	}
	return rows, nil
}

// SideBySide renders Rows as two fixed-width columns with a marker between.
// Unless opts.Full is set, equal rows are omitted.
func SideBySide(source, query string, opts Options) (string, error) {
	rows, err := Rows(source, query)
	if err != nil {
		return "", err
	}
	opts = opts.withDefaults()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s   %s\n", pad(opts.SourceTitle, opts.Width), opts.QueryTitle)
	fmt.Fprintf(&sb, "%s   %s\n", strings.Repeat("-", opts.Width), strings.Repeat("-", opts.Width))
	for _, r := range rows {
		if r.Kind == RowEqual && !opts.Full {
			continue
		}
		marker := string(r.Kind)
		if r.Kind == RowEqual {
			marker = " "
		}
		fmt.Fprintf(&sb, "%s %s %s\n", pad(r.Source, opts.Width), marker, truncate(r.Query, opts.Width))
	}
	return sb.String(), nil
}

// Segment is a run of characters shared by both documents. Offsets are rune
// indexes.
type Segment struct {
	SourceStart int    `json:"source_start"`
	SourceEnd   int    `json:"source_end"`
	QueryStart  int    `json:"query_start"`
	QueryEnd    int    `json:"query_end"`
	Length      int    `json:"length"`
	Text        string `json:"text"`
}

// Comparison is the character-level similarity between two documents.
type Comparison struct {
	Ratio    float64   `json:"similarity"`
	Segments []Segment `json:"segments"`
}

// Compare finds shared runs of at least minLength characters
// (DefaultMinMatchLength when <= 0) and the overall similarity ratio.
func Compare(source, query string, minLength int) (*Comparison, error) {
	if source == "" && query == "" {
		return nil, ErrNothingToCompare
	}
	if minLength <= 0 {
		minLength = DefaultMinMatchLength
	}

	a := runes(source)
	b := runes(query)
	m := difflib.NewMatcherWithJunk(a, b, false, nil)

	out := &Comparison{Ratio: m.Ratio(), Segments: []Segment{}}
	for _, blk := range m.GetMatchingBlocks() {
		if blk.Size < minLength {
			continue
		}
		out.Segments = append(out.Segments, Segment{
			SourceStart: blk.A,
			SourceEnd:   blk.A + blk.Size,
			QueryStart:  blk.B,
			QueryEnd:    blk.B + blk.Size,
			Length:      blk.Size,
			Text:        strings.Join(a[blk.A:blk.A+blk.Size], ""),
		})
	}
	return out, nil
}

func lines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func runes(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	return string(r[:width-1]) + "…"
}

func pad(s string, width int) string {
	s = truncate(s, width)
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
