package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/3leaps/plagctl/pkg/api"
	"github.com/3leaps/plagctl/pkg/similarity"
)

var sample = []api.HistoryItem{
	{ID: "h1", QueryName: "luan-van.pdf", OverallSimilarity: 85.5, MatchesCount: 3, PlagiarismLevel: similarity.LevelHigh, CreatedAt: "2026-10-01T08:30:00Z"},
	{ID: "h2", QueryName: "bai-tap.txt", OverallSimilarity: 0, MatchesCount: 0, CreatedAt: "not a time"},
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		raw     string
		want    Format
		wantErr bool
	}{
		{raw: "xlsx", want: FormatXLSX},
		{raw: " CSV ", want: FormatCSV},
		{raw: "pdf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseFormat(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatCSV, FormatForPath("out/History.CSV"))
	assert.Equal(t, FormatXLSX, FormatForPath("out/history.xlsx"))
	assert.Equal(t, FormatXLSX, FormatForPath("history"))
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSV(&buf, sample))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, []string{"h1", "luan-van.pdf", "85.5", "CAO", "3", "2026-10-01 08:30"}, rows[1])
	assert.Equal(t, []string{"h2", "bai-tap.txt", "0", "", "0", "not a time"}, rows[2])
}

func TestXLSX(t *testing.T) {
	b, err := XLSX(sample)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(HistorySheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "luan-van.pdf", rows[1][1])
	assert.Equal(t, "85.5", rows[1][2])
	assert.Equal(t, "CAO", rows[1][3])
	assert.Equal(t, "3", rows[1][4])
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, nil))
	assert.Equal(t, "ID,File,Similarity (%),Level,Matches,Created\n", buf.String())

	buf.Reset()
	require.NoError(t, Write(&buf, FormatXLSX, sample))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("PK")))

	assert.Error(t, Write(&buf, Format("pdf"), sample))
}
