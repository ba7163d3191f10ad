package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/plagctl/pkg/similarity"
)

const testBackend = "http://localhost:8000/api/v1"

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", testBackend)

	assert.NotNil(t, w)
	assert.Equal(t, "job-123", w.JobID())
	assert.Equal(t, testBackend, w.backend)
}

func decodeLine(t *testing.T, line []byte, data any) Record {
	t.Helper()
	var record Record
	require.NoError(t, json.Unmarshal(line, &record))
	if data != nil {
		require.NoError(t, json.Unmarshal(record.Data, data))
	}
	return record
}

func TestJSONLWriter_WriteCheck(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", testBackend)

	err := w.WriteCheck(context.Background(), &CheckRecord{
		File:  "essays/thesis.pdf",
		Mode:  ModeAsync,
		JobID: "job-123",
		Size:  1048576,
	})
	require.NoError(t, err)

	var chk CheckRecord
	record := decodeLine(t, buf.Bytes(), &chk)

	assert.Equal(t, TypeCheck, record.Type)
	assert.Equal(t, "job-123", record.JobID)
	assert.Equal(t, testBackend, record.Backend)
	assert.False(t, record.TS.IsZero())

	assert.Equal(t, "essays/thesis.pdf", chk.File)
	assert.Equal(t, ModeAsync, chk.Mode)
	assert.Equal(t, int64(1048576), chk.Size)
}

func TestJSONLWriter_WriteProgress(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", testBackend)

	err := w.WriteProgress(context.Background(), &ProgressRecord{
		Phase:    "polling",
		Status:   "processing",
		Progress: 40,
		Attempts: 3,
		Elapsed:  6 * time.Second,
	})
	require.NoError(t, err)

	var prog ProgressRecord
	record := decodeLine(t, buf.Bytes(), &prog)

	assert.Equal(t, TypeProgress, record.Type)
	assert.Equal(t, "polling", prog.Phase)
	assert.Equal(t, "processing", prog.Status)
	assert.Equal(t, 40.0, prog.Progress)
	assert.Equal(t, 3, prog.Attempts)
	assert.Equal(t, 6*time.Second, prog.Elapsed)
	assert.NotContains(t, buf.String(), "consecutive_errors")
}

func TestJSONLWriter_WriteResult(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", testBackend)

	err := w.WriteResult(context.Background(), &ResultRecord{
		File:              "thesis.pdf",
		ResultID:          "r-1",
		OverallSimilarity: 72.5,
		Level:             similarity.LevelHigh,
		Plagiarized:       true,
		Matches:           2,
		TopMatch:          "Ứng dụng học máy",
	})
	require.NoError(t, err)

	var res ResultRecord
	record := decodeLine(t, buf.Bytes(), &res)

	assert.Equal(t, TypeResult, record.Type)
	assert.Equal(t, similarity.LevelHigh, res.Level)
	assert.Equal(t, 72.5, res.OverallSimilarity)
	assert.Equal(t, "Ứng dụng học máy", res.TopMatch)
}

func TestJSONLWriter_WriteNotificationAndError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", testBackend)
	ctx := context.Background()

	require.NoError(t, w.WriteNotification(ctx, &NotificationRecord{Kind: "timeout", Title: "Timeout", Message: "too slow"}))
	require.NoError(t, w.WriteError(ctx, &ErrorRecord{Code: ErrCodeTimeout, Message: "too slow", File: "a.pdf"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var n NotificationRecord
	assert.Equal(t, TypeNotification, decodeLine(t, []byte(lines[0]), &n).Type)
	assert.Equal(t, "timeout", n.Kind)

	var e ErrorRecord
	assert.Equal(t, TypeError, decodeLine(t, []byte(lines[1]), &e).Type)
	assert.Equal(t, ErrCodeTimeout, e.Code)
	assert.Equal(t, "a.pdf", e.File)
}

func TestJSONLWriter_WriteSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "batch-1", testBackend)

	err := w.WriteSummary(context.Background(), &SummaryRecord{
		Files:         3,
		Completed:     2,
		Failed:        1,
		HighestLevel:  similarity.LevelMedium,
		Duration:      30 * time.Second,
		DurationHuman: "30s",
	})
	require.NoError(t, err)

	var sum SummaryRecord
	record := decodeLine(t, buf.Bytes(), &sum)

	assert.Equal(t, TypeSummary, record.Type)
	assert.Equal(t, 3, sum.Files)
	assert.Equal(t, 2, sum.Completed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, similarity.LevelMedium, sum.HighestLevel)
	assert.Equal(t, 30*time.Second, sum.Duration)
}

func TestJSONLWriter_ForJobSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "batch-1", testBackend)
	child := w.ForJob("job-9")
	ctx := context.Background()

	require.NoError(t, w.WriteCheck(ctx, &CheckRecord{File: "a.txt", Mode: ModeSync}))
	require.NoError(t, child.WriteProgress(ctx, &ProgressRecord{Phase: "polling"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "batch-1", decodeLine(t, []byte(lines[0]), nil).JobID)
	second := decodeLine(t, []byte(lines[1]), nil)
	assert.Equal(t, "job-9", second.JobID)
	assert.Equal(t, testBackend, second.Backend)

	require.NoError(t, w.Close())
	assert.ErrorIs(t, child.WriteProgress(ctx, &ProgressRecord{}), ErrWriterClosed)
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", testBackend)

	require.NoError(t, w.Close())

	err := w.WriteCheck(context.Background(), &CheckRecord{File: "file.txt"})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", testBackend)

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)

	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			defer wg.Done()
			jw := w.ForJob("job")
			for j := 0; j < writesPerWriter; j++ {
				_ = jw.WriteProgress(context.Background(), &ProgressRecord{
					Phase:    "polling",
					Attempts: writerID*writesPerWriter + j,
				})
			}
		}(i)
	}

	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)

	for i, line := range lines {
		var record Record
		err := json.Unmarshal([]byte(line), &record)
		assert.NoError(t, err, "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "job-123", testBackend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteProgress(ctx, &ProgressRecord{Phase: "polling"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	w := NewJSONLWriter(&failingWriter{err: errors.New("disk full")}, "job-123", testBackend)

	err := w.WriteCheck(context.Background(), &CheckRecord{File: "file.txt"})
	require.Error(t, err)

	var writeErr *WriteError
	assert.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)
}

// failingWriter is an io.Writer that always returns an error.
type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	shortWriter := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(shortWriter, "job-123", testBackend)

	err := w.WriteResult(context.Background(), &ResultRecord{File: "thesis.pdf", Level: similarity.LevelLow})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(shortWriter.buf.String()), "\n")
	assert.Len(t, lines, 1)
	assert.Equal(t, TypeResult, decodeLine(t, []byte(lines[0]), nil).Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(&zeroWriteWriter{}, "job-123", testBackend)

	err := w.WriteCheck(context.Background(), &CheckRecord{File: "file.txt"})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter writes at most bytesPerWrite bytes per call.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

// zeroWriteWriter always returns 0 bytes written with nil error.
type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestErrorRecord_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(ErrorRecord{Code: ErrCodeInternal, Message: "Something went wrong"})
	require.NoError(t, err)

	assert.NotContains(t, string(data), "file")
	assert.NotContains(t, string(data), "details")
}

func BenchmarkJSONLWriter_WriteProgress(b *testing.B) {
	w := NewJSONLWriter(io.Discard, "job-123", testBackend)
	prog := &ProgressRecord{Phase: "polling", Status: "processing", Progress: 42, Attempts: 7}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteProgress(ctx, prog)
	}
}
