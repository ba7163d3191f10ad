package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer outputs JSONL records for checks and job watches.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits a complete record as a
// single line of JSON followed by a newline.
type Writer interface {
	// WriteCheck emits a file submission record.
	WriteCheck(ctx context.Context, chk *CheckRecord) error

	// WriteProgress emits a job progress record.
	WriteProgress(ctx context.Context, prog *ProgressRecord) error

	// WriteResult emits a finished check result.
	WriteResult(ctx context.Context, res *ResultRecord) error

	// WriteNotification emits a polling notification.
	WriteNotification(ctx context.Context, n *NotificationRecord) error

	// WriteError emits an error record.
	WriteError(ctx context.Context, err *ErrorRecord) error

	// WriteSummary emits a summary record.
	WriteSummary(ctx context.Context, sum *SummaryRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// sink is the line-serialized destination shared by a writer and the
// writers derived from it with ForJob.
type sink struct {
	w  io.Writer
	mu sync.Mutex

	// closed indicates the writer has been closed.
	closed bool
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using
// a mutex to ensure atomic line writes (no interleaved output).
type JSONLWriter struct {
	out     *sink
	jobID   string
	backend string
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - jobID: Correlation ID stamped on every record
//   - backend: API base URL the records refer to
func NewJSONLWriter(w io.Writer, jobID, backend string) *JSONLWriter {
	return &JSONLWriter{
		out:     &sink{w: w},
		jobID:   jobID,
		backend: backend,
	}
}

// ForJob returns a writer that stamps records with jobID and shares the
// underlying output, lock and closed state with jw.
func (jw *JSONLWriter) ForJob(jobID string) *JSONLWriter {
	return &JSONLWriter{out: jw.out, jobID: jobID, backend: jw.backend}
}

// JobID returns the correlation id stamped on records.
func (jw *JSONLWriter) JobID() string {
	return jw.jobID
}

// WriteCheck emits a file submission record.
func (jw *JSONLWriter) WriteCheck(ctx context.Context, chk *CheckRecord) error {
	return jw.writeRecord(ctx, TypeCheck, chk)
}

// WriteProgress emits a job progress record.
func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.writeRecord(ctx, TypeProgress, prog)
}

// WriteResult emits a finished check result.
func (jw *JSONLWriter) WriteResult(ctx context.Context, res *ResultRecord) error {
	return jw.writeRecord(ctx, TypeResult, res)
}

func (jw *JSONLWriter) WriteNotification(ctx context.Context, n *NotificationRecord) error {
	return jw.writeRecord(ctx, TypeNotification, n)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// WriteSummary emits a summary record.
func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.writeRecord(ctx, TypeSummary, sum)
}

// Close marks the writer as closed. Writers derived with ForJob are closed
// too.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.out.mu.Lock()
	defer jw.out.mu.Unlock()

	jw.out.closed = true
	return nil
}

// writeRecord marshals data and writes a complete record line.
//
// The sink mutex is held for the write so that lines never interleave.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.out.mu.Lock()
	defer jw.out.mu.Unlock()

	if jw.out.closed {
		return ErrWriterClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type:    recordType,
		TS:      time.Now().UTC(),
		JobID:   jw.jobID,
		Backend: jw.backend,
		Data:    dataBytes,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a truncated line
	// would corrupt the stream.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.out.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

// Compile-time check that JSONLWriter implements Writer.
var _ Writer = (*JSONLWriter)(nil)
