package api

import (
	"encoding/json"
	"time"

	"github.com/3leaps/plagctl/pkg/similarity"
)

// SourceMatch is one corpus document similar to the checked file.
type SourceMatch struct {
	Title      string  `json:"title" yaml:"title"`
	Author     string  `json:"author" yaml:"author"`
	University string  `json:"university" yaml:"university"`
	Year       *int    `json:"year" yaml:"year"`
	Similarity float64 `json:"similarity" yaml:"similarity"` // percent
}

// CheckResult is the full result of a plagiarism check.
//
// Similarities are percentages in [0,100].
type CheckResult struct {
	Filename          string           `json:"filename" yaml:"filename"`
	IsPlagiarized     bool             `json:"is_plagiarized" yaml:"is_plagiarized"`
	OverallSimilarity float64          `json:"overall_similarity" yaml:"overall_similarity"`
	PlagiarismLevel   similarity.Level `json:"plagiarism_level" yaml:"plagiarism_level"`
	WordCount         int              `json:"word_count" yaml:"word_count"`
	ProcessingTimeMS  int64            `json:"processing_time_ms" yaml:"processing_time_ms"`
	CorpusSize        int              `json:"corpus_size" yaml:"corpus_size"`
	Matches           []SourceMatch    `json:"matches" yaml:"matches"`
}

// JobAccepted is the response of an asynchronous submission.
type JobAccepted struct {
	JobID   string `json:"job_id" yaml:"job_id"`
	Status  string `json:"status,omitempty" yaml:"status,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// CheckResponse is the outcome of Check. Exactly one field is set.
type CheckResponse struct {
	// Result is set when the backend answered synchronously.
	Result *CheckResult

	// Job is set when the backend queued the check for polling.
	Job *JobAccepted
}

// Async reports whether the check must be polled.
func (r *CheckResponse) Async() bool {
	return r != nil && r.Job != nil
}

// HistoryItem is one row of the check history.
type HistoryItem struct {
	ID                string           `json:"id" yaml:"id"`
	QueryName         string           `json:"query_name" yaml:"query_name"`
	OverallSimilarity float64          `json:"overall_similarity" yaml:"overall_similarity"`
	MatchesCount      int              `json:"matches_count" yaml:"matches_count"`
	PlagiarismLevel   similarity.Level `json:"plagiarism_level,omitempty" yaml:"plagiarism_level,omitempty"`
	CreatedAt         string           `json:"created_at" yaml:"created_at"`
}

// CreatedTime parses CreatedAt. Unparseable values return the zero time.
func (h HistoryItem) CreatedTime() time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, h.CreatedAt); err == nil {
			return t
		}
	}
	return time.Time{}
}

// HistoryPage is one page of history.
type HistoryPage struct {
	Items    []HistoryItem `json:"items" yaml:"items"`
	Total    int           `json:"total" yaml:"total"`
	Page     int           `json:"page" yaml:"page"`
	PageSize int           `json:"page_size" yaml:"page_size"`
}

// ComparisonMatch is one source of a stored comparison.
type ComparisonMatch struct {
	SourceID        string  `json:"source_id" yaml:"source_id"`
	SourceName      string  `json:"source_name" yaml:"source_name"`
	Similarity      float64 `json:"similarity" yaml:"similarity"`
	MatchedSegments int     `json:"matched_segments" yaml:"matched_segments"`
}

// ComparisonResult is a stored comparison between a query document and its
// sources.
type ComparisonResult struct {
	QueryID           string            `json:"query_id" yaml:"query_id"`
	QueryName         string            `json:"query_name" yaml:"query_name"`
	OverallSimilarity float64           `json:"overall_similarity" yaml:"overall_similarity"`
	Matches           []ComparisonMatch `json:"matches" yaml:"matches"`
	CreatedAt         string            `json:"created_at" yaml:"created_at"`
}

// DocumentContent is the plain-text content of a document.
type DocumentContent struct {
	Content string `json:"content"`
}

// CorpusStats summarizes the reference corpus.
type CorpusStats struct {
	TotalDocuments int     `json:"total_documents" yaml:"total_documents"`
	Threshold      float64 `json:"threshold" yaml:"threshold"`
	Status         string  `json:"status" yaml:"status"`
}

// HealthStatus is the response of GET /health.
type HealthStatus struct {
	Status  string `json:"status" yaml:"status"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Token is the response of the auth endpoints.
type Token struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Credentials are sent to login and register.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Download describes a downloaded history file.
type Download struct {
	Filename    string
	ContentType string
	Size        int64
}

// jobStatusWire is the wire shape of GET /jobs/{id}/status.
type jobStatusWire struct {
	JobID    string          `json:"job_id"`
	Status   string          `json:"status"`
	Progress *float64        `json:"progress"`
	Result   json.RawMessage `json:"result"`
	Error    *string         `json:"error"`
}

// errorBody covers the error shapes the backend emits:
//
//	{"detail": "text"}
//	{"detail": {"code": "...", "message": "..."}}
//	{"error": {"code": "...", "message": "..."}}
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Error  *errorDetail    `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
