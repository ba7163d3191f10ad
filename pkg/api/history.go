package api

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// History fetches one page of GET /plagiarism/history.
func (c *Client) History(ctx context.Context, page, pageSize int) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	var out HistoryPage
	if err := c.getJSON(ctx, "History", "plagiarism/history", q, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = []HistoryItem{}
	}
	if out.Page == 0 {
		out.Page = page
	}
	if out.PageSize == 0 {
		out.PageSize = pageSize
	}
	return &out, nil
}

// HistoryAll walks every history page up to limit items (0 = no limit).
func (c *Client) HistoryAll(ctx context.Context, pageSize, limit int) ([]HistoryItem, error) {
	if pageSize < 1 {
		pageSize = 50
	}
	var all []HistoryItem
	for page := 1; ; page++ {
		p, err := c.History(ctx, page, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Items...)
		if limit > 0 && len(all) >= limit {
			return all[:limit], nil
		}
		if len(p.Items) == 0 || len(p.Items) < pageSize || len(all) >= p.Total {
			return all, nil
		}
	}
}

// DeleteHistory removes one history item.
func (c *Client) DeleteHistory(ctx context.Context, id string) error {
	pid, err := pathID(id)
	if err != nil {
		return err
	}
	return c.sendJSON(ctx, "DeleteHistory", http.MethodDelete, "plagiarism/history/"+pid, nil, nil, nil)
}

// ClearHistory removes every history item.
func (c *Client) ClearHistory(ctx context.Context) error {
	return c.sendJSON(ctx, "ClearHistory", http.MethodDelete, "plagiarism/history", nil, nil, nil)
}

// DownloadHistory streams the original uploaded file of a history item to w.
//
// The filename comes from Content-Disposition when the backend sends one. A
// file removed by the backend yields an error matching ErrNotFound.
func (c *Client) DownloadHistory(ctx context.Context, id string, w io.Writer) (*Download, error) {
	pid, err := pathID(id)
	if err != nil {
		return nil, err
	}

	resp, requestID, err := c.do(ctx, request{
		op:     "DownloadHistory",
		method: http.MethodGet,
		path:   "plagiarism/history/" + pid + "/download",
		accept: "*/*",
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "DownloadHistory", StatusCode: resp.StatusCode, RequestID: requestID, Err: err}
	}

	return &Download{
		Filename:    filenameFromDisposition(resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
		Size:        n,
	}, nil
}

// filenameFromDisposition returns the base file name of a Content-Disposition
// header, or "" when absent.
func filenameFromDisposition(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if name == "" {
		return ""
	}
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

// Comparison fetches a stored comparison by query id.
func (c *Client) Comparison(ctx context.Context, queryID string) (*ComparisonResult, error) {
	id, err := pathID(queryID)
	if err != nil {
		return nil, err
	}
	var out ComparisonResult
	if err := c.getJSON(ctx, "Comparison", "comparisons/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DocumentContent fetches the plain-text content of a document.
func (c *Client) DocumentContent(ctx context.Context, documentID string) (string, error) {
	id, err := pathID(documentID)
	if err != nil {
		return "", err
	}
	var out DocumentContent
	if err := c.getJSON(ctx, "DocumentContent", "documents/"+id+"/content", nil, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// CorpusStats fetches GET /plagiarism/corpus/stats.
func (c *Client) CorpusStats(ctx context.Context) (*CorpusStats, error) {
	var out CorpusStats
	if err := c.getJSON(ctx, "CorpusStats", "plagiarism/corpus/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches GET /health.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.getJSON(ctx, "Health", "health", nil, &out); err != nil {
		return nil, err
	}
	if out.Status == "" {
		return nil, &TransportError{Op: "Health", Err: fmt.Errorf("%w: missing status", ErrInvalidResponse)}
	}
	return &out, nil
}
