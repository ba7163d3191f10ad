package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/3leaps/plagctl/internal/server/middleware"
	"github.com/3leaps/plagctl/pkg/similarity"
	"github.com/3leaps/plagctl/pkg/validate"
)

const (
	maxHistory     = 100
	maxMatches     = 10
	minMatchScore  = 0.2
	shingleSize    = 3
	maxUploadBytes = validate.MaxFileSize + 1<<20
)

// CorpusDocument is a reference document the stub compares uploads against.
type CorpusDocument struct {
	ID         string
	Title      string
	Author     string
	University string
	Year       int
	Content    string
}

// JobFrame is one scripted answer of GET /jobs/{id}/status. A non-zero
// HTTPStatus answers with that error status instead of a payload.
type JobFrame struct {
	Status     string
	Progress   float64
	Result     json.RawMessage
	Error      string
	HTTPStatus int
}

type job struct {
	id      string
	frames  []JobFrame
	polls   int
	retries int
}

type historyEntry struct {
	ID                string           `json:"id"`
	QueryName         string           `json:"query_name"`
	OverallSimilarity float64          `json:"overall_similarity"`
	MatchesCount      int              `json:"matches_count"`
	PlagiarismLevel   similarity.Level `json:"plagiarism_level"`
	CreatedAt         string           `json:"created_at"`

	file     []byte
	content  string
	dropped  bool
	matchIDs []string
	scores   []float64
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithAsyncChecks makes POST /plagiarism/check answer 202 with a job id.
func WithAsyncChecks() BackendOption {
	return func(b *Backend) { b.async = true }
}

// WithRequireAuth rejects unauthenticated requests to non-auth routes.
func WithRequireAuth() BackendOption {
	return func(b *Backend) { b.requireAuth = true }
}

// WithCorpus replaces the reference corpus.
func WithCorpus(docs ...CorpusDocument) BackendOption {
	return func(b *Backend) { b.corpus = append([]CorpusDocument(nil), docs...) }
}

// WithNow overrides the clock used for timestamps.
func WithNow(now func() time.Time) BackendOption {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// Backend is an in-memory implementation of the plagiarism-check REST API.
//
// It exists for local development (plagctl serve) and as the test double of
// the API client. Scores are word-shingle containment against the corpus.
type Backend struct {
	mu sync.Mutex

	corpus  []CorpusDocument
	history []*historyEntry // newest first
	jobs    map[string]*job

	users   map[string]string // email -> password
	tokens  map[string]string // access token -> email
	refresh map[string]string // refresh token -> email

	async       bool
	requireAuth bool
	now         func() time.Time
}

// NewBackend creates a stub backend with the default demo corpus.
func NewBackend(opts ...BackendOption) *Backend {
	b := &Backend{
		corpus:  DefaultCorpus(),
		jobs:    make(map[string]*job),
		users:   make(map[string]string),
		tokens:  make(map[string]string),
		refresh: make(map[string]string),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DefaultCorpus returns a small demo corpus.
func DefaultCorpus() []CorpusDocument {
	return []CorpusDocument{
		{
			ID: "doc-ml-vn", Title: "Ứng dụng học máy trong xử lý ngôn ngữ tiếng Việt",
			Author: "Nguyễn Văn A", University: "ĐH Bách Khoa Hà Nội", Year: 2021,
			Content: "học máy được ứng dụng rộng rãi trong xử lý ngôn ngữ tự nhiên tiếng việt bao gồm tách từ gán nhãn từ loại và nhận dạng thực thể",
		},
		{
			ID: "doc-lsh", Title: "Locality sensitive hashing for near duplicate detection",
			Author: "Tran Thi B", University: "VNU-HCM", Year: 2019,
			Content: "locality sensitive hashing with minhash signatures finds near duplicate documents by comparing shingle sets in sublinear time",
		},
		{
			ID: "doc-net", Title: "Mạng máy tính căn bản",
			Author: "Lê Văn C", University: "ĐH Cần Thơ", Year: 2018,
			Content: "mạng máy tính là tập hợp các thiết bị kết nối với nhau để trao đổi dữ liệu thông qua các giao thức truyền thông",
		},
	}
}

// ScriptJob registers a job whose status endpoint answers frames in order;
// the last frame repeats.
func (b *Backend) ScriptJob(id string, frames ...JobFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[id] = &job{id: id, frames: frames}
}

// Polls returns how many times the status of job id was fetched.
func (b *Backend) Polls(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[id]; ok {
		return j.polls
	}
	return 0
}

// Retries returns how many retry requests job id received.
func (b *Backend) Retries(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[id]; ok {
		return j.retries
	}
	return 0
}

// IssueToken registers a user and returns a valid access token.
func (b *Backend) IssueToken(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.users[email]; !ok {
		b.users[email] = ""
	}
	access, _ := b.issueLocked(email)
	return access
}

// RevokeTokens invalidates every issued token.
func (b *Backend) RevokeTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = make(map[string]string)
	b.refresh = make(map[string]string)
}

// DropFile forgets the uploaded file of a history item, as the backend does
// after processing.
func (b *Backend) DropFile(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.history {
		if h.ID == id {
			h.dropped = true
			h.file = nil
		}
	}
}

// HistoryLen returns the number of history items.
func (b *Backend) HistoryLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history)
}

// Routes mounts the API on r. Paths are relative to the API prefix.
func (b *Backend) Routes(r chi.Router) {
	r.Post("/auth/register", b.handleRegister)
	r.Post("/auth/login", b.handleLogin)
	r.Post("/auth/refresh", b.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(b.authenticate)

		r.Get("/auth/me", b.handleMe)
		r.Post("/auth/logout", b.handleLogout)

		r.Post("/plagiarism/check", b.handleCheck)
		r.Get("/plagiarism/corpus/stats", b.handleCorpusStats)
		r.Get("/plagiarism/history", b.handleHistory)
		r.Delete("/plagiarism/history", b.handleClearHistory)
		r.Delete("/plagiarism/history/{id}", b.handleDeleteHistory)
		r.Get("/plagiarism/history/{id}/download", b.handleDownload)

		r.Get("/jobs/{id}/status", b.handleJobStatus)
		r.Post("/check/{id}/cancel", b.handleCancel)
		r.Post("/check/{id}/retry", b.handleRetry)

		r.Get("/comparisons/{id}", b.handleComparison)
		r.Get("/documents/{id}/content", b.handleDocumentContent)
	})
}

// authenticate enforces bearer tokens. With auth optional, a presented but
// unknown token still yields 401.
func (b *Backend) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		needAuth := b.requireAuth || r.URL.Path == "/auth/me" || strings.HasSuffix(r.URL.Path, "/auth/me")

		b.mu.Lock()
		_, known := b.tokens[token]
		b.mu.Unlock()

		if token != "" && !known {
			middleware.WriteError(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "Token không hợp lệ hoặc đã hết hạn", nil)
			return
		}
		if needAuth && token == "" {
			middleware.WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Not authenticated", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (b *Backend) handleRegister(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil || c.Email == "" || c.Password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "email and password are required")
		return
	}

	b.mu.Lock()
	if _, exists := b.users[c.Email]; exists {
		b.mu.Unlock()
		middleware.WriteError(w, r, http.StatusBadRequest, "EMAIL_EXISTS", "Email đã được đăng ký", nil)
		return
	}
	b.users[c.Email] = c.Password
	access, refresh := b.issueLocked(c.Email)
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{
		"access_token": access, "refresh_token": refresh, "token_type": "bearer",
	})
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil || c.Email == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "email and password are required")
		return
	}

	b.mu.Lock()
	pw, ok := b.users[c.Email]
	if !ok || pw != c.Password {
		b.mu.Unlock()
		middleware.WriteError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Email hoặc mật khẩu không đúng", nil)
		return
	}
	access, refresh := b.issueLocked(c.Email)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": access, "refresh_token": refresh, "token_type": "bearer",
	})
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	b.mu.Lock()
	email, ok := b.refresh[body.RefreshToken]
	if !ok {
		b.mu.Unlock()
		middleware.WriteError(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "Refresh token không hợp lệ", nil)
		return
	}
	delete(b.refresh, body.RefreshToken)
	access, refresh := b.issueLocked(email)
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": access, "refresh_token": refresh, "token_type": "bearer",
	})
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	email := b.tokens[bearerToken(r)]
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":            uuid.NewSHA1(uuid.NameSpaceOID, []byte(email)).String(),
		"email":         email,
		"tier":          "free",
		"daily_uploads": 0,
		"daily_checks":  0,
		"created_at":    b.now().UTC().Format(time.RFC3339),
	})
}

func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	delete(b.tokens, bearerToken(r))
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) issueLocked(email string) (access, refresh string) {
	access = "at-" + uuid.NewString()
	refresh = "rt-" + uuid.NewString()
	b.tokens[access] = email
	b.refresh[refresh] = email
	return access, refresh
}

func (b *Backend) handleCheck(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "field required: file")
		return
	}
	defer func() { _ = file.Close() }()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedUpload(ext) {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Chỉ hỗ trợ: %s", strings.Join(validate.AllowedExtensions, ", ")))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusRequestEntityTooLarge, "File quá lớn")
		return
	}

	start := b.now()
	result, entry := b.score(header.Filename, data)
	result["processing_time_ms"] = b.now().Sub(start).Milliseconds()

	b.mu.Lock()
	b.history = append([]*historyEntry{entry}, b.history...)
	if len(b.history) > maxHistory {
		b.history = b.history[:maxHistory]
	}

	if !b.async {
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, result)
		return
	}

	raw, _ := json.Marshal(result)
	jobID := uuid.NewString()
	b.jobs[jobID] = &job{id: jobID, frames: []JobFrame{
		{Status: "pending", Progress: 0},
		{Status: "processing", Progress: 40},
		{Status: "processing", Progress: 80},
		{Status: "done", Progress: 100, Result: raw},
	}}
	b.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":  jobID,
		"status":  "pending",
		"message": "File đã được tải lên và đang chờ xử lý",
	})
}

func allowedUpload(ext string) bool {
	for _, a := range validate.AllowedExtensions {
		if a == ext {
			return true
		}
	}
	return false
}

// score compares an upload with the corpus and builds the result payload and
// its history entry.
func (b *Backend) score(name string, data []byte) (map[string]interface{}, *historyEntry) {
	text := string(data)
	words := tokenize(text)
	query := shingles(words)

	type scored struct {
		doc   CorpusDocument
		score float64
	}
	var found []scored
	for _, doc := range b.corpus {
		s := containment(query, shingles(tokenize(doc.Content)))
		if s >= minMatchScore {
			found = append(found, scored{doc: doc, score: s})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].score > found[j].score })
	if len(found) > maxMatches {
		found = found[:maxMatches]
	}

	overall := 0.0
	if len(found) > 0 {
		overall = found[0].score
	}
	level := similarity.LevelForFraction(overall)

	matches := make([]map[string]interface{}, 0, len(found))
	entry := &historyEntry{
		ID:                uuid.NewString(),
		QueryName:         name,
		OverallSimilarity: round2(overall * 100),
		MatchesCount:      len(found),
		PlagiarismLevel:   level,
		CreatedAt:         b.now().UTC().Format(time.RFC3339),
		file:              data,
		content:           text,
	}
	for _, f := range found {
		var year interface{}
		if f.doc.Year > 0 {
			year = f.doc.Year
		}
		matches = append(matches, map[string]interface{}{
			"title":      f.doc.Title,
			"author":     f.doc.Author,
			"university": f.doc.University,
			"year":       year,
			"similarity": round2(f.score * 100),
		})
		entry.matchIDs = append(entry.matchIDs, f.doc.ID)
		entry.scores = append(entry.scores, f.score)
	}

	return map[string]interface{}{
		"filename":           name,
		"is_plagiarized":     level != similarity.LevelNone,
		"overall_similarity": round2(overall * 100),
		"plagiarism_level":   level,
		"word_count":         len(words),
		"corpus_size":        len(b.corpus),
		"matches":            matches,
	}, entry
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func shingles(words []string) map[string]struct{} {
	set := make(map[string]struct{})
	if len(words) < shingleSize {
		if len(words) > 0 {
			set[strings.Join(words, " ")] = struct{}{}
		}
		return set
	}
	for i := 0; i+shingleSize <= len(words); i++ {
		set[strings.Join(words[i:i+shingleSize], " ")] = struct{}{}
	}
	return set
}

// containment is |q ∩ s| / |q|.
func containment(q, s map[string]struct{}) float64 {
	if len(q) == 0 {
		return 0
	}
	n := 0
	for k := range q {
		if _, ok := s[k]; ok {
			n++
		}
	}
	return float64(n) / float64(len(q))
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func (b *Backend) handleCorpusStats(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	n := len(b.corpus)
	b.mu.Unlock()

	status := "ready"
	if n == 0 {
		status = "empty"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_documents": n,
		"threshold":       0.3,
		"status":          status,
	})
}

func (b *Backend) handleHistory(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 10)
	if page < 1 || pageSize < 1 || pageSize > 50 {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid pagination")
		return
	}

	b.mu.Lock()
	total := len(b.history)
	start := (page - 1) * pageSize
	items := make([]historyEntry, 0, pageSize)
	for i := start; i < total && i < start+pageSize; i++ {
		items = append(items, *b.history[i])
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":     items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (b *Backend) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.history {
		if h.ID == id {
			b.history = append(b.history[:i], b.history[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted successfully"})
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "History item not found")
}

func (b *Backend) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "History cleared"})
}

func (b *Backend) handleDownload(w http.ResponseWriter, r *http.Request) {
	h := b.findHistory(chi.URLParam(r, "id"))
	if h == nil {
		writeDetail(w, http.StatusNotFound, "History item not found")
		return
	}
	if h.dropped {
		writeDetail(w, http.StatusNotFound, "File no longer exists. Files are automatically deleted after processing.")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.QueryName))
	w.Header().Set("Content-Length", strconv.Itoa(len(h.file)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.file)
}

func (b *Backend) findHistory(id string) *historyEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.history {
		if h.ID == id {
			cp := *h
			return &cp
		}
	}
	return nil
}

func (b *Backend) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	j, ok := b.jobs[id]
	if !ok {
		b.mu.Unlock()
		middleware.WriteError(w, r, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return
	}
	idx := j.polls
	if idx >= len(j.frames) {
		idx = len(j.frames) - 1
	}
	j.polls++
	var frame JobFrame
	if idx >= 0 {
		frame = j.frames[idx]
	}
	b.mu.Unlock()

	if frame.HTTPStatus != 0 {
		middleware.WriteError(w, r, frame.HTTPStatus, "UPSTREAM_ERROR", http.StatusText(frame.HTTPStatus), nil)
		return
	}

	body := map[string]interface{}{
		"job_id":     id,
		"status":     frame.Status,
		"progress":   frame.Progress,
		"created_at": b.now().UTC().Format(time.RFC3339),
	}
	if len(frame.Result) > 0 {
		body["result"] = frame.Result
	}
	if frame.Error != "" {
		body["error"] = frame.Error
	}
	writeJSON(w, http.StatusOK, body)
}

func (b *Backend) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	j, ok := b.jobs[id]
	if ok {
		j.frames = []JobFrame{{Status: "cancelled"}}
		j.polls = 0
	}
	b.mu.Unlock()

	if !ok {
		middleware.WriteError(w, r, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "job_id": id})
}

func (b *Backend) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	j, ok := b.jobs[id]
	if ok {
		j.polls = 0
		j.retries++
	}
	b.mu.Unlock()

	if !ok {
		middleware.WriteError(w, r, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":  id,
		"status":  "pending",
		"message": "Job đã được đưa vào hàng đợi lại",
	})
}

func (b *Backend) handleComparison(w http.ResponseWriter, r *http.Request) {
	h := b.findHistory(chi.URLParam(r, "id"))
	if h == nil {
		writeDetail(w, http.StatusNotFound, "Comparison not found")
		return
	}

	b.mu.Lock()
	titles := make(map[string]string, len(b.corpus))
	for _, d := range b.corpus {
		titles[d.ID] = d.Title
	}
	b.mu.Unlock()

	matches := make([]map[string]interface{}, 0, len(h.matchIDs))
	for i, id := range h.matchIDs {
		matches = append(matches, map[string]interface{}{
			"source_id":        id,
			"source_name":      titles[id],
			"similarity":       h.scores[i],
			"matched_segments": 1,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query_id":           h.ID,
		"query_name":         h.QueryName,
		"overall_similarity": h.OverallSimilarity / 100,
		"matches":            matches,
		"created_at":         h.CreatedAt,
	})
}

func (b *Backend) handleDocumentContent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	for _, d := range b.corpus {
		if d.ID == id {
			b.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]string{"content": d.Content})
			return
		}
	}
	b.mu.Unlock()

	if h := b.findHistory(id); h != nil {
		writeJSON(w, http.StatusOK, map[string]string{"content": h.content})
		return
	}
	writeDetail(w, http.StatusNotFound, "Document not found")
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail answers with the {"detail": "..."} error shape.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
