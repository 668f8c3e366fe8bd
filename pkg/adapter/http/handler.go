package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/internal/ratelimiter"
	"github.com/marmos91/dittomount/pkg/controlplane"
	"github.com/marmos91/dittomount/pkg/history"
	"github.com/marmos91/dittomount/pkg/journal"
	"github.com/marmos91/dittomount/pkg/metrics"
)

const (
	headerNonce     = "X-Nonce"
	headerImageSize = "X-Image-Size"
	headerCRC32     = "X-CRC32"
	headerImageName = "X-Image-Name"
	headerImageType = "X-Image-Type"

	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
	contentTypeZip    = "application/zip"

	activeDownloadPrefix   = "/active/download/"
	modifiedDownloadPrefix = "/modified/download/"
)

// route binds a path to its handler and allowed methods.
type route struct {
	name    string
	methods []string
	serve   func(w *responseWriter, r *http.Request)
}

func (rt route) allows(method string) bool {
	for _, m := range rt.methods {
		if m == method {
			return true
		}
	}
	return false
}

// handler dispatches control plane requests.
type handler struct {
	svc     *controlplane.Service
	history HistoryLister
	config  Config
	limiter *ratelimiter.RateLimiter
	metrics metrics.HTTPMetrics

	fixed map[string]route
}

func newHandler(svc *controlplane.Service, h HistoryLister, cfg Config, limiter *ratelimiter.RateLimiter, m metrics.HTTPMetrics) *handler {
	hd := &handler{
		svc:     svc,
		history: h,
		config:  cfg,
		limiter: limiter,
		metrics: m,
	}

	get := []string{http.MethodGet}
	upload := []string{http.MethodPut, http.MethodPost}

	hd.fixed = map[string]route{
		"/hello":                {name: "hello", methods: get, serve: hd.hello},
		"/upload/active":        {name: "upload", methods: upload, serve: hd.uploadReplace},
		"/upload/active/add":    {name: "upload_add", methods: upload, serve: hd.uploadAppend},
		"/upload/active/commit": {name: "commit", methods: []string{http.MethodPost}, serve: hd.commit},
		"/active/list":          {name: "active_list", methods: get, serve: hd.activeList},
		"/modified/list":        {name: "modified_list", methods: get, serve: hd.modifiedList},
		"/modified/archive.zip": {name: "modified_archive", methods: get, serve: hd.modifiedArchive},
		"/history/list":         {name: "history_list", methods: get, serve: hd.historyList},
	}
	return hd
}

// lookup resolves a path. A trailing slash is accepted on fixed routes.
func (hd *handler) lookup(path string) (route, bool) {
	if rt, ok := hd.fixed[path]; ok {
		return rt, true
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		if rt, ok := hd.fixed[strings.TrimSuffix(path, "/")]; ok {
			return rt, true
		}
	}

	switch {
	case strings.HasPrefix(path, activeDownloadPrefix):
		return route{name: "active_download", methods: []string{http.MethodGet}, serve: hd.activeDownload}, true
	case strings.HasPrefix(path, modifiedDownloadPrefix):
		return route{name: "modified_download", methods: []string{http.MethodGet}, serve: hd.modifiedDownload}, true
	}
	return route{}, false
}

func (hd *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt, ok := hd.lookup(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		hd.metrics.RecordRequest("unknown", http.StatusNotFound, "", 0)
		return
	}

	start := time.Now()
	hd.metrics.RecordRequestStart(rt.name)
	rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		hd.metrics.RecordRequestEnd(rt.name)
		hd.metrics.RecordRequest(rt.name, rw.status, rw.code, time.Since(start))
	}()

	if !rt.allows(r.Method) {
		http.Error(rw, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	logger.Debug("HTTP %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
	rt.serve(rw, r)
}

// ============================================================================
// Status
// ============================================================================

func (hd *handler) hello(w *responseWriter, r *http.Request) {
	hello, err := hd.svc.Hello(r.Context())
	if err != nil {
		logger.Error("hello: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	hd.writeJSON(w, hello)
}

// ============================================================================
// Upload and commit
// ============================================================================

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type uploadResponse struct {
	OK    bool   `json:"ok"`
	Name  string `json:"name"`
	Size  uint32 `json:"size"`
	CRC32 string `json:"crc32"`
}

type commitResponse struct {
	OK        bool `json:"ok"`
	Committed bool `json:"committed"`
}

func (hd *handler) uploadReplace(w *responseWriter, r *http.Request) {
	hd.upload(w, r, false)
}

func (hd *handler) uploadAppend(w *responseWriter, r *http.Request) {
	hd.upload(w, r, true)
}

func (hd *handler) upload(w *responseWriter, r *http.Request, appendMode bool) {
	if !hd.throttle(w, r) {
		return
	}

	// The nonce is checked before the body so that an oversized upload from
	// a stale session still gets BAD_NONCE rather than 413.
	if err := hd.svc.CheckNonce(r.Header.Get(headerNonce)); err != nil {
		hd.writeFailure(w, err)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, hd.config.MaxContentSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	hd.metrics.RecordBytesTransferred("in", int64(len(body)))

	res, err := hd.svc.Stage(r.Context(), controlplane.StageRequest{
		Nonce:  r.Header.Get(headerNonce),
		Size:   r.Header.Get(headerImageSize),
		CRC32:  r.Header.Get(headerCRC32),
		Name:   r.Header.Get(headerImageName),
		Type:   r.Header.Get(headerImageType),
		Body:   body,
		Append: appendMode,
	})
	if err != nil {
		hd.writeFailure(w, err)
		return
	}

	hd.writeJSON(w, uploadResponse{
		OK:    true,
		Name:  res.Name,
		Size:  res.Size,
		CRC32: fmt.Sprintf("%08x", res.CRC32),
	})

	if res.Committed {
		hd.svc.State().RequestTeardown()
	}
}

func (hd *handler) commit(w *responseWriter, r *http.Request) {
	if !hd.throttle(w, r) {
		return
	}

	if err := hd.svc.Commit(r.Context(), r.Header.Get(headerNonce)); err != nil {
		hd.writeFailure(w, err)
		return
	}

	hd.writeJSON(w, commitResponse{OK: true, Committed: true})
	hd.svc.State().RequestTeardown()
}

// throttle waits for the rate limiter. It writes 429 and returns false when
// the request context ends first.
func (hd *handler) throttle(w *responseWriter, r *http.Request) bool {
	if err := hd.limiter.Wait(r.Context()); err != nil {
		logger.Debug("HTTP %s throttled: %v", r.URL.Path, err)
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return false
	}
	return true
}

// writeFailure reports protocol errors in-band; anything else is a 500.
func (hd *handler) writeFailure(w *responseWriter, err error) {
	code := controlplane.CodeOf(err)
	if code == "" {
		logger.Error("HTTP request failed: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	logger.Debug("HTTP request rejected: %v", err)
	w.code = string(code)
	hd.writeJSON(w, errorResponse{OK: false, Error: string(code)})
}

// ============================================================================
// Listing
// ============================================================================

type listEntry struct {
	I    int    `json:"i"`
	Name string `json:"name"`
}

type listResponse struct {
	Count int         `json:"count"`
	Files []listEntry `json:"files"`
}

func newListResponse(names []string) listResponse {
	resp := listResponse{Count: len(names), Files: make([]listEntry, 0, len(names))}
	for i, name := range names {
		resp.Files = append(resp.Files, listEntry{I: i + 1, Name: name})
	}
	return resp
}

func (hd *handler) activeList(w *responseWriter, r *http.Request) {
	names, err := hd.svc.ActiveFiles(r.Context())
	if err != nil {
		logger.Warn("active list: %v", err)
		names = nil
	}
	hd.writeJSON(w, newListResponse(names))
}

func (hd *handler) modifiedList(w *responseWriter, r *http.Request) {
	entries, _, err := hd.svc.ModifiedFiles(r.Context())
	if err != nil {
		logger.Warn("modified list: %v", err)
		entries = nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.DisplayName)
	}
	hd.writeJSON(w, newListResponse(names))
}

type historyResponse struct {
	Count   int              `json:"count"`
	Commits []history.Commit `json:"commits"`
}

func (hd *handler) historyList(w *responseWriter, r *http.Request) {
	if hd.history == nil {
		http.NotFound(w, r)
		return
	}

	commits, err := hd.history.Recent(r.Context(), hd.config.HistoryLimit)
	if err != nil {
		logger.Error("history list: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if commits == nil {
		commits = []history.Commit{}
	}
	hd.writeJSON(w, historyResponse{Count: len(commits), Commits: commits})
}

// ============================================================================
// Downloads
// ============================================================================

func (hd *handler) activeDownload(w *responseWriter, r *http.Request) {
	index, ok := parseIndex(strings.TrimPrefix(r.URL.Path, activeDownloadPrefix))
	if !ok {
		http.NotFound(w, r)
		return
	}
	name, data, err := hd.svc.ReadActive(r.Context(), index, hd.config.MaxResponseSize)
	hd.writeDownload(w, r, name, data, err)
}

func (hd *handler) modifiedDownload(w *responseWriter, r *http.Request) {
	index, ok := parseIndex(strings.TrimPrefix(r.URL.Path, modifiedDownloadPrefix))
	if !ok {
		http.NotFound(w, r)
		return
	}
	entry, data, err := hd.svc.ReadModified(r.Context(), index, hd.config.MaxResponseSize)
	hd.writeDownload(w, r, entry.DisplayName, data, err)
}

func (hd *handler) writeDownload(w *responseWriter, r *http.Request, name string, data []byte, err error) {
	switch {
	case errors.Is(err, controlplane.ErrNotFound):
		http.NotFound(w, r)
		return
	case errors.Is(err, controlplane.ErrTooLarge):
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return
	case err != nil:
		logger.Error("download %s: %v", r.URL.Path, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeBinary)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name}); disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}
	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(data)
	hd.metrics.RecordBytesTransferred("out", int64(n))
}

func (hd *handler) modifiedArchive(w *responseWriter, r *http.Request) {
	entries, _, err := hd.svc.ModifiedFiles(r.Context())
	if err != nil {
		logger.Error("modified archive: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if len(entries) == 0 {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentTypeZip)
	w.Header().Set("Content-Disposition", `attachment; filename="modified.zip"`)
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	seen := make(map[string]bool, len(entries))
	written, err := hd.svc.WalkModified(r.Context(), func(e journal.Entry, src io.Reader) error {
		name := e.DisplayName
		for i := 2; seen[name]; i++ {
			name = fmt.Sprintf("%d_%s", i, e.DisplayName)
		}
		seen[name] = true

		dst, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
		if err != nil {
			return err
		}
		n, err := io.Copy(dst, src)
		hd.metrics.RecordBytesTransferred("out", n)
		return err
	})
	if err != nil {
		// Headers are already sent; the truncated archive fails to parse
		// on the client side.
		logger.Error("modified archive: aborted after %d entries: %v", written, err)
		return
	}
	if err := zw.Close(); err != nil {
		logger.Error("modified archive: %v", err)
		return
	}
	logger.Debug("modified archive: %d entries", written)
}

// parseIndex reads the leading decimal digits of s, so "3/game.d64" is 3.
// Index 0 and inputs without digits are rejected.
func parseIndex(s string) (int, bool) {
	end := 0
	for end < len(s) && end < 9 && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ============================================================================
// Response helpers
// ============================================================================

// writeJSON encodes v, failing closed with RESP_TOO_LARGE when the document
// exceeds MaxResponseSize.
func (hd *handler) writeJSON(w *responseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("HTTP encode response: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	status := http.StatusOK
	if int64(len(data)) > hd.config.MaxResponseSize {
		logger.Warn("HTTP response of %d bytes exceeds limit %d", len(data), hd.config.MaxResponseSize)
		w.code = string(controlplane.CodeRespTooLarge)
		data, _ = json.Marshal(errorResponse{OK: false, Error: string(controlplane.CodeRespTooLarge)})
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// responseWriter records the status and in-band code for metrics.
type responseWriter struct {
	http.ResponseWriter
	status      int
	code        string
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(p)
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
