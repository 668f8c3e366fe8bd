package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"strconv"
	"testing"
)

// runOnAllConfigs is a helper that runs a test on all configurations
func runOnAllConfigs(t *testing.T, testFunc func(t *testing.T, tc *TestContext)) {
	t.Helper()

	for _, cfg := range AllConfigurations() {
		t.Run(cfg.Name, func(t *testing.T) {
			tc := NewTestContext(t, cfg)
			defer tc.Cleanup()

			testFunc(t, tc)
		})
	}
}

// HelloResponse mirrors GET /hello
type HelloResponse struct {
	State         string `json:"state"`
	Nonce         uint32 `json:"nonce"`
	TCPPort       int    `json:"tcp_port"`
	ModifiedCount uint32 `json:"modified_count"`
	ModifiedID    uint32 `json:"modified_id"`
}

// UploadResponse mirrors the upload and commit responses
type UploadResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error"`
	Name      string `json:"name"`
	Size      uint32 `json:"size"`
	CRC32     string `json:"crc32"`
	Committed bool   `json:"committed"`
}

// ListResponse mirrors the list routes
type ListResponse struct {
	Count int `json:"count"`
	Files []struct {
		I    int    `json:"i"`
		Name string `json:"name"`
	} `json:"files"`
}

// Names returns the file names of a list response in order
func (l ListResponse) Names() []string {
	names := make([]string, 0, len(l.Files))
	for _, f := range l.Files {
		names = append(names, f.Name)
	}
	return names
}

// Hello calls GET /hello
func (tc *TestContext) Hello(t *testing.T) HelloResponse {
	t.Helper()
	var resp HelloResponse
	tc.getJSON(t, "/hello", &resp)
	return resp
}

// Upload sends one image with correct headers. Batch mode uses
// /upload/active/add, replace mode /upload/active.
func (tc *TestContext) Upload(t *testing.T, nonce uint32, name string, data []byte, batch bool) UploadResponse {
	t.Helper()
	return tc.UploadWithHeaders(t, data, batch, map[string]string{
		"X-Nonce":      strconv.FormatUint(uint64(nonce), 10),
		"X-Image-Size": strconv.Itoa(len(data)),
		"X-CRC32":      fmt.Sprintf("0x%08x", crc32.ChecksumIEEE(data)),
		"X-Image-Name": name,
	})
}

// UploadWithHeaders sends an upload with caller-controlled headers
func (tc *TestContext) UploadWithHeaders(t *testing.T, data []byte, batch bool, headers map[string]string) UploadResponse {
	t.Helper()

	route := "/upload/active"
	if batch {
		route = "/upload/active/add"
	}

	req, err := http.NewRequest(http.MethodPost, tc.URL(route), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	var resp UploadResponse
	tc.doJSON(t, req, &resp)
	return resp
}

// Commit calls POST /upload/active/commit
func (tc *TestContext) Commit(t *testing.T, nonce uint32) UploadResponse {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, tc.URL("/upload/active/commit"), nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("X-Nonce", strconv.FormatUint(uint64(nonce), 10))

	var resp UploadResponse
	tc.doJSON(t, req, &resp)
	return resp
}

// List calls a list route
func (tc *TestContext) List(t *testing.T, route string) ListResponse {
	t.Helper()
	var resp ListResponse
	tc.getJSON(t, route, &resp)
	return resp
}

// Get performs a GET and returns status and body
func (tc *TestContext) Get(t *testing.T, route string) (int, []byte) {
	t.Helper()

	resp, err := tc.Client.Get(tc.URL(route))
	if err != nil {
		t.Fatalf("GET %s failed: %v", route, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", route, err)
	}
	return resp.StatusCode, body
}

func (tc *TestContext) getJSON(t *testing.T, route string, v any) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, tc.URL(route), nil)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	tc.doJSON(t, req, v)
}

func (tc *TestContext) doJSON(t *testing.T, req *http.Request, v any) {
	t.Helper()

	resp, err := tc.Client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", req.Method, req.URL.Path, err)
	}
}
