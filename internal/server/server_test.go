package server

import (
	"bytes"
	"context"
	"encoding/json"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ZacxDev/alpha-webm/internal/processor"
	"github.com/ZacxDev/alpha-webm/internal/workspace"
	"github.com/ZacxDev/alpha-webm/pkg/types"
)

// stubPipeline writes an artifact of the configured size into a real job
// directory, or returns the canned result when one is set
type stubPipeline struct {
	t      *testing.T
	root   *workspace.Root
	size   int
	result *types.Result
	reqs   []processor.Request
	seen   []string // upload paths that existed during Run
}

func (p *stubPipeline) Run(_ context.Context, req processor.Request) types.Result {
	p.reqs = append(p.reqs, req)
	if req.ArchivePath == "" {
		return types.Result{ID: "none-id", Outcome: types.OutcomeNone}
	}
	if _, err := os.Stat(req.ArchivePath); err == nil {
		p.seen = append(p.seen, req.ArchivePath)
	}
	if p.result != nil {
		return *p.result
	}
	lease, err := p.root.Acquire()
	if err != nil {
		p.t.Fatal(err)
	}
	if err := os.WriteFile(lease.OutputPath(), bytes.Repeat([]byte{1}, p.size), 0o644); err != nil {
		p.t.Fatal(err)
	}
	res, _ := checkBudget(lease.OutputPath(), int64(p.size))
	res.ID = lease.ID
	return res
}

func checkBudget(path string, size int64) (types.Result, error) {
	r := types.Result{Outcome: types.OutcomeReady, Path: path, Size: size}
	if size > types.SizeBudgetBytes {
		r.Outcome = types.OutcomeWarning
	}
	return r, nil
}

func newTestServer(t *testing.T, size int) (*Server, *stubPipeline, http.Handler) {
	t.Helper()
	root, err := workspace.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := &stubPipeline{t: t, root: root, size: size}
	defaults := types.EncodeSettings{FrameRate: types.FrameRate30, Scale: types.Scale512x512, Bitrate: "200k"}
	s := New(p, root, NewRegistry(), defaults, 8)
	return s, p, s.Router()
}

func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("archive", filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(content)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func postMultipart(h http.Handler, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func postForm(h http.Handler, path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIndexRendersDefaults(t *testing.T) {
	_, _, h := newTestServer(t, 0)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`name="fps" value="30" checked`,
		`name="fps" value="60">`,
		`name="scale" value="512x512" checked`,
		`value="none"> No scaling`,
		`name="bitrate" value="200k"`,
		`action="/download"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestEncodeRendersStatusAndID(t *testing.T) {
	_, p, h := newTestServer(t, 1024)
	body, ct := multipartBody(t, map[string]string{"fps": "60", "scale": "none", "bitrate": " 150k "}, "Frames.ZIP", []byte("zip"))

	rec := postMultipart(h, "/encode", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(p.reqs) != 1 {
		t.Fatalf("pipeline ran %d times", len(p.reqs))
	}
	req := p.reqs[0]
	want := types.EncodeSettings{FrameRate: types.FrameRate60, Scale: types.ScaleNone, Bitrate: "150k"}
	if req.Settings != want {
		t.Errorf("settings = %+v, want %+v", req.Settings, want)
	}
	if !strings.HasSuffix(req.ArchivePath, ".zip") {
		t.Errorf("upload saved as %s, want .zip extension", req.ArchivePath)
	}
	if len(p.seen) != 1 {
		t.Error("upload should exist while the pipeline runs")
	}
	if _, err := os.Stat(req.ArchivePath); !os.IsNotExist(err) {
		t.Error("upload should be removed after the request")
	}

	page := rec.Body.String()
	if !strings.Contains(page, "output.webm</textarea>") {
		t.Errorf("status area should hold the artifact path: %s", page)
	}
	if !strings.Contains(page, `name="fps" value="60" checked`) {
		t.Error("submitted settings should stay selected")
	}
}

func TestEncodeWithoutArchive(t *testing.T) {
	_, p, h := newTestServer(t, 0)
	body, ct := multipartBody(t, map[string]string{"fps": "30"}, "", nil)

	rec := postMultipart(h, "/encode", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(p.reqs) != 1 || p.reqs[0].ArchivePath != "" {
		t.Fatalf("pipeline should run with no archive, got %+v", p.reqs)
	}
	if !strings.Contains(rec.Body.String(), `readonly></textarea>`) {
		t.Error("status area should be empty")
	}
}

func TestEncodeRejectsUnsupportedOptions(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		want   string
	}{
		{"frame rate", map[string]string{"fps": "24"}, "Error: unsupported frame rate"},
		{"scale", map[string]string{"scale": "640x480"}, "Error: unsupported scale"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, p, h := newTestServer(t, 0)
			body, ct := multipartBody(t, tt.fields, "f.zip", []byte("zip"))
			rec := postMultipart(h, "/encode", body, ct)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if !strings.Contains(html.UnescapeString(rec.Body.String()), tt.want) {
				t.Errorf("page should contain %q", tt.want)
			}
			if len(p.reqs) != 0 {
				t.Error("pipeline should not run")
			}
		})
	}
}

func TestArchiveExt(t *testing.T) {
	tests := map[string]string{
		"frames.zip":     ".zip",
		"FRAMES.ZIP":     ".zip",
		"frames.tar.gz":  ".tar.gz",
		"frames.tgz":     ".tgz",
		"frames.tar.xz":  ".tar.xz",
		"frames":         ".zip",
		"":               ".zip",
		"a.b/frames.tar": ".tar",
	}
	for name, want := range tests {
		if got := archiveExt(name); got != want {
			t.Errorf("archiveExt(%q) = %q, want %q", name, got, want)
		}
	}
}

func encodeOnce(t *testing.T, h http.Handler) encodeResponse {
	t.Helper()
	body, ct := multipartBody(t, nil, "f.zip", []byte("zip"))
	rec := postMultipart(h, "/api/encode", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp encodeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestAPIEncode(t *testing.T) {
	_, _, h := newTestServer(t, 300*1024)
	resp := encodeOnce(t, h)

	if resp.Outcome != "warning" || resp.ID == "" {
		t.Errorf("response = %+v", resp)
	}
	if resp.SizeBytes != 300*1024 || resp.SizeKB != 300 {
		t.Errorf("size = %d bytes / %v KB", resp.SizeBytes, resp.SizeKB)
	}
	if !strings.HasPrefix(resp.Status, "Warning: final file is 300.0 KB (> 256 KB). Download anyway:\n") {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestDownloadByResultID(t *testing.T) {
	_, _, h := newTestServer(t, 2048)
	resp := encodeOnce(t, h)

	rec := postForm(h, "/download", url.Values{"result_id": {resp.ID}, "status": {"ignored"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.Len() != 2048 {
		t.Errorf("served %d bytes, want 2048", rec.Body.Len())
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "output.webm") {
		t.Errorf("Content-Disposition = %q", got)
	}

	get := httptest.NewRecorder()
	h.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/download/"+resp.ID, nil))
	if get.Code != http.StatusOK || get.Body.Len() != 2048 {
		t.Errorf("GET /download/{id} = %d, %d bytes", get.Code, get.Body.Len())
	}

	for _, id := range []string{"unknown", "none-id"} {
		rec := postForm(h, "/download", url.Values{"result_id": {id}})
		if rec.Code != http.StatusNotFound {
			t.Errorf("id %q: status = %d, want 404", id, rec.Code)
		}
	}
}

func TestDownloadFailedResult(t *testing.T) {
	s, p, h := newTestServer(t, 0)
	failed := types.Result{ID: "failed-id", Outcome: types.OutcomeFailed, Message: "Error: pass 1: exit status 1"}
	p.result = &failed
	encodeOnce(t, h)

	if _, ok := s.results.Get("failed-id"); !ok {
		t.Fatal("failed result should be registered")
	}
	rec := postForm(h, "/download", url.Values{"result_id": {"failed-id"}})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDownloadByLegacyStatus(t *testing.T) {
	_, _, h := newTestServer(t, 300*1024)
	resp := encodeOnce(t, h)

	// browsers post textareas with CRLF
	status := strings.ReplaceAll(resp.Status, "\n", "\r\n")
	rec := postForm(h, "/download", url.Values{"status": {status}})
	if rec.Code != http.StatusOK || rec.Body.Len() != 300*1024 {
		t.Errorf("warning status: %d, %d bytes", rec.Code, rec.Body.Len())
	}

	outside := filepath.Join(t.TempDir(), "secret.webm")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []string{
		outside,
		"Warning: final file is 1.0 KB (> 256 KB). Download anyway:\n" + outside,
		"Error: pass 1: exit status 1",
		"No PNG files found in the zip.",
		"",
	}
	for _, st := range tests {
		rec := postForm(h, "/download", url.Values{"status": {st}})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status text %q: code = %d, want 404", st, rec.Code)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, _, h := newTestServer(t, 0)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var health healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil || health.Status != "ok" {
		t.Errorf("healthz = %s (%v)", rec.Body.String(), err)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || !strings.Contains(string(body), "alphawebm_http_requests_in_flight") {
		t.Errorf("metrics = %d", rec.Code)
	}
}

func TestRegistryPrune(t *testing.T) {
	r := NewRegistry()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.Put(types.Result{ID: "old"})
	now = now.Add(2 * time.Hour)
	r.Put(types.Result{ID: "new"})
	r.Put(types.Result{}) // no ID, ignored

	if removed := r.Prune(time.Hour); removed != 1 {
		t.Errorf("Prune removed %d, want 1", removed)
	}
	if _, ok := r.Get("old"); ok {
		t.Error("old entry should be pruned")
	}
	if _, ok := r.Get("new"); !ok || r.Len() != 1 {
		t.Error("new entry should survive")
	}
}
