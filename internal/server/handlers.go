package server

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/ZacxDev/alpha-webm/internal/logging"
	"github.com/ZacxDev/alpha-webm/internal/processor"
	"github.com/ZacxDev/alpha-webm/pkg/types"
)

const (
	formArchive  = "archive"
	formFPS      = "fps"
	formScale    = "scale"
	formBitrate  = "bitrate"
	formStatus   = "status"
	formResultID = "result_id"

	uploadsDirName  = "uploads"
	multipartMemory = 32 << 20
)

// compound suffixes the archive library picks its format by
var archiveSuffixes = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tar.zst", ".tar.lz4", ".tar.sz", ".tar.br"}

type pageData struct {
	BudgetKB   int
	FrameRates []types.FrameRate
	Scales     []types.ScaleOption
	Settings   types.EncodeSettings
	Status     string
	ResultID   string
	Metadata   *types.VideoMetadata
}

// encodeResponse is the JSON body of /api/encode
type encodeResponse struct {
	ID        string               `json:"id"`
	Outcome   string               `json:"outcome"`
	Status    string               `json:"status"`
	Path      string               `json:"path,omitempty"`
	SizeBytes int64                `json:"sizeBytes,omitempty"`
	SizeKB    float64              `json:"sizeKB,omitempty"`
	Metadata  *types.VideoMetadata `json:"metadata,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Results int    `json:"results"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.render(w, http.StatusOK, s.page(s.defaults, types.Result{}))
}

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	settings, result, ok := s.encode(w, r)
	code := http.StatusOK
	if !ok {
		code = http.StatusBadRequest
	}
	s.render(w, code, s.page(settings, result))
}

func (s *Server) handleAPIEncode(w http.ResponseWriter, r *http.Request) {
	_, result, ok := s.encode(w, r)
	code := http.StatusOK
	if !ok {
		code = http.StatusBadRequest
	}
	resp := encodeResponse{
		ID:       result.ID,
		Outcome:  result.Outcome.String(),
		Status:   result.Status(),
		Metadata: result.Metadata,
	}
	if _, ok := result.Download(); ok {
		resp.Path = result.Path
		resp.SizeBytes = result.Size
		resp.SizeKB = result.SizeKB()
	}
	writeJSON(w, code, resp)
}

// encode runs the pipeline for one form submission. ok is false when the
// form itself was unusable; the pipeline's own failures are still ok.
func (s *Server) encode(w http.ResponseWriter, r *http.Request) (types.EncodeSettings, types.Result, bool) {
	settings := s.defaults

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return settings, formError(errors.Wrap(err, "read upload")), false
	}

	settings, err := s.parseSettings(r)
	if err != nil {
		return settings, formError(err), false
	}

	archivePath, cleanup, err := s.saveUpload(r)
	if err != nil {
		return settings, formError(err), false
	}
	defer cleanup()

	result := s.pipeline.Run(r.Context(), processor.Request{ArchivePath: archivePath, Settings: settings})
	s.results.Put(result)
	return settings, result, true
}

func (s *Server) parseSettings(r *http.Request) (types.EncodeSettings, error) {
	settings := s.defaults
	if v := r.FormValue(formFPS); v != "" {
		fps, err := types.ParseFrameRate(v)
		if err != nil {
			return settings, err
		}
		settings.FrameRate = fps
	}
	if _, ok := r.Form[formScale]; ok {
		scale, err := types.ParseScaleOption(r.FormValue(formScale))
		if err != nil {
			return settings, err
		}
		settings.Scale = scale
	}
	if _, ok := r.Form[formBitrate]; ok {
		settings.Bitrate = strings.TrimSpace(r.FormValue(formBitrate))
	}
	return settings, nil
}

// saveUpload copies the uploaded archive under the work root, keeping the
// extension the archive library detects its format by. An absent or empty
// file part yields an empty path.
func (s *Server) saveUpload(r *http.Request) (string, func(), error) {
	noop := func() {}
	if r.MultipartForm == nil {
		return "", noop, nil
	}
	file, header, err := r.FormFile(formArchive)
	if errors.Is(err, http.ErrMissingFile) {
		return "", noop, nil
	}
	if err != nil {
		return "", noop, errors.Wrap(err, "read archive")
	}
	defer file.Close()
	if header.Size == 0 && header.Filename == "" {
		return "", noop, nil
	}

	dir := filepath.Join(s.root.Dir(), uploadsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", noop, errors.Wrap(err, "create upload directory")
	}
	out, err := os.CreateTemp(dir, "upload_*"+archiveExt(header.Filename))
	if err != nil {
		return "", noop, errors.Wrap(err, "create upload file")
	}
	cleanup := func() {
		if err := os.Remove(out.Name()); err != nil && !os.IsNotExist(err) {
			logging.Warn("failed to remove upload %s: %v", out.Name(), err)
		}
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		cleanup()
		return "", noop, errors.Wrap(err, "save archive")
	}
	if err := out.Close(); err != nil {
		cleanup()
		return "", noop, errors.Wrap(err, "save archive")
	}
	logging.Debug("saved upload %q (%d bytes) to %s", header.Filename, header.Size, out.Name())
	return out.Name(), cleanup, nil
}

func archiveExt(name string) string {
	lower := strings.ToLower(name)
	for _, suffix := range archiveSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return suffix
		}
	}
	if ext := filepath.Ext(lower); ext != "" {
		return ext
	}
	return ".zip"
}

// handleDownload resolves the artifact from the result ID when the form
// carries one, and from the status text otherwise.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	if id := strings.TrimSpace(r.PostFormValue(formResultID)); id != "" {
		s.serveResult(w, r, id)
		return
	}

	path, ok := types.ResolveDownload(normalizeNewlines(r.PostFormValue(formStatus)))
	if !ok || !s.root.Contains(path) {
		http.Error(w, "no file", http.StatusNotFound)
		return
	}
	serveArtifact(w, r, path)
}

func (s *Server) handleDownloadID(w http.ResponseWriter, r *http.Request) {
	s.serveResult(w, r, mux.Vars(r)["id"])
}

func (s *Server) serveResult(w http.ResponseWriter, r *http.Request, id string) {
	result, ok := s.results.Get(id)
	if !ok {
		http.Error(w, "no file", http.StatusNotFound)
		return
	}
	path, ok := result.Download()
	if !ok || !s.root.Contains(path) {
		http.Error(w, "no file", http.StatusNotFound)
		return
	}
	serveArtifact(w, r, path)
}

func serveArtifact(w http.ResponseWriter, r *http.Request, path string) {
	w.Header().Set("Content-Type", "video/webm")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeFile(w, r, path)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Results: s.results.Len()})
}

func (s *Server) page(settings types.EncodeSettings, result types.Result) pageData {
	return pageData{
		BudgetKB:   types.SizeBudgetKB,
		FrameRates: types.SupportedFrameRates,
		Scales:     types.SupportedScales,
		Settings:   settings,
		Status:     result.Status(),
		ResultID:   result.ID,
		Metadata:   result.Metadata,
	}
}

func (s *Server) render(w http.ResponseWriter, code int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if err := indexTemplate.Execute(w, data); err != nil {
		logging.Error("render page: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("encode response: %v", err)
	}
}

// formError is a request the pipeline never saw
func formError(err error) types.Result {
	return types.Failed(types.ErrorPrefix + ": " + err.Error())
}

// browsers submit textarea contents with CRLF line breaks
func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
