// Package server is the web front end: an upload form with frame rate, scale
// and bitrate controls, a status area and a download action.
package server

import (
	"context"
	"embed"
	"html/template"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZacxDev/alpha-webm/internal/middleware"
	"github.com/ZacxDev/alpha-webm/internal/processor"
	"github.com/ZacxDev/alpha-webm/internal/workspace"
	"github.com/ZacxDev/alpha-webm/pkg/types"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Pipeline runs one encode request
type Pipeline interface {
	Run(ctx context.Context, req processor.Request) types.Result
}

// Server holds the front end's dependencies. Per-request state lives in the
// handlers; the registry is the only state shared between requests.
type Server struct {
	pipeline       Pipeline
	root           *workspace.Root
	results        *Registry
	defaults       types.EncodeSettings
	maxUploadBytes int64
}

// New creates a Server; maxUploadMB caps the request body
func New(p Pipeline, root *workspace.Root, results *Registry, defaults types.EncodeSettings, maxUploadMB int64) *Server {
	if results == nil {
		results = NewRegistry()
	}
	return &Server{
		pipeline:       p,
		root:           root,
		results:        results,
		defaults:       defaults,
		maxUploadBytes: maxUploadMB << 20,
	}
}

// Router wires every route plus the metrics and access-log middleware
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logger(middleware.DefaultLoggingConfig()))
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/encode", s.handleEncode).Methods(http.MethodPost)
	r.HandleFunc("/download", s.handleDownload).Methods(http.MethodPost)
	r.HandleFunc("/download/{id}", s.handleDownloadID).Methods(http.MethodGet)
	r.HandleFunc("/api/encode", s.handleAPIEncode).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}
