// Package dashboard serves the latest valuation snapshot over HTTP: a
// small HTML view for humans and JSON/text endpoints for tooling.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/kdufour/optworth/internal/engine"
	"github.com/kdufour/optworth/internal/storage"
)

// staleAfter marks a snapshot as stale on the HTML view once it is older
// than this.
const staleAfter = 24 * time.Hour

// Server exposes the snapshot store over HTTP.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	storage   storage.Interface
	logger    *logrus.Logger
	tmpl      *template.Template
	port      int
	authToken string
	now       func() time.Time
}

// Config holds the dashboard settings.
type Config struct {
	Port      int
	AuthToken string
}

// NewServer creates the dashboard server.
func NewServer(cfg Config, store storage.Interface, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		storage:   store,
		logger:    logger,
		tmpl:      template.Must(template.New("dashboard").Parse(dashboardTemplate)),
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		now:       time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/", s.handleDashboard)
	s.router.Get("/api/snapshot", s.handleSnapshot)
	s.router.Get("/api/report", s.handleReport)
	s.router.Get("/health", s.handleHealth)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) latest(w http.ResponseWriter) (storage.Snapshot, bool) {
	snap, err := s.storage.Latest()
	if err != nil {
		if errors.Is(err, storage.ErrNoSnapshot) {
			http.Error(w, "no snapshot yet", http.StatusNotFound)
		} else {
			s.logger.WithError(err).Error("loading latest snapshot")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return storage.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.logger.WithError(err).Error("encoding snapshot")
	}
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, snap.Report)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": s.now().Unix(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.WithError(err).Error("encoding health response")
	}
}

type dashboardView struct {
	GeneratedAt time.Time
	Stale       bool
	Summaries   []engine.AccountSummary
	GroupCount  int
	NakedCount  int
	Unvalued    []engine.UnvaluedLeg
	Report      string
}

func (s *Server) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	view := dashboardView{
		GeneratedAt: snap.GeneratedAt,
		Stale:       s.now().Sub(snap.GeneratedAt) > staleAfter,
		Summaries:   snap.Results.Summaries,
		GroupCount:  len(snap.Results.Groups()),
		NakedCount:  len(snap.Results.Naked),
		Unvalued:    snap.Results.Unvalued,
		Report:      snap.Report,
	}
	if err := s.tmpl.Execute(w, view); err != nil {
		s.logger.WithError(err).Error("executing dashboard template")
	}
}

const dashboardTemplate = `<!DOCTYPE html>
<html>
<head>
<title>optworth</title>
<style>
body { font-family: monospace; margin: 2em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #999; padding: 0.3em 0.8em; text-align: right; }
th { background: #eee; }
td:first-child, th:first-child { text-align: left; }
.stale { color: #b00; font-weight: bold; }
pre { background: #f6f6f6; padding: 1em; }
</style>
</head>
<body>
<h1>Options portfolio</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}{{if .Stale}} <span class="stale">(stale)</span>{{end}}
&mdash; {{.GroupCount}} strategies, {{.NakedCount}} naked legs</p>
<table>
<tr><th>account</th><th>value</th><th>notional</th><th>short put exposure</th></tr>
{{range .Summaries}}<tr><td>{{.Account}}</td><td>{{printf "%.2f" .OptionsValue}}</td><td>{{printf "%.2f" .NotionalValue}}</td><td>{{printf "%.2f" .ShortPutExposure}}</td></tr>
{{end}}</table>
{{if .Unvalued}}<h2>Unvalued</h2>
<ul>{{range .Unvalued}}<li>{{.Leg.Description}}: {{.Reason}}</li>{{end}}</ul>{{end}}
<h2>Report</h2>
<pre>{{.Report}}</pre>
</body>
</html>
`
