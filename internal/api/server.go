// Package api serves stored surveys and an on-demand decoder over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/mnemo/internal/db"
	"github.com/banshee-data/mnemo/internal/mnemo"
	"github.com/banshee-data/mnemo/internal/monitoring"
)

// MaxBodySize caps uploaded dumps.
const MaxBodySize = 16 * 1024 * 1024

// Store is the part of *db.DB the handlers use.
type Store interface {
	RecordImport(ctx context.Context, meta db.ImportMeta, surveys []mnemo.Survey) (db.Import, error)
	Imports(ctx context.Context) ([]db.Import, error)
	Import(ctx context.Context, id string) (db.Import, error)
	DeleteImport(ctx context.Context, id string) error
	Surveys(ctx context.Context, importID string) ([]db.SurveyRecord, error)
	Survey(ctx context.Context, id int64) (db.SurveyRecord, error)
}

// AdminRouter is implemented by stores that expose debug pages.
type AdminRouter interface {
	AttachAdminRoutes(mux *http.ServeMux) error
}

type Server struct {
	store Store
	opts  mnemo.Options
}

// NewServer returns a server over store. opts are the decoder defaults; query
// parameters on /api/decode override them per request.
func NewServer(store Store, opts mnemo.Options) *Server {
	return &Server{store: store, opts: opts}
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", s.showVersion)
	mux.HandleFunc("POST /api/decode", s.decode)
	mux.HandleFunc("GET /api/imports", s.listImports)
	mux.HandleFunc("POST /api/imports", s.createImport)
	mux.HandleFunc("GET /api/imports/{id}", s.showImport)
	mux.HandleFunc("DELETE /api/imports/{id}", s.deleteImport)
	mux.HandleFunc("GET /api/imports/{id}/surveys", s.listSurveys)
	mux.HandleFunc("GET /api/surveys/{id}", s.showSurvey)
	return mux
}

// Handler returns the full handler: API routes, the store's debug pages if it
// has any, and request logging.
func (s *Server) Handler() (http.Handler, error) {
	mux := s.ServeMux()
	if admin, ok := s.store.(AdminRouter); ok {
		if err := admin.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return LoggingMiddleware(mux), nil
}

// Start serves on listen until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, listen string) error {
	h, err := s.Handler()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listen, err)
	}
	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	monitoring.Logf("serving on http://%s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
