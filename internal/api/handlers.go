package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/mnemo/internal/db"
	"github.com/banshee-data/mnemo/internal/dump"
	"github.com/banshee-data/mnemo/internal/httputil"
	"github.com/banshee-data/mnemo/internal/mnemo"
	"github.com/banshee-data/mnemo/internal/monitoring"
	"github.com/banshee-data/mnemo/internal/version"
)

// DecodeResponse is the body of /api/decode and POST /api/imports.
type DecodeResponse struct {
	Import      *db.Import     `json:"import,omitempty"`
	Surveys     []mnemo.Survey `json:"surveys"`
	HeaderError *HeaderError   `json:"header_error,omitempty"`
}

// HeaderError describes the header failure that stopped a decode.
type HeaderError struct {
	Message string `json:"message"`
	Offset  int    `json:"offset"`
	Kind    string `json:"kind"`
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}

// decodeOptions applies the strict, trim_name, absolute_scan_limit and
// scan_limit query parameters to the server defaults.
func (s *Server) decodeOptions(r *http.Request) (mnemo.Options, error) {
	opts := s.opts
	q := r.URL.Query()
	for name, dst := range map[string]*bool{
		"strict":              &opts.Strict,
		"trim_name":           &opts.TrimName,
		"absolute_scan_limit": &opts.AbsoluteScanLimit,
	} {
		if !q.Has(name) {
			continue
		}
		v, err := parseBool(q.Get(name))
		if err != nil {
			return opts, httputil.Errorf(http.StatusBadRequest, "invalid %s: %q", name, q.Get(name))
		}
		*dst = v
	}
	if q.Has("scan_limit") {
		n, err := strconv.Atoi(q.Get("scan_limit"))
		if err != nil || n < 0 {
			return opts, httputil.Errorf(http.StatusBadRequest, "invalid scan_limit: %q", q.Get("scan_limit"))
		}
		opts.ScanLimit = n
	}
	return opts, nil
}

// readDump returns the device bytes in the request body: raw for
// application/octet-stream, dump text otherwise.
func readDump(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := httputil.ReadBody(w, r, MaxBodySize)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/octet-stream") {
		return body, nil
	}
	data, err := dump.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, httputil.Errorf(http.StatusBadRequest, "invalid dump: %v", err)
	}
	return data, nil
}

// decodeRequest decodes the request body. The decoder always runs strict so
// that a partial result can be reported; err is only set when the caller
// asked for strict mode or the request itself was bad.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (DecodeResponse, int, error) {
	opts, err := s.decodeOptions(r)
	if err != nil {
		return DecodeResponse{}, 0, err
	}
	data, err := readDump(w, r)
	if err != nil {
		return DecodeResponse{}, 0, err
	}

	strict := opts.Strict
	opts.Strict = true
	surveys, err := mnemo.NewDecoder(opts).Decode(data)
	resp := DecodeResponse{Surveys: surveys}
	if err == nil {
		return resp, len(data), nil
	}

	var he *mnemo.HeaderError
	if !errors.As(err, &he) {
		return DecodeResponse{}, 0, err
	}
	resp.HeaderError = &HeaderError{Message: he.Error(), Offset: he.Offset, Kind: he.Kind.String()}
	if strict {
		return resp, len(data), he
	}
	monitoring.Logf("%v, stopping", he)
	return resp, len(data), nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) {
	resp, _, err := s.decodeRequest(w, r)
	var he *mnemo.HeaderError
	switch {
	case errors.As(err, &he):
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, resp)
	case err != nil:
		httputil.WriteError(w, err)
	default:
		httputil.WriteJSONOK(w, resp)
	}
}

func (s *Server) createImport(w http.ResponseWriter, r *http.Request) {
	resp, n, err := s.decodeRequest(w, r)
	var he *mnemo.HeaderError
	switch {
	case errors.As(err, &he):
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, resp)
		return
	case err != nil:
		httputil.WriteError(w, err)
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		source = "upload"
	}
	imp, err := s.store.RecordImport(r.Context(), db.ImportMeta{
		Source:    source,
		ByteCount: n,
		Partial:   resp.HeaderError != nil,
	}, resp.Surveys)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp.Import = &imp
	httputil.WriteJSON(w, http.StatusCreated, resp)
}

// storeError maps a store error to an HTTP error.
func storeError(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return httputil.Errorf(http.StatusNotFound, "%v", err)
	}
	return err
}

func (s *Server) listImports(w http.ResponseWriter, r *http.Request) {
	imports, err := s.store.Imports(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSONOK(w, imports)
}

func (s *Server) showImport(w http.ResponseWriter, r *http.Request) {
	imp, err := s.store.Import(r.Context(), r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, storeError(err))
		return
	}
	httputil.WriteJSONOK(w, imp)
}

func (s *Server) deleteImport(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteImport(r.Context(), r.PathValue("id")); err != nil {
		httputil.WriteError(w, storeError(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSurveys(w http.ResponseWriter, r *http.Request) {
	surveys, err := s.store.Surveys(r.Context(), r.PathValue("id"))
	if err != nil {
		httputil.WriteError(w, storeError(err))
		return
	}
	httputil.WriteJSONOK(w, surveys)
}

func (s *Server) showSurvey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid survey id %q", r.PathValue("id")))
		return
	}
	rec, err := s.store.Survey(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, storeError(err))
		return
	}
	httputil.WriteJSONOK(w, rec)
}
