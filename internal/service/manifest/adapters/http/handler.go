package http

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/medviewer/pacs-connector/internal/service/manifest/adapters/weasis"
	"github.com/medviewer/pacs-connector/internal/service/manifest/app"
	"github.com/medviewer/pacs-connector/internal/service/manifest/app/commands"
	"github.com/medviewer/pacs-connector/internal/service/manifest/app/queries"
	"github.com/medviewer/pacs-connector/internal/service/manifest/catalog"
	"github.com/medviewer/pacs-connector/internal/service/manifest/registry"

	"github.com/go-chi/chi/v5"
)

// Server exposes the manifest build/fetch surface over HTTP.
type Server struct {
	cmdBus   app.CommandBus
	queryBus app.QueryBus
	log      *slog.Logger
}

func NewServer(cmdBus app.CommandBus, queryBus app.QueryBus, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cmdBus:   cmdBus,
		queryBus: queryBus,
		log:      log,
	}
}

// BuildManifest accepts a build request (GET query parameters or POST form)
// and answers 202 with the correlation id of the job.
func (s *Server) BuildManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
	}
	params := r.Form
	if params == nil {
		params = r.URL.Query()
	}

	cmd, err := buildCommandFromParams(params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.cmdBus.BuildManifest(r.Context(), cmd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int64{"id": result.ID})
}

// UploadManifest registers a pre-built manifest document and answers 202
// with its correlation id.
func (s *Server) UploadManifest(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(r.Body)
	if err != nil || len(doc) == 0 {
		http.Error(w, "empty document", http.StatusBadRequest)
		return
	}
	result, err := s.cmdBus.UploadManifest(r.Context(), commands.UploadManifestCommand{Document: doc})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]int64{"id": result.ID})
}

// FetchManifest consumes a correlation id and streams the manifest document,
// gzip-compressed unless noCompress is set. An unknown, consumed, failed or
// timed-out id answers 404; a missing or non-numeric id answers 400.
func (s *Server) FetchManifest(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	version, err := weasis.ParseVersion(r.URL.Query().Get("version"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.queryBus.FetchManifest(r.Context(), queries.FetchManifestQuery{ID: id, Version: version})
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.log.Error("manifest fetch failed", "id", id, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset="+result.Charset)
	if _, noCompress := r.URL.Query()["noCompress"]; noCompress {
		_, _ = w.Write(result.Document)
		return
	}
	w.Header().Set("Content-Encoding", "gzip")
	gz := gzip.NewWriter(w)
	_, _ = gz.Write(result.Document)
	_ = gz.Close()
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// buildCommandFromParams maps the request parameters onto a build command.
// Identifier parameters accept repeats and comma-separated lists.
func buildCommandFromParams(params url.Values) (commands.BuildManifestCommand, error) {
	cmd := commands.BuildManifestCommand{
		PatientIDs:       listParam(params, "patientID"),
		StudyUIDs:        listParam(params, "studyUID"),
		AccessionNumbers: listParam(params, "accessionNumber"),
		SeriesUIDs:       listParam(params, "seriesUID"),
		ObjectUIDs:       listParam(params, "objectUID"),
		Archives:         listParam(params, "archive"),
	}
	if len(cmd.PatientIDs) == 0 && len(cmd.StudyUIDs) == 0 && len(cmd.AccessionNumbers) == 0 &&
		len(cmd.SeriesUIDs) == 0 && len(cmd.ObjectUIDs) == 0 {
		return cmd, fmt.Errorf("at least one of patientID, studyUID, accessionNumber, seriesUID, objectUID is required")
	}

	filter, err := filterFromParams(params)
	if err != nil {
		return cmd, err
	}
	cmd.Filter = filter
	return cmd, nil
}

func filterFromParams(params url.Values) (catalog.StudyFilter, error) {
	var f catalog.StudyFilter
	var err error
	if v := params.Get("lowerDateTime"); v != "" {
		if f.LowerDateTime, err = parseDateTimeParam(v); err != nil {
			return f, fmt.Errorf("invalid lowerDateTime %q", v)
		}
	}
	if v := params.Get("upperDateTime"); v != "" {
		if f.UpperDateTime, err = parseDateTimeParam(v); err != nil {
			return f, fmt.Errorf("invalid upperDateTime %q", v)
		}
	}
	f.Modalities = listParam(params, "modalitiesInStudy")
	f.Keywords = listParam(params, "containsInDescription")
	if v := params.Get("mostRecentResults"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid mostRecentResults %q", v)
		}
		f.MostRecent = n
	}
	return f, nil
}

// parseDateTimeParam accepts the DICOM compact forms YYYYMMDD and
// YYYYMMDDHHMMSS. Unlike archive-supplied dates, request parameters are
// rejected outright when malformed.
func parseDateTimeParam(v string) (time.Time, error) {
	switch len(v) {
	case 8:
		return time.Parse("20060102", v)
	case 14:
		return time.Parse("20060102150405", v)
	}
	return time.Time{}, fmt.Errorf("expected YYYYMMDD or YYYYMMDDHHMMSS")
}

func listParam(params url.Values, name string) []string {
	var out []string
	for _, raw := range params[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
