package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"schedcal/internal/config"
	"schedcal/internal/diff"
	"schedcal/internal/ics"
	"schedcal/internal/ingest"
	appLog "schedcal/internal/log"
	"schedcal/internal/merge"
	"schedcal/internal/model"
	"schedcal/internal/process"
	"schedcal/internal/publish"
	"schedcal/internal/query"
	"schedcal/internal/stats"
	"schedcal/internal/store"
	"schedcal/internal/template"
)

const maxBodyBytes = 10 << 20

// Server provides the HTTP API over the calendar store.
type Server struct {
	cfg      *config.Config
	manager  *store.Manager
	ingester *ingest.Ingester
	metrics  *Metrics
	mux     *http.ServeMux
	now     func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, manager *store.Manager) *Server {
	s := &Server{
		cfg:      cfg,
		manager:  manager,
		ingester: ingest.New(nil, ingest.Options{Location: cfg.Location()}),
		metrics:  NewMetrics(),
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "user", s.cfg.BasicAuth.Username)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	a := s.cfg.BasicAuth
	return a.Username != "" && (a.Password != "" || a.PasswordHash != "")
}

// basicAuthMiddleware wraps all handlers except /health and /metrics.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	auth := *s.cfg.BasicAuth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, auth.Username) || !checkPassword(auth, p) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func checkPassword(auth config.BasicAuthConfig, given string) bool {
	if auth.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(auth.PasswordHash), []byte(given)) == nil
	}
	return secureCompare(given, auth.Password)
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	m := s.metrics
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", m.Handler())

	s.mux.HandleFunc("POST /api/process", m.instrument("process", s.handleProcess))
	s.mux.HandleFunc("GET /api/templates", m.instrument("templates", s.handleTemplates))
	s.mux.HandleFunc("GET /api/calendars", m.instrument("calendars", s.handleCalendars))
	s.mux.HandleFunc("GET /api/calendars/{name}", m.instrument("calendar", s.handleCalendar))
	s.mux.HandleFunc("POST /api/calendars/{name}", m.instrument("calendar_update", s.handleCalendarUpdate))
	s.mux.HandleFunc("DELETE /api/calendars/{name}", m.instrument("calendar_delete", s.handleCalendarDelete))
	s.mux.HandleFunc("GET /api/calendars/{name}/events", m.instrument("calendar_events", s.handleCalendarEvents))
	s.mux.HandleFunc("GET /api/calendars/{name}/stats", m.instrument("calendar_stats", s.handleCalendarStats))
	s.mux.HandleFunc("GET /calendars/{file}", m.instrument("calendar_ics", s.handleCalendarICS))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type processResponse struct {
	Template string          `json:"template"`
	Events   []model.Event   `json:"events"`
	Summary  process.Summary `json:"summary"`
	Warnings []string        `json:"warnings,omitempty"`
}

// handleProcess runs the pipeline on the posted events without storing
// anything.
//
// POST /api/process?template=name[&format=ics]
// Body: {"events": [...]}, a bare event list, or text/calendar.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.manager.Template(r.URL.Query().Get("template"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	cal, err := s.readCalendar(w, r, tpl)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := process.New(tpl).Process(cal.Events)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.metrics.observeProcessed(res.Summary.InputTotal, res.Summary.OutputTotal)

	if r.URL.Query().Get("format") == "ics" {
		out := model.Calendar{Events: res.Events, RevisedDate: cal.RevisedDate}
		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		if err := ics.Export(w, out, tpl, s.exportOptions(s.cfg.CalendarName)); err != nil {
			s.writeErr(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, processResponse{
		Template: tpl.Name,
		Events:   res.Events,
		Summary:  res.Summary,
		Warnings: res.Warnings,
	})
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	names, err := template.List(s.cfg.TemplateDir)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"templates": names, "default": s.cfg.DefaultTemplate})
}

func (s *Server) handleCalendars(w http.ResponseWriter, r *http.Request) {
	infos, err := s.manager.Store().List(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calendars": infos})
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info, err := s.manager.Store().Info(r.Context(), name)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	versions, err := s.manager.Store().Versions(r.Context(), name)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calendar": info, "versions": versions})
}

type updateResponse struct {
	Created  bool            `json:"created"`
	Changed  bool            `json:"changed"`
	Version  int             `json:"version,omitempty"`
	Strategy string          `json:"strategy"`
	Summary  process.Summary `json:"summary"`
	Warnings []string        `json:"warnings,omitempty"`
	Added    []model.Event   `json:"added"`
	Removed  []model.Event   `json:"removed"`
	Modified []diff.Change   `json:"modified"`
}

// handleCalendarUpdate merges posted events into a stored calendar.
//
// POST /api/calendars/{name}?template=&year=&strategy=add&preview=1
func (s *Server) handleCalendarUpdate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := r.PathValue("name")

	// classify with the template the calendar will be processed with
	tplName := q.Get("template")
	if tplName == "" {
		if info, err := s.manager.Store().Info(r.Context(), name); err == nil {
			tplName = info.TemplateName
		}
	}
	tpl, err := s.manager.Template(tplName)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	cal, err := s.readCalendar(w, r, tpl)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := store.UpdateRequest{
		Name:     name,
		Template: q.Get("template"),
		Incoming: cal,
		Source:   "api",
		Year:     parseIntDefault(q.Get("year"), 0),
	}
	if q.Get("strategy") == "add" {
		req.Strategy = merge.Add{}
	}

	apply := s.manager.Update
	if q.Get("preview") == "1" || q.Get("preview") == "true" {
		apply = s.manager.Preview
	}
	res, err := apply(r.Context(), req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.metrics.observeProcessed(res.Process.Summary.InputTotal, res.Process.Summary.OutputTotal)

	status := http.StatusOK
	if res.Created && res.Version > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, updateResponse{
		Created:  res.Created,
		Changed:  res.Changed,
		Version:  res.Version,
		Strategy: res.Strategy,
		Summary:  res.Process.Summary,
		Warnings: res.Process.Warnings,
		Added:    nonNil(res.Diff.Added),
		Removed:  nonNil(res.Diff.Removed),
		Modified: nonNilChanges(res.Diff.Modified),
	})
}

func (s *Server) handleCalendarDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Store().Delete(r.Context(), r.PathValue("name")); err != nil {
		s.writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCalendarEvents returns stored events, optionally filtered.
//
// GET /api/calendars/{name}/events
//   - version:          stored version (default latest)
//   - date:             events on a date, including spanning events
//   - from, to:         inclusive date range
//   - days:             upcoming days from today
//   - year:             events starting in a year
//   - q, type, location: text search
func (s *Server) handleCalendarEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snap, err := s.manager.Store().Load(r.Context(), r.PathValue("name"), parseIntDefault(q.Get("version"), 0))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	events, err := filterEvents(query.New(snap.Calendar.Events), q, model.DateOf(s.now().In(s.cfg.Location())))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         snap.Info.Name,
		"version":      snap.Version.Number,
		"revised_date": snap.Calendar.RevisedDate,
		"events":       events,
	})
}

func filterEvents(qr *query.Query, q map[string][]string, today model.Date) ([]model.Event, error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	parse := func(k string) (model.Date, error) {
		d, err := model.ParseDate(get(k))
		if err != nil {
			return d, fmt.Errorf("%s: %w", k, err)
		}
		return d, nil
	}

	var events []model.Event
	switch {
	case get("date") != "":
		d, err := parse("date")
		if err != nil {
			return nil, err
		}
		events = qr.OnDate(d)
	case get("from") != "" || get("to") != "":
		from, err := parse("from")
		if err != nil {
			return nil, err
		}
		to, err := parse("to")
		if err != nil {
			return nil, err
		}
		events = qr.Range(from, to)
	case get("days") != "":
		events = qr.Upcoming(today, parseIntDefault(get("days"), 7))
	case get("year") != "":
		events = qr.ByYear(parseIntDefault(get("year"), 0))
	default:
		events = qr.All()
	}

	f := query.Filter{Text: get("q"), Type: get("type"), Location: get("location")}
	if f != (query.Filter{}) {
		events = query.New(events).Search(f)
	}
	return events, nil
}

func (s *Server) handleCalendarStats(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.Store().Load(r.Context(), r.PathValue("name"), 0)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats.Compute(snap.Calendar.Events, parseIntDefault(r.URL.Query().Get("year"), 0)))
}

// handleCalendarICS serves a stored calendar as a subscribable feed.
//
// GET /calendars/{name}.ics[?version=n]
func (s *Server) handleCalendarICS(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(r.PathValue("file"), ".ics")
	version := parseIntDefault(r.URL.Query().Get("version"), 0)

	var buf strings.Builder
	if err := publish.WriteCalendar(r.Context(), s.manager, &buf, name, version, s.exportOptions(name)); err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", publish.FileName(name)))
	_, _ = io.WriteString(w, buf.String())
}

func (s *Server) exportOptions(name string) ics.ExportOptions {
	return ics.ExportOptions{Name: name, TZID: s.cfg.Timezone, Now: s.now}
}

// readCalendar decodes the request body as iCalendar when the content type
// says so, JSON otherwise, and fills missing event types from tpl.
func (s *Server) readCalendar(w http.ResponseWriter, r *http.Request, tpl *template.Template) (model.Calendar, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return model.Calendar{}, fmt.Errorf("read body: %w", err)
	}
	ext := ".json"
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/calendar") {
		ext = ".ics"
	}
	cal, err := s.ingester.IngestBytes(ext, body)
	if err != nil {
		return model.Calendar{}, err
	}
	m, err := template.NewMatcher(tpl)
	if err != nil {
		return model.Calendar{}, err
	}
	cal.Events = m.Classify(cal.Events)
	return cal, nil
}

// writeErr maps domain errors onto HTTP statuses.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var (
		validation *model.ValidationError
		cfgErr     *template.ConfigError
		cycle      *template.CycleError
		ambiguous  *merge.AmbiguousYearError
		invalid    *merge.InvalidYearError
		missingLoc *ics.MissingLocationError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, template.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &validation), errors.As(err, &ambiguous), errors.As(err, &invalid),
		errors.Is(err, merge.ErrNoEvents):
		status = http.StatusBadRequest
	case errors.As(err, &cfgErr), errors.As(err, &cycle), errors.As(err, &missingLoc):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		appLog.Error("request failed", err)
	}
	writeError(w, status, err.Error())
}

func nonNil(events []model.Event) []model.Event {
	if events == nil {
		return []model.Event{}
	}
	return events
}

func nonNilChanges(changes []diff.Change) []diff.Change {
	if changes == nil {
		return []diff.Change{}
	}
	return changes
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
