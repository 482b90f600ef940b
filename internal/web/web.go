package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"schedline/internal/config"
	"schedline/internal/entry"
	"schedline/internal/finish"
	appLog "schedline/internal/log"
	"schedline/internal/planner"
	"schedline/internal/store"
)

// Server exposes the planner over a small JSON API.
type Server struct {
	cfg *config.Config
	svc *planner.Service
	mux *http.ServeMux

	// In-memory cache for /api/occurrences; dropped on every write.
	occMu    sync.RWMutex
	occCache map[string]*occurrencesCache
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc *planner.Service) *Server {
	s := &Server{
		cfg:      cfg,
		svc:      svc,
		mux:      http.NewServeMux(),
		occCache: map[string]*occurrencesCache{},
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedline", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is cancelled, then shuts down
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
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("stopping HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/parse", s.handleParse)
	s.mux.HandleFunc("GET /api/items", s.handleListItems)
	s.mux.HandleFunc("POST /api/items", s.handleAddItem)
	s.mux.HandleFunc("GET /api/items/{id}", s.handleGetItem)
	s.mux.HandleFunc("DELETE /api/items/{id}", s.handleDeleteItem)
	s.mux.HandleFunc("POST /api/items/{id}/finish", s.handleFinish)
	s.mux.HandleFunc("GET /api/occurrences", s.handleOccurrences)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// entryRequest is the body of POST /api/parse and POST /api/items.
type entryRequest struct {
	Entry string `json:"entry"`
}

// parseResponse is the JSON response shape for /api/parse.
type parseResponse struct {
	Entry string  `json:"entry"`
	Item  itemDTO `json:"item"`
}

// handleParse checks an entry without storing it and returns its canonical
// form.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := entry.Parse(req.Entry, s.entryOptions())
	if err != nil {
		writeEntryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, parseResponse{
		Entry: entry.Format(res.Item),
		Item:  newItemDTO(planner.Item{Item: res.Item}),
	})
}

func (s *Server) entryOptions() entry.Options {
	return entry.Options{Location: s.cfg.Location()}
}

// GET /api/items?finished=1&source=<id>
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.svc.List(r.Context(), store.Filter{
		IncludeFinished: parseIntDefault(q.Get("finished"), 0) > 0,
		Source:          q.Get("source"),
	})
	if err != nil {
		appLog.Error("api items: list failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	dtos := make([]itemDTO, 0, len(items))
	for _, it := range items {
		dtos = append(dtos, newItemDTO(it))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	it, err := s.svc.Add(r.Context(), req.Entry)
	if err != nil {
		writeEntryError(w, err)
		return
	}
	s.invalidate()
	writeJSON(w, http.StatusCreated, newItemDTO(it))
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	it, err := s.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemDTO(it))
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// finishRequest is the body of POST /api/items/{id}/finish. Every field is
// optional; an empty body finishes the current occurrence now.
type finishRequest struct {
	CompletedAt *time.Time `json:"completed_at"`
	Occurrence  *time.Time `json:"occurrence"`
	JobID       int        `json:"job_id"`
	Job         string     `json:"job"`
}

type finishResponse struct {
	State      string    `json:"state"`
	Finished   bool      `json:"finished"`
	Occurrence time.Time `json:"occurrence,omitzero"`
	Item       itemDTO   `json:"item"`
	Available  []int     `json:"available_jobs,omitempty"`
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body finishRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}
	req := planner.FinishRequest{}
	if body.CompletedAt != nil {
		req.At = *body.CompletedAt
	}
	if body.Occurrence != nil {
		req.Occurrence = *body.Occurrence
	}
	if body.JobID != 0 || body.Job != "" {
		req.Job = &finish.JobRef{ID: body.JobID, Summary: body.Job}
	}

	res, err := s.svc.Finish(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.invalidate()

	it, err := s.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := finishResponse{
		State:      res.State.String(),
		Finished:   res.Finished,
		Occurrence: res.Occurrence,
		Item:       newItemDTO(it),
	}
	if res.Graph != nil {
		resp.Available = res.Graph.Available
	}
	writeJSON(w, http.StatusOK, resp)
}

// occurrencesResponse is the JSON response shape for /api/occurrences.
type occurrencesResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
	WeekStart       string          `json:"week_start"`
}

// occurrencesCache holds a cached /api/occurrences response and its timestamp.
type occurrencesCache struct {
	resp      occurrencesResponse
	updatedAt time.Time
}

// handleOccurrences returns stored occurrences within a window around today.
//
// GET /api/occurrences?days=7&backfill=1
//   - days:     how many days ahead to include (default 7)
//   - backfill: how many past days to include (default 1)
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}

	const occurrencesCacheTTL = 30 * time.Second
	key := strconv.Itoa(days) + "/" + strconv.Itoa(backfill)
	cacheNow := time.Now()

	s.occMu.RLock()
	oc := s.occCache[key]
	s.occMu.RUnlock()
	if oc != nil && cacheNow.Sub(oc.updatedAt) < occurrencesCacheTTL {
		writeJSON(w, http.StatusOK, oc.resp)
		return
	}

	from, to := s.svc.Window(days, backfill)
	appLog.Debug("api occurrences request",
		"days", days,
		"backfill", backfill,
		"range_start", from.Format(time.RFC3339),
		"range_end", to.Format(time.RFC3339),
	)

	occs, err := s.svc.Agenda(r.Context(), from, to)
	if err != nil {
		appLog.Error("api occurrences: agenda failed", err)
		writeError(w, http.StatusInternalServerError, "failed to load occurrences")
		return
	}

	loc := s.cfg.Location()
	dtos := make([]occurrenceDTO, 0, len(occs))
	for _, o := range occs {
		dtos = append(dtos, newOccurrenceDTO(o, loc))
	}
	resp := occurrencesResponse{
		Occurrences:     dtos,
		RangeStart:      from,
		RangeEnd:        to,
		DisplayTimeZone: loc.String(),
		WeekStart:       s.cfg.WeekStart,
	}

	s.occMu.Lock()
	s.occCache[key] = &occurrencesCache{resp: resp, updatedAt: time.Now()}
	s.occMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// invalidate drops cached occurrence responses after a write.
func (s *Server) invalidate() {
	s.occMu.Lock()
	clear(s.occCache)
	s.occMu.Unlock()
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
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
