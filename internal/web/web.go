package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"daygrid/internal/agenda"
	"daygrid/internal/config"
	appLog "daygrid/internal/log"
	"daygrid/internal/metrics"
	"daygrid/internal/model"
	"daygrid/internal/render"
)

const dateLayout = "2006-01-02"

// Server exposes the agenda as JSON, SVG and Prometheus metrics.
type Server struct {
	cfg     *config.Config
	svc     *agenda.Service
	metrics *metrics.Registry
	render  render.Options
	router  chi.Router
}

// NewServer wires the routes. m may be nil, in which case /metrics is not
// mounted and requests are not counted.
func NewServer(cfg *config.Config, svc *agenda.Service, m *metrics.Registry) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		metrics: m,
		render:  render.DefaultOptions(),
		router:  chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metricsMiddleware)
	}
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		r.Use(s.basicAuthMiddleware)
	}

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/day", s.handleDay)
		r.Get("/week", s.handleWeek)
		r.Get("/events", s.handleEvents)
		r.Post("/refresh", s.handleRefresh)
	})
	r.Get("/day.svg", s.handleDaySVG)
	r.Get("/week.svg", s.handleWeekSVG)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
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
			w.Header().Set("WWW-Authenticate", `Basic realm="daygrid", charset="UTF-8"`)
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

// metricsMiddleware counts requests by chi route pattern and status code.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is the JSON shape of one event.
type eventDTO struct {
	ID          string    `json:"id"`
	SourceID    string    `json:"source_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Color       string    `json:"color,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// blockDTO is a placed event: its layout slot plus pixel geometry.
type blockDTO struct {
	Event        eventDTO `json:"event"`
	Column       int      `json:"column"`
	TotalColumns int      `json:"total_columns"`
	Span         int      `json:"span"`
	Cluster      int      `json:"cluster"`
	X            float64  `json:"x"`
	Y            float64  `json:"y"`
	Width        float64  `json:"width"`
	Height       float64  `json:"height"`
}

// DayResponse is the JSON shape of /api/day.
type DayResponse struct {
	Date   string     `json:"date"`
	AllDay []eventDTO `json:"all_day"`
	Blocks []blockDTO `json:"blocks"`
	Width  float64    `json:"width"`
	Height float64    `json:"height"`
}

// WeekResponse is the JSON shape of /api/week.
type WeekResponse struct {
	Start string        `json:"start"`
	Days  []DayResponse `json:"days"`
}

type eventsResponse struct {
	Events        []eventDTO `json:"events"`
	TruncatedUIDs []string   `json:"truncated_uids,omitempty"`
	RefreshedAt   time.Time  `json:"refreshed_at"`
	Timezone      string     `json:"display_timezone"`
}

type refreshResponse struct {
	Events int      `json:"events"`
	Errors []string `json:"errors,omitempty"`
}

func toEventDTO(e model.Event) eventDTO {
	return eventDTO{
		ID:          e.ID,
		SourceID:    e.SourceID,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		Color:       e.CategoryColor,
		AllDay:      e.AllDay,
		Start:       e.Start,
		End:         e.End,
	}
}

func toEventDTOs(events []model.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, toEventDTO(e))
	}
	return out
}

// NewDayResponse converts a day view into its JSON shape.
func NewDayResponse(v agenda.DayView) DayResponse {
	blocks := make([]blockDTO, 0, len(v.Blocks))
	for _, b := range v.Blocks {
		blocks = append(blocks, blockDTO{
			Event:        toEventDTO(b.Event),
			Column:       b.Column,
			TotalColumns: b.TotalColumns,
			Span:         b.Span,
			Cluster:      b.Cluster,
			X:            b.Rect.X,
			Y:            b.Rect.Y,
			Width:        b.Rect.Width,
			Height:       b.Rect.Height,
		})
	}
	return DayResponse{
		Date:   v.Date.Format(dateLayout),
		AllDay: toEventDTOs(v.AllDay),
		Blocks: blocks,
		Width:  v.Frame.Width,
		Height: v.Height,
	}
}

// NewWeekResponse converts a week view into its JSON shape.
func NewWeekResponse(week agenda.WeekView) WeekResponse {
	resp := WeekResponse{Start: week.Start.Format(dateLayout), Days: make([]DayResponse, 0, len(week.Days))}
	for _, d := range week.Days {
		resp.Days = append(resp.Days, NewDayResponse(d))
	}
	return resp
}

// GET /api/day?date=YYYY-MM-DD
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	date, ok := s.parseDate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewDayResponse(s.svc.Day(date)))
}

// GET /api/week?date=YYYY-MM-DD
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	date, ok := s.parseDate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewWeekResponse(s.svc.Week(date)))
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	refreshedAt, truncated := s.svc.Status()
	writeJSON(w, http.StatusOK, eventsResponse{
		Events:        toEventDTOs(s.svc.Events()),
		TruncatedUIDs: truncated,
		RefreshedAt:   refreshedAt,
		Timezone:      s.svc.Location().String(),
	})
}

// POST /api/refresh re-fetches every source now. Per-source failures are
// reported but do not fail the request; the failed sources keep their
// previous events.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.Refresh(r.Context())
	resp := refreshResponse{Events: n}
	if err != nil {
		appLog.Error("api refresh had failures", err)
		resp.Errors = splitErrors(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDaySVG(w http.ResponseWriter, r *http.Request) {
	date, ok := s.parseDate(w, r)
	if !ok {
		return
	}
	writeSVG(w, render.DaySVG(s.svc.Day(date), s.render))
}

func (s *Server) handleWeekSVG(w http.ResponseWriter, r *http.Request) {
	date, ok := s.parseDate(w, r)
	if !ok {
		return
	}
	writeSVG(w, render.WeekSVG(s.svc.Week(date), s.render))
}

// parseDate reads ?date=YYYY-MM-DD in the display timezone, defaulting to
// today. On a malformed value it writes a 400 and returns false.
func (s *Server) parseDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return s.svc.Now(), true
	}
	t, err := time.ParseInLocation(dateLayout, raw, s.svc.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return t, true
}

// splitErrors unwraps an errors.Join result into its messages.
func splitErrors(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs := joined.Unwrap()
		out := make([]string, 0, len(errs))
		for _, e := range errs {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}

func writeSVG(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "image/svg+xml; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
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
