package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"rinocal/internal/classify"
	"rinocal/internal/config"
	appLog "rinocal/internal/log"
	"rinocal/internal/model"
	"rinocal/internal/registry"
	"rinocal/internal/status"
	"rinocal/internal/updater"
)

// DefaultTitle replaces an empty event summary in listings.
const DefaultTitle = "Müsait Değil"

const eventsCacheTTL = 30 * time.Second

// Runner runs the description update job.
type Runner interface {
	Run(ctx context.Context) (updater.Report, error)
}

// Deps are the collaborators behind the API.
type Deps struct {
	Registry *registry.Service
	Updater  Runner
	Prober   *status.Prober
}

// Server provides the HTTP API.
type Server struct {
	cfg  *config.Config
	loc  *time.Location
	deps Deps
	mux  *http.ServeMux
	now  func() time.Time

	// Last /api/events response, reused for eventsCacheTTL.
	eventsMu    sync.RWMutex
	eventsCache *eventsCache
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, loc *time.Location, deps Deps) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		cfg:  cfg,
		loc:  loc,
		deps: deps,
		mux:  http.NewServeMux(),
		now:  time.Now,
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

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards every route except /health. The cron route is
// also let through when a cron secret is configured; it checks its own
// bearer token.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || (r.URL.Path == cronPath && s.cfg.CronSecret != "") {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="rinocal", charset="UTF-8"`)
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

const cronPath = "/api/cron/update-descriptions"

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/patient-db", s.handlePatientDB)
	s.mux.HandleFunc(cronPath, s.handleCron)
	s.mux.HandleFunc("/api/version", s.handleVersion)
	s.mux.HandleFunc("/api/system-status", s.handleSystemStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// eventDTO is a classified calendar event.
type eventDTO struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	AllDay      bool           `json:"allDay,omitempty"`
	Category    model.Category `json:"category"`
	Color       string         `json:"color,omitempty"`
	Location    string         `json:"location,omitempty"`
	Description string         `json:"description,omitempty"`
}

type eventsCache struct {
	resp      []eventDTO
	updatedAt time.Time
}

// handleEvents returns every classified event since calendar.since,
// without the ignored ones.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && s.now().Sub(ec.updatedAt) < eventsCacheTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	svc := s.deps.Registry
	raw, err := svc.Events.Events(r.Context(), svc.Since)
	if err != nil {
		appLog.Error("api events: fetch failed", err)
		writeError(w, http.StatusBadGateway, "failed to fetch calendar events")
		return
	}

	resp := make([]eventDTO, 0, len(raw))
	for _, ev := range raw {
		if ev.Validate() != nil {
			continue
		}
		title := ev.Title
		if strings.TrimSpace(title) == "" {
			title = DefaultTitle
		}
		cat := classify.Classify(title, ev.Color, ev.Start, ev.End)
		if cat == model.CategoryIgnore {
			continue
		}
		resp = append(resp, eventDTO{
			ID:          ev.ID,
			Title:       title,
			Start:       ev.Start.In(s.loc),
			End:         ev.End.In(s.loc),
			AllDay:      ev.AllDay,
			Category:    cat,
			Color:       colorHex(ev.Color),
			Location:    ev.Location,
			Description: ev.Description,
		})
	}
	appLog.Info("api events served", "raw", len(raw), "events", len(resp))

	s.eventsMu.Lock()
	s.eventsCache = &eventsCache{resp: resp, updatedAt: s.now()}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// colorHex resolves a color id; hex values pass through.
func colorHex(c string) string {
	if c == "" || strings.HasPrefix(c, "#") {
		return c
	}
	return model.ColorHex[c]
}

type patientDBResponse struct {
	// Source names the event source the registry was built from, e.g.
	// "snapshot" when the live calendar was unreachable.
	Source    string                 `json:"source,omitempty"`
	Patients  []*model.PatientRecord `json:"patients"`
	Conflicts []registry.Conflict    `json:"conflicts"`
	Skipped   int                    `json:"skipped"`
}

func (s *Server) handlePatientDB(w http.ResponseWriter, r *http.Request) {
	res, _, err := s.deps.Registry.Load(r.Context())
	if err != nil {
		appLog.Error("api patient-db: build failed", err)
		writeError(w, statusFor(err), "failed to build patient registry")
		return
	}
	conflicts := res.Conflicts
	if conflicts == nil {
		conflicts = []registry.Conflict{}
	}
	patients := res.Patients
	if patients == nil {
		patients = []*model.PatientRecord{}
	}
	writeJSON(w, http.StatusOK, patientDBResponse{
		Source:    s.deps.Registry.Served(),
		Patients:  patients,
		Conflicts: conflicts,
		Skipped:   res.Skipped,
	})
}

func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	if secret := s.cfg.CronSecret; secret != "" {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !secureCompare(token, secret) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	report, err := s.deps.Updater.Run(r.Context())
	if err != nil {
		appLog.Error("api cron: update failed", err)
		writeJSON(w, statusFor(err), map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, status.Current(s.loc))
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Prober == nil {
		writeJSON(w, http.StatusOK, status.Report{Statuses: []status.PeerStatus{}, SourceLastModified: status.Current(s.loc).LastModified})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Prober.Check(r.Context(), status.Current(s.loc)))
}

func statusFor(err error) int {
	if errors.Is(err, registry.ErrUpstreamFetch) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, code, errResp{Error: msg})
}
