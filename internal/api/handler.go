package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/pacerhq/pacer/internal/actor"
	"github.com/pacerhq/pacer/internal/coach"
	"github.com/pacerhq/pacer/internal/gateway"
	"github.com/pacerhq/pacer/internal/payload"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	dispatcher *actor.Dispatcher
	restGW     *gateway.RESTAdapter
	logger     *zap.Logger
}

// NewHandler creates the API handler. restGW may be nil when the REST
// gateway is not mounted.
func NewHandler(dispatcher *actor.Dispatcher, restGW *gateway.RESTAdapter, logger *zap.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, restGW: restGW, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/chat", h.chat)
		r.Get("/profile", h.getProfile)
		r.Patch("/profile", h.patchProfile)
		r.Post("/activities", h.logActivity)
		r.Post("/plans", h.savePlan)
		r.Get("/usage", h.getUsage)

		if h.restGW != nil {
			r.Mount("/gateway/rest", h.restGW.Routes())
		}
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pacer"})
}

// chat accepts a conversation payload and relays the provider's event
// stream byte for byte, flushing after every read.
func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	stream, err := h.dispatcher.Handle(r.Context(), r.Body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer stream.Body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := stream.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			return
		}
	}
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	identity := coach.NormalizeIdentity(r.URL.Query().Get("identity"))
	if identity == "" {
		active, err := h.dispatcher.ActiveIdentity(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		if active == "" {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active identity"})
			return
		}
		identity = active
	}

	p, err := h.dispatcher.Snapshot(r.Context(), identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if p == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "profile not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type profilePatchRequest struct {
	Identity     string  `json:"identity"`
	Name         *string `json:"name,omitempty"`
	Experience   *string `json:"experience,omitempty"`
	Goal         *string `json:"goal,omitempty"`
	Availability *string `json:"availability,omitempty"`
	Event        *string `json:"event,omitempty"`
	Notes        *string `json:"notes,omitempty"`
	Feedback     *string `json:"feedback,omitempty"`
}

func (h *Handler) patchProfile(w http.ResponseWriter, r *http.Request) {
	var req profilePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	identity := coach.NormalizeIdentity(req.Identity)
	if !payload.ValidIdentity(identity) {
		writeIssue(w, []string{"identity"}, "identity must be an email address")
		return
	}

	facts := coach.Facts{
		Name:         req.Name,
		Goal:         req.Goal,
		Availability: req.Availability,
		Event:        req.Event,
		Notes:        req.Notes,
		Feedback:     req.Feedback,
	}
	if req.Experience != nil {
		if *req.Experience == "" {
			cleared := coach.ExperienceTier("")
			facts.Experience = &cleared
		} else {
			tier, err := coach.ParseTier(*req.Experience)
			if err != nil {
				writeIssue(w, []string{"experience"}, err.Error())
				return
			}
			facts.Experience = &tier
		}
	}

	p, err := h.dispatcher.UpdateFacts(r.Context(), identity, facts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type activityRequest struct {
	Identity string `json:"identity"`
	Date     string `json:"date,omitempty"`
	Distance string `json:"distance,omitempty"`
	Duration string `json:"duration,omitempty"`
	Effort   string `json:"effort,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

func (h *Handler) logActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	identity := coach.NormalizeIdentity(req.Identity)
	if !payload.ValidIdentity(identity) {
		writeIssue(w, []string{"identity"}, "identity must be an email address")
		return
	}

	entry := coach.ActivityEntry{
		Distance: req.Distance,
		Duration: req.Duration,
		Notes:    req.Notes,
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			writeIssue(w, []string{"date"}, "date must be YYYY-MM-DD")
			return
		}
		entry.Date = date
	}
	if req.Effort != "" {
		effort, err := coach.ParseEffort(req.Effort)
		if err != nil {
			writeIssue(w, []string{"effort"}, err.Error())
			return
		}
		entry.Effort = effort
	}

	p, err := h.dispatcher.LogActivity(r.Context(), identity, entry)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type planRequest struct {
	Identity string `json:"identity"`
	Title    string `json:"title,omitempty"`
	Focus    string `json:"focus,omitempty"`
	Summary  string `json:"summary"`
	Schedule string `json:"schedule,omitempty"`
}

func (h *Handler) savePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}
	identity := coach.NormalizeIdentity(req.Identity)
	if !payload.ValidIdentity(identity) {
		writeIssue(w, []string{"identity"}, "identity must be an email address")
		return
	}

	record := coach.PlanRecord{
		Title:    req.Title,
		Focus:    req.Focus,
		Summary:  req.Summary,
		Schedule: req.Schedule,
	}
	p, err := h.dispatcher.SavePlan(r.Context(), identity, record)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type usageResponse struct {
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	Remaining   int       `json:"remaining"`
}

func (h *Handler) getUsage(w http.ResponseWriter, r *http.Request) {
	identity := coach.NormalizeIdentity(r.URL.Query().Get("identity"))
	if !payload.ValidIdentity(identity) {
		writeIssue(w, []string{"identity"}, "identity must be an email address")
		return
	}

	window, remaining, err := h.dispatcher.Usage(r.Context(), identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usageResponse{
		Count:       window.Count,
		WindowStart: window.WindowStart,
		Remaining:   remaining,
	})
}

type errorResponse struct {
	Error  string          `json:"error"`
	Issues []payload.Issue `json:"issues,omitempty"`
}

// writeError maps a pipeline error onto the wire. Internal failures
// are logged in full and reported generically.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, msg, issues := actor.Describe(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: msg, Issues: issues})
}

func writeIssue(w http.ResponseWriter, path []string, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:  "invalid request",
		Issues: []payload.Issue{{Path: path, Message: msg}},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
