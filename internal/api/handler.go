package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/vitalcore/internal/gateway"
	"github.com/nidhogg/vitalcore/internal/graph"
	"github.com/nidhogg/vitalcore/internal/ingest"
	"github.com/nidhogg/vitalcore/internal/liaison"
	"github.com/nidhogg/vitalcore/internal/memory"
	"github.com/nidhogg/vitalcore/internal/oracle"
	"github.com/nidhogg/vitalcore/internal/profile"
	"github.com/nidhogg/vitalcore/internal/risk"
	"github.com/nidhogg/vitalcore/internal/store"
	"go.uber.org/zap"
)

// Chatter answers chat messages.
type Chatter interface {
	Chat(ctx context.Context, history []oracle.Message, msg string) liaison.Reply
}

// GraphView is the read side of the knowledge graph.
type GraphView interface {
	Export() graph.Document
	GetRecentActivity(limit int) []graph.Activity
}

// RiskService is the risk engine surface exposed over HTTP.
type RiskService interface {
	CalculateDeterministicRisk(text string, durationMinutes int) risk.Result
	SetOverride(riskType string, durationMinutes int)
	ActiveOverrides() []risk.Override
	AdjustTolerance(ctx context.Context, riskType string, amount float64) (float64, error)
}

// ProfileService reads and mutates the user profile.
type ProfileService interface {
	Get() *profile.Profile
	SetIdentity(ctx context.Context, name, role string) error
	UpdateTrait(ctx context.Context, trait, action string) error
	UpdateCondition(ctx context.Context, condition, action string) error
	UpdateHabit(ctx context.Context, habit, action string) error
	SetPreference(ctx context.Context, key string, value any) error
}

// Memories is the episodic memory store.
type Memories interface {
	All(ctx context.Context) ([]memory.Entry, error)
	Recall(ctx context.Context, query string, k int) ([]memory.Entry, error)
	Consolidate(ctx context.Context) (*memory.Entry, error)
}

// PlanHistory lists archived council plans.
type PlanHistory interface {
	RecentPlans(ctx context.Context, level string, limit int) ([]*store.PlanRecord, error)
}

// AlertHistory lists sent interventions.
type AlertHistory interface {
	History(limit int) []gateway.AlertRecord
}

// GatewayStatus reports chat adapter health.
type GatewayStatus interface {
	Status() []gateway.AdapterStatus
}

// Deps are the services behind the HTTP surface. Nil services answer 503.
type Deps struct {
	Bus     ingest.Publisher
	Liaison Chatter
	Graph   GraphView
	Risk    RiskService
	Profile ProfileService
	Memory  Memories
	Plans   PlanHistory
	Alerts  AlertHistory
	Gateway GatewayStatus
	Hub     http.Handler
	HubPath string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps     Deps
	inflight sync.WaitGroup
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if deps.HubPath == "" {
		deps.HubPath = "/ws"
	}
	return &Handler{deps: deps, logger: logger}
}

// Wait blocks until every accepted ingest has been processed.
func (h *Handler) Wait() { h.inflight.Wait() }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	if h.deps.Hub != nil {
		r.Handle(h.deps.HubPath, h.deps.Hub)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/ingest", h.ingest)
		r.Post("/chat", h.chat)

		// Knowledge graph
		r.Get("/graph", h.exportGraph)
		r.Get("/graph/activity", h.recentActivity)

		// Risk engine
		r.Post("/risk/score", h.scoreRisk)
		r.Get("/risk/overrides", h.listOverrides)
		r.Post("/risk/overrides", h.setOverride)
		r.Post("/risk/feedback", h.riskFeedback)

		// Profile
		r.Get("/profile", h.getProfile)
		r.Put("/profile", h.updateIdentity)
		r.Post("/profile/preferences", h.setPreference)
		r.Post("/profile/{list}", h.updateProfileList)

		// Memory
		r.Get("/memories", h.listMemories)
		r.Get("/memories/search", h.searchMemories)
		r.Post("/memories/consolidate", h.consolidate)

		// History
		r.Get("/plans", h.listPlans)
		r.Get("/alerts", h.listAlerts)
		r.Get("/gateway/status", h.gatewayStatus)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "vitalcore"})
}

type ingestRequest struct {
	ingest.Reading
	Source string `json:"source"`
}

// ingest validates the reading synchronously and runs the analysis in the
// background; results reach clients over the websocket.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	if h.deps.Bus == nil {
		unavailable(w, "event bus")
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}
	e, err := req.Reading.Event(source)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		if err := h.deps.Bus.Publish(ctx, e); err != nil {
			h.logger.Warn("ingest publish failed", zap.String("source", e.Source), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

type chatRequest struct {
	Message string           `json:"message"`
	History []oracle.Message `json:"history,omitempty"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	if h.deps.Liaison == nil {
		unavailable(w, "liaison")
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Liaison.Chat(r.Context(), req.History, req.Message))
}

func (h *Handler) exportGraph(w http.ResponseWriter, r *http.Request) {
	if h.deps.Graph == nil {
		unavailable(w, "graph")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Graph.Export())
}

func (h *Handler) recentActivity(w http.ResponseWriter, r *http.Request) {
	if h.deps.Graph == nil {
		unavailable(w, "graph")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Graph.GetRecentActivity(queryInt(r, "limit", 5)))
}

type scoreRequest struct {
	Text     string `json:"text"`
	Duration *int   `json:"duration,omitempty"`
}

func (h *Handler) scoreRisk(w http.ResponseWriter, r *http.Request) {
	if h.deps.Risk == nil {
		unavailable(w, "risk engine")
		return
	}
	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	duration := 0
	if req.Duration != nil {
		duration = *req.Duration
	} else if d, ok := risk.ExtractDuration(req.Text); ok {
		duration = d
	}
	writeJSON(w, http.StatusOK, h.deps.Risk.CalculateDeterministicRisk(req.Text, duration))
}

func (h *Handler) listOverrides(w http.ResponseWriter, r *http.Request) {
	if h.deps.Risk == nil {
		unavailable(w, "risk engine")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Risk.ActiveOverrides())
}

type overrideRequest struct {
	RiskType        string `json:"risk_type"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (h *Handler) setOverride(w http.ResponseWriter, r *http.Request) {
	if h.deps.Risk == nil {
		unavailable(w, "risk engine")
		return
	}
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.RiskType) == "" || req.DurationMinutes <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "risk_type and positive duration_minutes are required"})
		return
	}
	h.deps.Risk.SetOverride(req.RiskType, req.DurationMinutes)
	writeJSON(w, http.StatusCreated, h.deps.Risk.ActiveOverrides())
}

type feedbackRequest struct {
	RiskType string   `json:"risk_type"`
	Amount   *float64 `json:"amount,omitempty"`
}

// riskFeedback handles "that alert was wrong": the modifier for the risk
// type is lowered so similar signals score lower next time.
func (h *Handler) riskFeedback(w http.ResponseWriter, r *http.Request) {
	if h.deps.Risk == nil {
		unavailable(w, "risk engine")
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.RiskType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "risk_type is required"})
		return
	}
	amount := 0.1
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 || amount > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount must be in (0, 1]"})
		return
	}
	next, err := h.deps.Risk.AdjustTolerance(r.Context(), req.RiskType, amount)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"risk_type": req.RiskType, "modifier": next})
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	if h.deps.Profile == nil {
		unavailable(w, "profile")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Profile.Get())
}

type identityRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

func (h *Handler) updateIdentity(w http.ResponseWriter, r *http.Request) {
	if h.deps.Profile == nil {
		unavailable(w, "profile")
		return
	}
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.deps.Profile.SetIdentity(r.Context(), req.Name, req.Role); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Profile.Get())
}

type listUpdateRequest struct {
	Value  string `json:"value"`
	Action string `json:"action"`
}

func (h *Handler) updateProfileList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Profile == nil {
		unavailable(w, "profile")
		return
	}
	var update func(context.Context, string, string) error
	switch chi.URLParam(r, "list") {
	case "traits":
		update = h.deps.Profile.UpdateTrait
	case "conditions":
		update = h.deps.Profile.UpdateCondition
	case "habits":
		update = h.deps.Profile.UpdateHabit
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown profile list"})
		return
	}

	var req listUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Action == "" {
		req.Action = "add"
	}
	if strings.TrimSpace(req.Value) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "value is required"})
		return
	}
	if err := update(r.Context(), req.Value, req.Action); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Profile.Get())
}

type preferenceRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (h *Handler) setPreference(w http.ResponseWriter, r *http.Request) {
	if h.deps.Profile == nil {
		unavailable(w, "profile")
		return
	}
	var req preferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key is required"})
		return
	}
	if err := h.deps.Profile.SetPreference(r.Context(), req.Key, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Profile.Get())
}

func (h *Handler) listMemories(w http.ResponseWriter, r *http.Request) {
	if h.deps.Memory == nil {
		unavailable(w, "memory")
		return
	}
	entries, err := h.deps.Memory.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) searchMemories(w http.ResponseWriter, r *http.Request) {
	if h.deps.Memory == nil {
		unavailable(w, "memory")
		return
	}
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q is required"})
		return
	}
	entries, err := h.deps.Memory.Recall(r.Context(), q, queryInt(r, "k", 3))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) consolidate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Memory == nil {
		unavailable(w, "memory")
		return
	}
	summary, err := h.deps.Memory.Consolidate(r.Context())
	if errors.Is(err, memory.ErrNothingToConsolidate) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "nothing to consolidate"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	if h.deps.Plans == nil {
		unavailable(w, "plan archive")
		return
	}
	level := strings.ToUpper(r.URL.Query().Get("level"))
	plans, err := h.deps.Plans.RecentPlans(r.Context(), level, queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if h.deps.Alerts == nil {
		unavailable(w, "broadcaster")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Alerts.History(queryInt(r, "limit", 50)))
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gateway == nil {
		unavailable(w, "gateway")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Gateway.Status())
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func unavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": what + " not initialized"})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
