package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/vitalcore/internal/classify"
	"github.com/nidhogg/vitalcore/internal/embedding"
	"github.com/nidhogg/vitalcore/internal/events"
	"github.com/nidhogg/vitalcore/internal/gateway"
	"github.com/nidhogg/vitalcore/internal/graph"
	"github.com/nidhogg/vitalcore/internal/liaison"
	"github.com/nidhogg/vitalcore/internal/memory"
	"github.com/nidhogg/vitalcore/internal/oracle"
	"github.com/nidhogg/vitalcore/internal/profile"
	"github.com/nidhogg/vitalcore/internal/risk"
	"github.com/nidhogg/vitalcore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type echoChatter struct{}

func (echoChatter) Chat(_ context.Context, history []oracle.Message, msg string) liaison.Reply {
	return liaison.Reply{Content: "echo: " + msg}
}

type silentOracle struct{}

func (silentOracle) GenerateStructured(context.Context, string, oracle.Schema, string) (string, error) {
	return "", errors.New("offline")
}

func (silentOracle) GenerateChat(context.Context, []oracle.Message) (string, error) {
	return "", errors.New("offline")
}

type fixedPlans struct {
	level string
	limit int
}

func (f *fixedPlans) RecentPlans(_ context.Context, level string, limit int) ([]*store.PlanRecord, error) {
	f.level, f.limit = level, limit
	return []*store.PlanRecord{{ID: "p1", RiskLevel: "HIGH", Summary: "Stop."}}, nil
}

type testEnv struct {
	handler  *Handler
	server   *httptest.Server
	profiles *profile.Service
	graph    *graph.Service
	memories *memory.Store
	plans    *fixedPlans
	mu       sync.Mutex
	ingested []events.Event
}

// newTestEnv wires the handler with in-memory services (no Postgres, Neo4j or Qdrant).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	dir := t.TempDir()
	ctx := context.Background()

	env := &testEnv{plans: &fixedPlans{}}
	bus := events.NewBus(logger)
	require.NoError(t, bus.Subscribe(events.DataIngested, func(_ context.Context, e events.Event) error {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.ingested = append(env.ingested, e)
		return nil
	}))

	env.profiles = profile.NewService(ctx, profile.FileBackend{Path: filepath.Join(dir, "profile.json")}, logger)
	env.graph = graph.NewService(filepath.Join(dir, "graph.json"), classify.Default(), logger)
	env.memories = memory.NewStore(silentOracle{}, memory.Prompts{}, embedding.NewHashProvider(64), memory.NewMemIndex(), logger,
		memory.WithSink(env.graph), memory.WithPruner(env.graph))
	engine := risk.NewEngine(env.profiles, env.graph, logger)

	gw := gateway.NewGateway(logger)
	env.handler = NewHandler(Deps{
		Bus:     bus,
		Liaison: echoChatter{},
		Graph:   env.graph,
		Risk:    engine,
		Profile: env.profiles,
		Memory:  env.memories,
		Plans:   env.plans,
		Alerts:  gateway.NewBroadcaster(gw, logger),
		Gateway: gw,
		Hub:     gateway.NewHub(logger),
	}, logger)
	env.server = httptest.NewServer(env.handler.Router())
	t.Cleanup(env.server.Close)
	return env
}

func (env *testEnv) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(env.server.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err, "POST %s", path)
	return resp
}

func (env *testEnv) put(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPut, env.server.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "PUT %s", path)
	return resp
}

func (env *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(env.server.URL + path)
	require.NoError(t, err, "GET %s", path)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/api/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestIngestPublishesEvent(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/api/ingest", map[string]any{"text": "Coding for hours, headache", "type": "log", "duration": 200})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	env.handler.Wait()
	env.mu.Lock()
	defer env.mu.Unlock()
	require.Len(t, env.ingested, 1)
	e := env.ingested[0]
	assert.Equal(t, "api", e.Source)
	assert.Equal(t, "Coding for hours, headache", e.String("text"))
	d, ok := e.Int("duration")
	assert.True(t, ok)
	assert.Equal(t, 200, d)
}

func TestIngestRejectsEmptyText(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/api/ingest", map[string]any{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	env.handler.Wait()
	assert.Empty(t, env.ingested)
}

func TestChat(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/api/chat", map[string]string{"message": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply liaison.Reply
	decodeJSON(t, resp, &reply)
	assert.Equal(t, "echo: hello", reply.Content)

	resp = env.post(t, "/api/chat", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestRiskScoreUsesTextDuration(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/api/risk/score", map[string]any{"text": "Severe headache. Duration: 300"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res risk.Result
	decodeJSON(t, resp, &res)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, risk.High, res.Level)

	resp = env.post(t, "/api/risk/score", map[string]any{"text": "Severe headache. Duration: 300", "duration": 0})
	decodeJSON(t, resp, &res)
	assert.Equal(t, 0.8, res.Score)
}

func TestOverridesSuppressScoring(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/api/risk/overrides", map[string]any{"risk_type": risk.TypeSymptoms, "duration_minutes": 30})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var active []risk.Override
	decodeJSON(t, resp, &active)
	require.Len(t, active, 1)
	assert.Equal(t, risk.TypeSymptoms, active[0].RiskType)
	assert.True(t, active[0].ExpiresAt.After(time.Now()))

	resp = env.post(t, "/api/risk/score", map[string]any{"text": "severe headache", "duration": 0})
	var res risk.Result
	decodeJSON(t, resp, &res)
	assert.Equal(t, 0.0, res.Score)

	resp = env.post(t, "/api/risk/overrides", map[string]any{"risk_type": "", "duration_minutes": 30})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestFeedbackLowersModifier(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/api/risk/feedback", map[string]any{"risk_type": risk.ModSedentary, "amount": 0.2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	decodeJSON(t, resp, &body)
	assert.InDelta(t, 0.8, body["modifier"], 1e-9)
	assert.InDelta(t, 0.8, env.profiles.RiskModifier(risk.ModSedentary), 1e-9)

	for i := 0; i < 5; i++ {
		env.post(t, "/api/risk/feedback", map[string]any{"risk_type": risk.ModSedentary}).Body.Close()
	}
	assert.InDelta(t, 0.5, env.profiles.RiskModifier(risk.ModSedentary), 1e-9)
}

func TestFeedbackRejectsNonPositiveAmount(t *testing.T) {
	env := newTestEnv(t)
	for _, amount := range []float64{-0.5, 0} {
		resp := env.post(t, "/api/risk/feedback", map[string]any{"risk_type": risk.ModSedentary, "amount": amount})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "amount %v", amount)
		resp.Body.Close()
	}
	assert.Equal(t, 1.0, env.profiles.RiskModifier(risk.ModSedentary))
}

func TestProfileEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.put(t, "/api/profile", map[string]string{"name": "Ada", "role": "Engineer"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = env.post(t, "/api/profile/conditions", map[string]string{"value": "Lower back pain"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p profile.Profile
	decodeJSON(t, resp, &p)
	assert.Equal(t, "Ada", p.Name)
	assert.Contains(t, p.Conditions, "Lower back pain")
	assert.Equal(t, 1.5, p.RiskModifiers[profile.Sedentary])

	resp = env.post(t, "/api/profile/preferences", map[string]any{"key": "mute_hydration", "value": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.True(t, env.profiles.BoolPreference("mute_hydration"))

	resp = env.post(t, "/api/profile/moods", map[string]string{"value": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = env.post(t, "/api/profile/traits", map[string]string{"value": "x", "action": "toggle"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestMemoriesAndGraph(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.memories.Add(ctx, "Coding the login page")
	require.NoError(t, err)
	_, err = env.memories.Add(ctx, "Watching a youtube video")
	require.NoError(t, err)

	var all []memory.Entry
	decodeJSON(t, env.get(t, "/api/memories"), &all)
	assert.Len(t, all, 2)

	var found []memory.Entry
	decodeJSON(t, env.get(t, "/api/memories/search?q=login+coding&k=1"), &found)
	require.Len(t, found, 1)

	resp := env.get(t, "/api/memories/search")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	var doc graph.Document
	decodeJSON(t, env.get(t, "/api/graph"), &doc)
	assert.True(t, doc.Directed)
	assert.NotEmpty(t, doc.Nodes)

	var activity []graph.Activity
	decodeJSON(t, env.get(t, "/api/graph/activity?limit=1"), &activity)
	assert.Len(t, activity, 1)
}

func TestConsolidateNothing(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/api/memories/consolidate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	decodeJSON(t, resp, &body)
	assert.Equal(t, "nothing to consolidate", body["status"])
}

func TestPlansAndAlerts(t *testing.T) {
	env := newTestEnv(t)
	var plans []store.PlanRecord
	decodeJSON(t, env.get(t, "/api/plans?level=high&limit=5"), &plans)
	require.Len(t, plans, 1)
	assert.Equal(t, "HIGH", env.plans.level)
	assert.Equal(t, 5, env.plans.limit)

	var alerts []gateway.AlertRecord
	decodeJSON(t, env.get(t, "/api/alerts"), &alerts)
	assert.Empty(t, alerts)

	var statuses []gateway.AdapterStatus
	decodeJSON(t, env.get(t, "/api/gateway/status"), &statuses)
	assert.Empty(t, statuses)
}

func TestMissingServicesAnswerUnavailable(t *testing.T) {
	h := NewHandler(Deps{}, zap.NewNop())
	ts := httptest.NewServer(h.Router())
	defer ts.Close()

	for _, path := range []string{"/api/graph", "/api/profile", "/api/memories", "/api/plans", "/api/alerts"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
		resp.Body.Close()
	}
}
