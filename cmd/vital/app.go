package main

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/nidhogg/vitalcore/internal/classify"
	"github.com/nidhogg/vitalcore/internal/config"
	"github.com/nidhogg/vitalcore/internal/council"
	"github.com/nidhogg/vitalcore/internal/embedding"
	"github.com/nidhogg/vitalcore/internal/graph"
	"github.com/nidhogg/vitalcore/internal/liaison"
	"github.com/nidhogg/vitalcore/internal/memory"
	"github.com/nidhogg/vitalcore/internal/oracle"
	"github.com/nidhogg/vitalcore/internal/profile"
	"github.com/nidhogg/vitalcore/internal/provider"
	"github.com/nidhogg/vitalcore/internal/pulse"
	"github.com/nidhogg/vitalcore/internal/risk"
	pgstore "github.com/nidhogg/vitalcore/internal/store"
	"github.com/nidhogg/vitalcore/internal/vectorstore"
	"go.uber.org/zap"
)

// roles are the Oracle personas that can be bound to a provider.
var roles = []string{"", "triage", "doctor", "coach", "synthesizer", "liaison", "enricher", "memory"}

// app is the core object graph shared by every subcommand. Optional
// backends are nil when unconfigured or unreachable.
type app struct {
	cfg        *config.Config
	prompts    *oracle.Prompts
	oracle     *oracle.Client
	classifier *classify.KeywordClassifier
	pg         *pgstore.Store
	mirror     *graph.Neo4jMirror
	qdrant     *vectorstore.Client
	profiles   *profile.Service
	graph      *graph.Service
	memory     *memory.Store
	risk       *risk.Engine
	council    *council.Council
	liaison    *liaison.Liaison
	ledger     pulse.Ledger
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && configPath == "" {
		logger.Warn("config file not found, using defaults", zap.String("path", path))
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("Config loaded", zap.String("path", path))
	return cfg, nil
}

// newApp wires the core services. Unreachable backends degrade to local
// fallbacks with a warning.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	// Oracle
	a.prompts = oracle.DefaultPrompts()
	if cfg.Oracle.PromptsPath != "" {
		p, err := oracle.LoadPrompts(cfg.Oracle.PromptsPath)
		if err != nil {
			logger.Warn("prompt file unusable, using embedded prompts", zap.Error(err))
		} else {
			a.prompts = p
		}
	}
	a.oracle = oracle.NewClient(newProviderRouter(ctx, cfg), cfg.Oracle.Model, cfg.Oracle.Timeout(), logger)

	// Classifier
	a.classifier = classify.Default()
	if cfg.Classifier.RulesPath != "" {
		rules, err := classify.LoadRules(cfg.Classifier.RulesPath)
		if err != nil {
			logger.Warn("classifier rules unusable, using defaults", zap.Error(err))
		} else if err := a.classifier.Replace(rules); err != nil {
			logger.Warn("classifier rules rejected, using defaults", zap.Error(err))
		}
	}

	// PostgreSQL
	if cfg.Database.Postgres.DSN != "" {
		ps, err := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if err != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(err))
		} else if err := ps.Migrate(ctx); err != nil {
			ps.Close()
			return nil, err
		} else {
			a.pg = ps
		}
	}

	// Profile
	var backend profile.Backend = profile.FileBackend{Path: cfg.Profile.Path}
	if a.pg != nil {
		backend = profile.PGBackend{Store: a.pg, ID: cfg.Profile.ID}
	}
	a.profiles = profile.NewService(ctx, backend, logger)

	// Knowledge graph
	graphOpts := []graph.Option{
		graph.WithBreakGap(cfg.Graph.BreakGapMinutes),
		graph.WithEnricher(graph.NewOracleEnricher(a.oracle.WithRole("enricher"), a.prompts.Graph.Enrichment, logger)),
	}
	if cfg.Database.Neo4j.URI != "" {
		m, err := graph.NewNeo4jMirror(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if err == nil {
			err = m.EnsureSchema(ctx)
		}
		if err != nil {
			logger.Warn("Neo4j unavailable, running without graph mirror", zap.Error(err))
		} else {
			a.mirror = m
			graphOpts = append(graphOpts, graph.WithMirror(m))
		}
	}
	a.graph = graph.NewService(cfg.Graph.Path, a.classifier, logger, graphOpts...)

	// Memory
	embedder, err := embedding.New(ctx, embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	}, logger)
	if err != nil {
		logger.Warn("embedding provider unavailable, using hashing fallback", zap.Error(err))
		embedder = embedding.NewHashProvider(cfg.Embedding.Dimension)
	}
	a.memory = memory.NewStore(a.oracle.WithRole("memory"), memory.Prompts{
		Extraction:    a.prompts.Memory.Extraction,
		Consolidation: a.prompts.Memory.Consolidation,
	}, embedder, a.newIndex(ctx, embedder), logger, a.memoryOptions()...)

	// Risk, council, liaison
	a.risk = risk.NewEngine(a.profiles, a.graph, logger, risk.WithGrindThreshold(cfg.Graph.GrindThresholdMinutes))
	a.council, err = council.New(a.oracle, council.Prompts{
		Triage:      a.prompts.Council.Triage,
		Doctor:      a.prompts.Council.Doctor,
		Coach:       a.prompts.Council.Coach,
		Synthesizer: a.prompts.Council.Synthesizer,
	}, a.memory, a.risk, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	tools := liaison.NewToolRegistry()
	liaison.RegisterBuiltinTools(tools, a.profiles, a.memory, a.graph, a.risk)
	a.liaison = liaison.New(a.oracle.WithRole("liaison"), a.prompts.Liaison.System, a.profiles, tools, logger)

	// Pulse ledger
	a.ledger = pulse.NewMemLedger()
	if cfg.Database.Redis.URL != "" {
		l, err := pulse.NewRedisLedger(ctx, cfg.Database.Redis.URL)
		if err != nil {
			logger.Warn("Redis unavailable, pulse cooldowns kept in memory", zap.Error(err))
		} else {
			a.ledger = l
		}
	}
	return a, nil
}

func (a *app) memoryOptions() []memory.Option {
	opts := []memory.Option{memory.WithSink(a.graph), memory.WithPruner(a.graph)}
	if a.pg != nil {
		opts = append(opts, memory.WithArchiver(a.pg))
	}
	return opts
}

func (a *app) newIndex(ctx context.Context, embedder embedding.Provider) memory.Index {
	qc := a.cfg.Database.Qdrant
	if qc.Host == "" {
		return memory.NewMemIndex()
	}
	client, err := vectorstore.NewClient(vectorstore.QdrantConfig{Host: qc.Host, Port: qc.Port})
	if err != nil {
		logger.Warn("Qdrant unavailable, using in-memory index", zap.Error(err))
		return memory.NewMemIndex()
	}
	idx, err := memory.NewQdrantIndex(ctx, client, qc.Collection, embedder.Dimension())
	if err != nil {
		client.Close()
		logger.Warn("Qdrant collection unavailable, using in-memory index", zap.Error(err))
		return memory.NewMemIndex()
	}
	a.qdrant = client
	return idx
}

func newProviderRouter(ctx context.Context, cfg *config.Config) *provider.Router {
	router := provider.NewRouter(logger)
	var first string
	for _, pc := range cfg.Providers {
		if pc.APIKey == "" {
			logger.Info("provider has no api key, skipped", zap.String("id", pc.ID))
			continue
		}
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		case "gemini":
			p, err := provider.NewGeminiProvider(ctx, provCfg, logger)
			if err != nil {
				logger.Warn("gemini provider unavailable", zap.String("id", pc.ID), zap.Error(err))
				continue
			}
			router.Register(p)
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
			continue
		}
		if first == "" {
			first = pc.ID
		}
	}

	if cfg.Oracle.Default != "" {
		if _, ok := router.GetProvider(cfg.Oracle.Default); ok {
			router.SetDefault(cfg.Oracle.Default)
		}
	}
	if router.DefaultID() == "" && first != "" {
		router.SetDefault(first)
	}
	for role, id := range cfg.Oracle.Roles {
		router.Bind(role, id)
	}
	if len(cfg.Oracle.Fallbacks) > 0 {
		for _, role := range roles {
			router.SetFallbacks(role, cfg.Oracle.Fallbacks)
		}
	}
	if router.DefaultID() == "" {
		logger.Warn("no Oracle provider configured, council will degrade to deterministic scoring")
	}
	return router
}

func (a *app) pulseOptions() []pulse.Option {
	opts := []pulse.Option{
		pulse.WithInterval(a.cfg.Pulse.Interval()),
		pulse.WithLedger(a.ledger),
		pulse.WithConsolidator(a.memory),
		pulse.WithPreferences(a.profiles),
		pulse.WithStartupGap(time.Duration(a.cfg.Pulse.StartupGapHours) * time.Hour),
		pulse.WithGrindThreshold(a.cfg.Graph.GrindThresholdMinutes),
	}
	for cat, d := range a.cfg.Pulse.Cooldowns() {
		opts = append(opts, pulse.WithCooldown(cat, d))
	}
	return opts
}

// Close releases every backend connection.
func (a *app) Close() {
	if c, ok := a.ledger.(interface{ Close() error }); ok {
		c.Close()
	}
	if a.qdrant != nil {
		a.qdrant.Close()
	}
	if a.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.mirror.Close(ctx)
	}
	if a.pg != nil {
		a.pg.Close()
	}
}
