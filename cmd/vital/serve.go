package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/vitalcore/internal/api"
	"github.com/nidhogg/vitalcore/internal/classify"
	"github.com/nidhogg/vitalcore/internal/council"
	"github.com/nidhogg/vitalcore/internal/events"
	"github.com/nidhogg/vitalcore/internal/gateway"
	"github.com/nidhogg/vitalcore/internal/ingest"
	"github.com/nidhogg/vitalcore/internal/pulse"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP/websocket server, chat gateways and the pulse loop",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Info("Starting VitalCore...")
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	defer a.Close()

	if cfg.Classifier.RulesPath != "" && cfg.Classifier.Watch {
		go func() {
			if err := classify.Watch(ctx, cfg.Classifier.RulesPath, a.classifier, logger); err != nil {
				logger.Warn("classifier hot reload disabled", zap.Error(err))
			}
		}()
	}

	bus := events.NewBus(logger)

	// Websocket hub and chat gateways
	hub := gateway.NewHub(logger)
	hub.SetChatHandler(func(ctx context.Context, text string) string {
		return a.liaison.Chat(ctx, nil, text).Content
	})

	gw := gateway.NewGateway(logger)
	gw.SetHandler(func(ctx context.Context, msg *gateway.InboundMessage) string {
		return a.liaison.Chat(ctx, nil, msg.Content).Content
	})
	if cfg.Gateway.Slack.Enabled && cfg.Gateway.Slack.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(cfg.Gateway.Slack.BotToken, cfg.Gateway.Slack.AppToken, cfg.Gateway.Slack.AlertChannel, logger))
	}
	if cfg.Gateway.Discord.Enabled && cfg.Gateway.Discord.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(cfg.Gateway.Discord.BotToken, cfg.Gateway.Discord.AlertChannel, logger))
	}
	connected := gw.ConnectAll(ctx)
	logger.Info("Gateway adapters connected", zap.Int("count", connected))
	defer gw.Close()
	broadcaster := gateway.NewBroadcaster(gw, logger)

	// Council pipeline
	pipeOpts := []council.PipelineOption{
		council.WithTransport(hub),
		council.WithNotifiers(council.LogNotifier{Logger: logger}, broadcaster),
		council.WithMemory(a.memory),
	}
	if a.pg != nil {
		pipeOpts = append(pipeOpts, council.WithArchive(a.pg))
	}
	pipeline := council.NewPipeline(a.council, bus, logger, pipeOpts...)
	if err := pipeline.Attach(); err != nil {
		return fmt.Errorf("attach pipeline: %w", err)
	}

	// Cross-process event relay. Only outcomes are shared: each reading is
	// analysed by the process that ingested it.
	if cfg.Database.Redis.URL != "" {
		relay, err := events.NewStreamRelay(cfg.Database.Redis.URL, uuid.New().String(), bus, logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without event relay", zap.Error(err))
		} else {
			defer relay.Close()
			if err := relay.Attach(events.AnalysisCompleted, events.ActionRequired); err != nil {
				return fmt.Errorf("attach relay: %w", err)
			}
			// Outcomes from other processes reach this process's UI clients only;
			// the shared chat adapters were already notified by the origin.
			for t, name := range map[events.Type]string{
				events.AnalysisCompleted: "analysis_result",
				events.ActionRequired:    "intervention",
			} {
				name := name
				if err := bus.Subscribe(t, func(_ context.Context, e events.Event) error {
					if events.IsReplay(e) {
						hub.Emit(name, e.Payload)
					}
					return nil
				}); err != nil {
					return fmt.Errorf("subscribe replay %s: %w", t, err)
				}
			}
			go relay.Run(ctx)
		}
	}

	// MQTT ingestion
	if cfg.MQTT.Enabled {
		bridge := ingest.NewMQTTBridge(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic, bus, logger)
		if err := bridge.Start(); err != nil {
			logger.Warn("MQTT broker unavailable, running without sensor ingestion", zap.Error(err))
		} else {
			defer bridge.Stop()
		}
	}

	// Pulse
	var scheduler *pulse.Scheduler
	if cfg.Pulse.Enabled {
		opts := append(a.pulseOptions(), pulse.WithTransport(hub), pulse.WithNudgers(broadcaster))
		scheduler = pulse.NewScheduler(a.graph, logger, opts...)
		scheduler.Start(ctx)
	}

	// HTTP
	deps := api.Deps{
		Bus:     bus,
		Liaison: a.liaison,
		Graph:   a.graph,
		Risk:    a.risk,
		Profile: a.profiles,
		Memory:  a.memory,
		Alerts:  broadcaster,
		Gateway: gw,
	}
	if a.pg != nil {
		deps.Plans = a.pg
	}
	if cfg.Gateway.WebSocket.Enabled {
		deps.Hub = hub
		deps.HubPath = cfg.Gateway.WebSocket.Path
	}
	handler := api.NewHandler(deps, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("VitalCore listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if err := bus.Publish(ctx, events.New(events.SystemStartup, "vital", map[string]any{
		"adapters": gw.Adapters(),
		"pid":      os.Getpid(),
	})); err != nil {
		logger.Warn("startup event failed", zap.Error(err))
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	logger.Info("Shutting down VitalCore...")
	if scheduler != nil {
		scheduler.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	handler.Wait()
	return nil
}
