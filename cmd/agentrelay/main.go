// Package main is the entry point for the agentrelay daemon: it wires
// configuration, logging, the continuity store, the registry, the relay,
// the agent supervisor, the admin API, and the optional event bridge, then
// blocks until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/agentrelay/internal/adminapi"
	"github.com/kandev/agentrelay/internal/agentsup"
	"github.com/kandev/agentrelay/internal/config"
	"github.com/kandev/agentrelay/internal/continuity"
	"github.com/kandev/agentrelay/internal/eventbridge"
	"github.com/kandev/agentrelay/internal/logging"
	"github.com/kandev/agentrelay/internal/ptywrap"
	"github.com/kandev/agentrelay/internal/registry"
	"github.com/kandev/agentrelay/internal/relay"
)

func main() {
	configPath := flag.String("config", "", "path to an optional YAML config file")
	flag.Parse()

	// 1. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentrelay: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger.
	log, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentrelay: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting agentrelay daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Registry.
	reg, err := registry.New(cfg.Registry.DataDir)
	if err != nil {
		log.Error("failed to open registry", zap.Error(err))
		os.Exit(1)
	}

	// 4. Continuity store + manager.
	store, err := continuity.NewStore(continuity.StoreConfig{
		DataDir:            cfg.Continuity.DataDir,
		LockBase:           time.Duration(cfg.Continuity.LockBaseMs) * time.Millisecond,
		LockCap:            time.Duration(cfg.Continuity.LockCapMs) * time.Millisecond,
		LockTimeout:        time.Duration(cfg.Continuity.LockTimeoutMs) * time.Millisecond,
		MaxConcurrentLocks: int64(cfg.Continuity.MaxConcurrentLocks),
	})
	if err != nil {
		log.Error("failed to open continuity store", zap.Error(err))
		os.Exit(1)
	}
	contMgr := continuity.NewManager(store, log, cfg.Continuity.Denylist, cfg.Continuity.CommandDedupeCap)

	// 5. Message relay.
	r := relay.New(relay.Config{
		PerRecipientQueueSize: cfg.Relay.PerRecipientQueueSize,
		DedupeSetSize:         cfg.Relay.DedupeSetSize,
		SenderHashWindow:      cfg.Relay.SenderHashWindow,
		OfflineTTL:            cfg.Relay.OfflineTTL,
	}, log, reg)

	// 6. Crash history.
	history := agentsup.NewHistory(1000)

	// 7. Agent manager + supervisor, wired over ptywrap's default
	// per-spawn config and the collaborators above.
	wrapperCfg := ptywrap.Config{
		Cols:           cfg.PTY.DefaultCols,
		Rows:           cfg.PTY.DefaultRows,
		BufferMaxBytes: cfg.PTY.BufferMaxBytes,
		GraceSeconds:   cfg.PTY.GraceSeconds,
		Idle: ptywrap.IdleTuning{
			MinSilence:    time.Duration(cfg.Idle.MinSilenceMs) * time.Millisecond,
			ConfThreshold: cfg.Idle.ConfidenceThresh,
			PollInterval:  time.Duration(cfg.Idle.PollMs) * time.Millisecond,
			UseProcState:  cfg.Idle.UseProcState,
		},
		Injection: ptywrap.InjectionConfig{
			QueueSize:   cfg.Injection.QueueSize,
			Timeout:     time.Duration(cfg.Injection.TimeoutMs) * time.Millisecond,
			MaxAttempts: cfg.Injection.MaxAttempts,
			SubmitDelay: time.Duration(cfg.Injection.SubmitDelayMs) * time.Millisecond,
			BackoffCap:  time.Duration(cfg.Injection.BackoffCapMs) * time.Millisecond,
		},
	}

	manager := agentsup.NewManager(log, wrapperCfg, r, reg, contMgr, history)
	manager.SetSupervisorConfig(agentsup.SupervisorConfig{
		HealthCheckInterval: time.Duration(cfg.Supervisor.HealthCheckSeconds) * time.Second,
		MaxRestarts:         cfg.Supervisor.MaxRestarts,
		BackoffWindow:       time.Duration(cfg.Supervisor.BackoffWindowSeconds) * time.Second,
		RestartBase:         time.Duration(cfg.Supervisor.RestartBaseMs) * time.Millisecond,
		RestartCap:          time.Duration(cfg.Supervisor.RestartCapMs) * time.Millisecond,
		AutoInjectOnRestart: cfg.Supervisor.AutoInjectOnRestart,
		RestartOnCleanExit:  cfg.Supervisor.RestartOnCleanExit,
	})

	// 8. Optional cloud event bridge — never fatal, since it's an
	// explicitly best-effort collaborator.
	bridge, err := eventbridge.New(cfg.Events, log)
	if err != nil {
		log.Warn("eventbridge disabled: connect failed", zap.Error(err))
	} else if cfg.Events.Enabled {
		defer bridge.Close()
	}

	// 9. Admin API.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := adminapi.New(addr, manager, log)

	if bridge != nil {
		sinkID, events := server.Subscribe()
		defer server.Unsubscribe(sinkID)
		go bridge.Run(events)
	}

	go func() {
		if err := server.ListenAndServe(); err != nil {
			log.Error("admin API server stopped", zap.Error(err))
		}
	}()

	log.Info("agentrelay daemon ready", zap.String("addr", addr))

	// 10. Wait for a termination signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down agentrelay daemon")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shut down the admin API and stop every live agent concurrently —
	// neither depends on the other, and agents each carry their own grace
	// period, so running them sequentially would only add up wait time.
	var shutdownGroup errgroup.Group
	shutdownGroup.Go(func() error {
		return server.Shutdown(shutdownCtx)
	})
	shutdownGroup.Go(func() error {
		return manager.StopAll(shutdownCtx)
	})
	if err := shutdownGroup.Wait(); err != nil {
		log.Error("error during daemon shutdown", zap.Error(err))
	}

	log.Info("agentrelay daemon stopped")
}
