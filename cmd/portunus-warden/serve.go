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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Portunus/warden/internal/config"
	"github.com/BrandonDHaskell/Portunus/warden/internal/device"
	"github.com/BrandonDHaskell/Portunus/warden/internal/health"
	"github.com/BrandonDHaskell/Portunus/warden/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/warden/internal/logging"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/service"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the warden",
	Long: `Run the input webhook and scan API, the door watchdog, the audit
pruner and the gRPC health service until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	logging.Init(logging.Config{
		Level:      logging.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
	return cfg, nil
}

func serve(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.WithComponent("main")

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	dispatcher := service.NewDispatcher(service.DispatcherConfig{
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueue,
	}, logging.WithComponent("dispatcher"))

	state := store.NewState(b.docs, logging.WithComponent("state"))
	audit := service.NewAuditRecorder(b.audit, dispatcher, logging.WithComponent("audit"))
	presses := service.NewExitPressTracker()
	outputs, door, authorizer := collaborators(cfg, logger)

	reconciler := service.NewInputReconciler(state, outputs, audit, dispatcher, presses, service.ReconcilerConfig{
		Inputs: service.InputMap{
			ExitButton:  cfg.ExitButtonInput,
			DoorContact: cfg.DoorContactInput,
			Reserve:     cfg.ReserveInput,
		},
		ExitOutputChannel: cfg.ExitOutputChannel,
		ExitPulse:         cfg.ExitPulse,
		ExitGrantWindow:   cfg.ExitGrantWindow,
	}, logging.WithComponent("reconciler"))

	backoff := cfg.AuthBackoff
	if backoff == 0 {
		backoff = -1 // zero configured means no backoff
	}
	authorization := service.NewAuthorizationWorkflow(state, authorizer, door, outputs, audit, dispatcher, service.AuthorizationConfig{
		DedupWindow:        cfg.DedupWindow,
		MaxPending:         cfg.MaxPending,
		Attempts:           cfg.AuthAttempts,
		AttemptTimeout:     cfg.AuthTimeout,
		RetryBackoff:       backoff,
		MaxErrorPending:    cfg.MaxErrorPending,
		GrantOutputChannel: cfg.GrantOutputChannel,
	}, logging.WithComponent("authorization"))

	watchdog := service.NewDoorWatchdog(state, presses, outputs, audit, dispatcher, service.WatchdogConfig{
		Interval:           cfg.WatchdogInterval,
		MaxTimeDoorOpen:    cfg.MaxTimeDoorOpen,
		SecondAlarm:        cfg.SecondAlarm,
		RepeatAlarm:        cfg.RepeatAlarm,
		MinIllegalOpen:     cfg.MinIllegalOpen,
		ExitGrace:          cfg.ExitGrace,
		AlarmOutputChannel: cfg.AlarmOutputChannel,
	}, logging.WithComponent("watchdog"))

	pruner := service.NewAuditPruner(b.audit, service.PrunerConfig{
		RetentionDays: cfg.AuditRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logging.WithComponent("pruner"))

	healthSrv := health.NewServer(watchdog, logging.WithComponent("health"))

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:        logging.WithComponent("http"),
		Addr:          cfg.HTTPAddr,
		Reconciler:    reconciler,
		Authorization: authorization,
		State:         state,
		Audit:         b.audit,
		Healthy:       healthSrv.Healthy,
	})

	watchdog.Start(ctx)
	pruner.Start(ctx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("backend", cfg.Backend).Msg("listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if cfg.GRPCAddr != "" {
		go func() {
			if err := healthSrv.Start(cfg.GRPCAddr); err != nil {
				errCh <- fmt.Errorf("health server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	healthSrv.Stop()

	watchdog.Stop()
	pruner.Stop()
	authorization.Close()
	dispatcher.Close()

	return runErr
}

// collaborators picks HTTP clients for every configured URL and no-op
// stand-ins for the rest.
func collaborators(cfg config.Config, logger zerolog.Logger) (service.OutputController, service.DoorOpener, service.RemoteAuthorizer) {
	var (
		outputs    service.OutputController = device.NoopRelay{Logger: logging.WithComponent("relay")}
		door       service.DoorOpener       = device.NoopDoor{Logger: logging.WithComponent("door")}
		authorizer service.RemoteAuthorizer = device.NoopAuthorizer{}
	)

	if cfg.RelayURL != "" {
		outputs = device.NewRelayClient(cfg.RelayURL, nil, logging.WithComponent("relay"))
	} else {
		logger.Warn().Msg("relay_url not set, outputs are disabled")
	}
	if cfg.DoorURL != "" {
		door = device.NewDoorStrike(cfg.DoorURL, nil, logging.WithComponent("door"))
	} else {
		logger.Warn().Msg("door_url not set, door strike is disabled")
	}
	if cfg.AuthURL != "" {
		authorizer = device.NewHTTPAuthorizer(cfg.AuthURL, cfg.AuthToken, nil)
	} else {
		logger.Warn().Msg("auth_url not set, every scan will fail authorization")
	}
	return outputs, door, authorizer
}
