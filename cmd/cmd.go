package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/sonos-mqtt/internal/pkg/bridge"
	"github.com/anicoll/sonos-mqtt/internal/pkg/config"
	"github.com/anicoll/sonos-mqtt/internal/pkg/database"
	"github.com/anicoll/sonos-mqtt/internal/pkg/database/migration"
	"github.com/anicoll/sonos-mqtt/internal/pkg/model"
	"github.com/anicoll/sonos-mqtt/internal/pkg/mqtt"
	"github.com/anicoll/sonos-mqtt/internal/pkg/publisher"
	"github.com/anicoll/sonos-mqtt/internal/pkg/server"
	"github.com/anicoll/sonos-mqtt/internal/pkg/sonos"
	"github.com/anicoll/sonos-mqtt/internal/pkg/state"
	"github.com/anicoll/sonos-mqtt/internal/pkg/tts"
	"github.com/anicoll/sonos-mqtt/pkg/sockets"
)

// BridgeCommand is the CLI entry point: env vars form the base config, flags
// override.
func BridgeCommand(ctx *cli.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	if v := ctx.String("mqtt-host"); v != "" {
		cfg.MqttCfg.Host = v
	}
	if v := ctx.String("mqtt-user"); v != "" {
		cfg.MqttCfg.Username = v
	}
	if v := ctx.String("mqtt-pass"); v != "" {
		cfg.MqttCfg.Password = v
	}
	if v := ctx.String("mqtt-prefix"); v != "" {
		cfg.MqttCfg.Prefix = v
	}
	if v := ctx.StringSlice("sonos-host"); len(v) > 0 {
		cfg.SonosCfg.Hosts = v
	}
	if ctx.IsSet("disable-discovery") {
		cfg.SonosCfg.DisableDiscovery = ctx.Bool("disable-discovery")
	}
	if ctx.IsSet("debounce-delay") {
		cfg.SonosCfg.DebounceDelay = ctx.Duration("debounce-delay")
	}
	if ctx.IsSet("distinct") {
		cfg.SonosCfg.Distinct = ctx.Bool("distinct")
	}
	if v := ctx.String("database-url"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := ctx.String("http-addr"); v != "" {
		cfg.HTTPCfg.Addr = v
	}
	if v := ctx.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	logCfg := zap.NewProductionConfig()
	logCfg.Level, err = zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	logger := zap.Must(logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)))
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	sonosSvc := sonos.New(cfg.SonosCfg, ttsClient(cfg.SonosCfg))
	mqttSvc := mqtt.New(cfg.MqttCfg)

	var db *database.Database
	if cfg.DatabaseURL != "" {
		if err := migration.Migrate(cfg.DatabaseURL); err != nil {
			return err
		}
		if db, err = database.Connect(ctx.Context, cfg.DatabaseURL); err != nil {
			return err
		}
		defer db.Close()
	}

	return run(ctx.Context, cfg, sonosSvc, mqttSvc, db, logCfg.Level)
}

func ttsClient(cfg *config.SonosConfig) *tts.Client {
	if cfg.TTSEndpoint == "" {
		return nil
	}
	return tts.New(cfg.TTSEndpoint, cfg.TTSLang)
}

func run(ctx context.Context, cfg *config.Config, sonosSvc SonosService, mqttSvc MqttService, db *database.Database, level zap.AtomicLevel) error {
	errorChan := make(chan error, 1000)
	logger := zap.L()
	eg, ctx := errgroup.WithContext(ctx)

	store := state.New()
	opts := []bridge.Option{bridge.WithLogLevel(level)}
	if cfg.SonosCfg.Distinct {
		opts = append(opts, bridge.WithDistinct())
	}
	b := bridge.New(store, sonosSvc, mqttSvc, cfg.SonosCfg.DebounceDelay, opts...)

	if err := publisher.Register("mqtt", mqttSvc); err != nil {
		return err
	}
	if db != nil {
		if err := publisher.Register("postgres", db); err != nil {
			return err
		}
	}

	mqttSvc.Handlers(
		func(selector string, payload []byte) {
			env := model.CommandEnvelope{}
			if err := json.Unmarshal(payload, &env); err != nil {
				logger.Warn("malformed command envelope", zap.String("selector", selector), zap.Error(err))
				return
			}
			if env.Device == "" {
				env.Device = selector
			}
			b.Dispatch(env)
		},
		b.DispatchGlobal,
		b.ConnectivityChanged,
	)
	if err := mqttSvc.Connect(); err != nil {
		return err
	}
	defer mqttSvc.Disconnect()

	if err := sonosSvc.Discover(ctx); err != nil {
		return err
	}
	if err := sonosSvc.StartEventing(ctx); err != nil {
		return err
	}
	defer func() {
		_ = sonosSvc.Close()
	}()

	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Close()

	hub := sockets.New()
	defer func() {
		_ = hub.Close()
	}()
	b.OnState(func(st model.DeviceState) {
		payload, err := json.Marshal(st)
		if err != nil {
			return
		}
		hub.Broadcast(payload)
	})

	eg.Go(func() error {
		return cronJobs(ctx, sonosSvc, db, errorChan)
	})

	eg.Go(func() error {
		srv := &http.Server{
			Handler:      newHandler(store, b, db, hub, cfg.HTTPCfg.TokenHash),
			Addr:         cfg.HTTPCfg.Addr,
			WriteTimeout: 15 * time.Second,
			ReadTimeout:  15 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		// handle any async errors from services
		for {
			select {
			case err := <-errorChan:
				logger.Error("service error", zap.Error(err))
				return err
			case <-ctx.Done():
				logger.Info("context done")
				return ctx.Err()
			}
		}
	})

	return eg.Wait()
}

// newHandler exists because a nil *database.Database must not end up as a
// non-nil history interface inside the server.
func newHandler(store *state.Store, b *bridge.Bridge, db *database.Database, hub *sockets.Hub, tokenHash string) http.Handler {
	if db == nil {
		return server.New(store, b, nil, hub, tokenHash)
	}
	return server.New(store, b, db, hub, tokenHash)
}

func cronJobs(ctx context.Context, sonosSvc SonosService, db *database.Database, errChan chan error) error {
	c := cron.New()
	if _, err := c.AddFunc("*/5 * * * *", func() {
		if err := sonosSvc.CheckSubscriptions(ctx); err != nil {
			zap.L().Error("subscription check failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	if db != nil {
		if _, err := c.AddFunc("0 3 * * *", func() {
			if err := db.Cleanup(context.Background()); err != nil {
				zap.L().Error("error cleaning up database", zap.Error(err))
				errChan <- err
			}
		}); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	c.Run()
	return nil
}
