package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"

	"github.com/kirbo/go-sensormap/internal/api"
	"github.com/kirbo/go-sensormap/internal/config"
	"github.com/kirbo/go-sensormap/internal/dashboard"
	"github.com/kirbo/go-sensormap/internal/history"
	"github.com/kirbo/go-sensormap/internal/mapsync"
	"github.com/kirbo/go-sensormap/internal/models"
	"github.com/kirbo/go-sensormap/internal/pubsub"
	"github.com/kirbo/go-sensormap/internal/socket"
	"github.com/kirbo/go-sensormap/internal/threshold"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := config.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server terminated", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped cleanly")
}

func run(ctx context.Context, cfg models.Config, logger *slog.Logger) error {
	backend, ready, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	eval, err := threshold.New(cfg.Thresholds)
	if err != nil {
		return err
	}
	opts := dashboard.Options{
		CallTimeout: config.CallTimeout(cfg),
		Evaluator:   eval,
	}

	var subscribers pubsub.Multi

	if cfg.EnableRedis {
		rdb, err := connectRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()

		hub := pubsub.NewRedisHub(rdb, logger)
		go func() {
			if err := hub.Run(ctx); err != nil {
				logger.Error("redis subscription ended", "error", err)
			}
		}()
		subscribers = append(subscribers, hub)
		backend = pubsub.NewAnnouncer(backend, pubsub.NewPublisher(rdb), logger)
	}

	if cfg.EnableMQTT {
		client, err := pubsub.ConnectMQTT(ctx, cfg.MQTT, logger)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)

		hub, err := pubsub.NewMQTTHub(client, cfg.MQTT.Topic, logger)
		if err != nil {
			return err
		}
		if err := hub.Start(); err != nil {
			return err
		}
		defer hub.Stop()
		subscribers = append(subscribers, hub)
	}

	if len(subscribers) > 0 {
		opts.Subscriber = subscribers
	}

	if cfg.EnableHistory {
		sink, err := history.Open(cfg.Influx, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
		opts.Recorder = sink
	}

	var (
		dash   *dashboard.Dashboard
		engine mapsync.Engine
		sock   *socket.Engine
	)
	if !cfg.DisableSocket {
		sock, err = socket.New(logger,
			func(ctx context.Context) ([]models.Marker, error) { return dash.Markers(ctx) },
			func(id string) { dash.MarkerClicked(id) },
		)
		if err != nil {
			return fmt.Errorf("socket server: %w", err)
		}
		defer sock.Close()
		engine = sock
	}

	dash = dashboard.New(backend, mapsync.New(engine, logger, cfg.FocusZoom), logger, opts)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = dash.Run(ctx)
	}()

	routerOpts := api.Options{Ready: ready}
	if sock != nil {
		sock.Start()
		routerOpts.Socket = sock.Handler()
	}

	go func() {
		if err := dash.Reload(ctx, cfg.Scope); err != nil {
			logger.Warn("initial load failed", "role", cfg.Scope.Role, "user", cfg.Scope.UserID, "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.NewRouter(dash, logger, routerOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr, "backend", cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	<-loopDone
	return nil
}
