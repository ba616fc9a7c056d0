package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/mcdev12/studysync/go/internal/dbconfig"
	"github.com/mcdev12/studysync/go/internal/room"
	"github.com/mcdev12/studysync/go/internal/room/catalog"
	"github.com/mcdev12/studysync/go/internal/room/events"
	"github.com/mcdev12/studysync/go/internal/room/gateway"
	"github.com/mcdev12/studysync/go/internal/room/inspect"
	"github.com/mcdev12/studysync/go/internal/room/store"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	config, err := loadConfig(getEnv("STUDYROOM_CONFIG", defaultConfigPath))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(config, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config); err != nil {
		log.Fatal().Err(err).Msg("study room gateway failed")
	}
	log.Info().Msg("study room gateway shutdown complete")
}

func setupLogging(config *Config, out io.Writer) {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if config.LogFormat == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
}

func run(ctx context.Context, config *Config) error {
	backend, closeStore, err := openStore(ctx, config)
	if err != nil {
		return err
	}
	defer closeStore()

	activity, closeActivity, err := openActivity(config)
	if err != nil {
		return err
	}
	defer closeActivity()

	writer := store.NewWriter(backend, config.writerConfig())
	defer writer.Close()

	clock := clockwork.NewRealClock()
	svc := gateway.NewService(config.gatewayConfig(), clock, writer, activity)
	if config.Store.Driver == "postgres" {
		catalogConfig := catalog.DefaultConfig()
		catalogConfig.DatabaseURL = dbconfig.NewConfigFromEnv().DSN()
		catalogConfig.Channel = config.Catalog.Channel
		svc.AddRunner(catalog.NewListener(catalogConfig, clock, svc.Connections()))
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", config.Port),
		Handler:     newHandler(config, svc),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	log.Info().
		Str("port", config.Port).
		Str("store", config.Store.Driver).
		Bool("nats", config.NATS.URL != "").
		Msg("starting study room gateway")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Start(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), config.Store.OpTimeout)
		defer cancelFlush()
		if err := writer.Flush(flushCtx); err != nil {
			log.Warn().Err(err).Msg("pending room writes not flushed")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, config *Config) (store.Store, func(), error) {
	switch config.Store.Driver {
	case "postgres":
		dbCfg := dbconfig.NewConfigFromEnv()
		if err := dbCfg.Validate(); err != nil {
			return nil, nil, err
		}
		db, err := sql.Open("postgres", dbCfg.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		log.Info().Str("database", dbCfg.Database).Msg("using postgres room store")
		return store.NewPostgres(db), func() { db.Close() }, nil

	case "redis":
		r, err := store.NewRedisFromURL(ctx, config.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("using redis room store")
		return r, func() {
			if err := r.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close redis client")
			}
		}, nil

	default:
		log.Warn().Msg("using in-memory room store; rooms will not survive a restart")
		return store.NewMemory(), func() {}, nil
	}
}

func openActivity(config *Config) (room.ActivityPublisher, func(), error) {
	if config.NATS.URL == "" {
		return events.LogPublisher{}, func() {}, nil
	}

	jsConfig := events.DefaultJetStreamConfig()
	jsConfig.URL = config.NATS.URL
	jsConfig.StreamName = config.NATS.Stream
	jsConfig.SubjectPrefix = config.NATS.SubjectPrefix

	pub, err := events.NewJetStreamPublisher(jsConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create activity publisher: %w", err)
	}
	return pub, func() {
		if err := pub.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close activity publisher")
		}
	}, nil
}

func newHandler(config *Config, svc *gateway.Service) http.Handler {
	mux := http.NewServeMux()

	svc.RegisterRoutes(mux)
	mux.Handle(inspect.NewHandler(inspect.NewService(svc.Registry(), svc)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Debug().Err(err).Msg("failed to write health check response")
		}
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := svc.GetStats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"service":     "study-room-gateway",
			"store":       config.Store.Driver,
			"connections": stats["total_connections"],
			"rooms":       stats["active_rooms"],
		})
	})

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: config.CORS.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	return h2c.NewHandler(c.Handler(mux), &http2.Server{})
}
