// Package main provides the entry point for the go-shine server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-shine/internal/config"
	"github.com/resident-x/go-shine/internal/domain"
	"github.com/resident-x/go-shine/internal/pubsub"
	"github.com/resident-x/go-shine/internal/service"
)

var (
	Version = "unknown" // Default version, can be overridden by build flags
)

func main() {
	code := run()
	os.Exit(code)
}

func run() int {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-shine server %s\n", Version)
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		return 1
	}

	initLogger(cfg.LogLevel)

	log.Info().Str("version", Version).Msg("Starting go-shine server")
	cfg.Print()

	// A broker that is down at boot must not keep dongles from being
	// served; fall back to the noop sink and keep answering.
	var sink domain.Sink
	if cfg.MQTT.Enabled {
		mqttSink := pubsub.NewMQTTSink(cfg)
		if err := mqttSink.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT broker, using noop sink")
			sink = pubsub.NewNoopSink()
		} else {
			sink = mqttSink
			log.Info().Msg("MQTT sink connected successfully")
		}
	} else {
		log.Info().Msg("MQTT disabled, using noop sink")
		sink = pubsub.NewNoopSink()
	}

	srv, err := service.NewServer(cfg, sink)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create collection server")
		return 1
	}

	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to start collection server")
		return 1
	}

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Msg("Collection server started successfully")

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-signalChan:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-srv.OfflineExpired():
		// Exit non-zero so the supervisor restarts the process; a fresh
		// listener recovers dongles stuck on a dead connection.
		log.Warn().Msg("No device reported within the offline window, exiting for restart")
		exitCode = 1
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping server")
		return 1
	}

	log.Info().Msg("Server stopped")
	return exitCode
}

// initLogger configures the global zerolog logger.
func initLogger(level string) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		fmt.Printf("Invalid log level '%s', defaulting to 'info'\n", level)
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)
	log.Logger = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}
