// Command sable-relay runs the relay service: an HTTP server that
// stores party public keys, protected transactions, and share records
// without ever holding key material or plaintext.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/agbusiness195/sable/relay"
)

type config struct {
	Listen      string   `yaml:"listen"`
	DataDir     string   `yaml:"data_dir"`
	CORSOrigins []string `yaml:"cors_origins"`
	LogLevel    string   `yaml:"log_level"`
}

func defaultConfig() config {
	return config{
		Listen:   ":8440",
		LogLevel: "info",
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	log := logrus.New()

	configPath := flag.String("config", "", "YAML configuration file")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "badger data directory; empty keeps records in memory")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("parsing log level")
	}
	log.SetLevel(level)

	var store relay.Store
	if cfg.DataDir != "" {
		store, err = relay.OpenBadgerStore(cfg.DataDir)
		if err != nil {
			log.WithError(err).Fatal("opening store")
		}
		log.WithField("data_dir", cfg.DataDir).Info("using badger store")
	} else {
		store = relay.NewMemoryStore()
		log.Warn("using in-memory store; records are lost on restart")
	}
	defer store.Close()

	opts := []relay.ServerOption{relay.WithLogger(log)}
	if len(cfg.CORSOrigins) > 0 {
		opts = append(opts, relay.WithCORS(cfg.CORSOrigins))
	}
	handler := relay.NewServer(store, opts...)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", cfg.Listen).Info("relay listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("shutdown did not complete cleanly")
		}
	}
}
