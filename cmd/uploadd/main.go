// Command uploadd runs the upload protocol backend.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/stillframe/uploadpipe/server"
)

type config struct {
	Addr         string        `envconfig:"ADDR" default:":8080"`
	Bucket       string        `envconfig:"BUCKET" required:"true"`
	Region       string        `envconfig:"REGION" default:"auto"`
	Endpoint     string        `envconfig:"ENDPOINT"`
	UsePathStyle bool          `envconfig:"USE_PATH_STYLE" default:"true"`
	ChunkSize    int64         `envconfig:"CHUNK_SIZE"`
	URLTTL       time.Duration `envconfig:"URL_TTL" default:"1h"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process("uploadd", &cfg); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.SetFormatter(&logrus.JSONFormatter{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storage, presign, err := server.NewStorage(ctx, server.StorageConfig{
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint,
		UsePathStyle: cfg.UsePathStyle,
	})
	if err != nil {
		log.WithError(err).Fatal("storage client initialization failed")
	}

	srv := server.New(storage, presign, server.Config{
		Bucket:    cfg.Bucket,
		ChunkSize: cfg.ChunkSize,
		URLTTL:    cfg.URLTTL,
	}, log)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Addr).Info("uploadd listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}
}
