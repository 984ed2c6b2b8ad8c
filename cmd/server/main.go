package main

import (
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"salecollect/server/config"
	"salecollect/server/internal/api"
	"salecollect/server/internal/ingest"
	"salecollect/server/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Collaborators are constructed once here and injected; missing
	// configuration is fatal at startup, never checked in the core.
	blobStore, err := storage.NewBlobStore(storage.BlobConfig{
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Region:    cfg.S3.Region,
		Bucket:    cfg.S3.Bucket,
		Endpoint:  cfg.S3.Endpoint,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize blob store")
	}

	recordStore, err := storage.NewRecordStore(storage.RecordConfig{
		Addr:       cfg.KV.Addr,
		Password:   cfg.KV.Password,
		DB:         cfg.KV.DB,
		Table:      cfg.KV.Table,
		BatchSize:  cfg.KV.BatchSize,
		MaxRetries: cfg.KV.MaxRetries,
		RetryDelay: time.Duration(cfg.KV.RetryDelay) * time.Second,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize record store")
	}
	defer recordStore.Close()

	orchestrator := ingest.NewOrchestrator(logger, cfg.Ingest.MaxArchiveSize, cfg.Ingest.ParseWorkers)
	handler := api.NewHandler(orchestrator, blobStore, recordStore, logger)

	router := gin.Default()
	router.Use(cors.Default())
	api.SetupRoutes(router, handler)

	logger.Infof("Starting server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}
