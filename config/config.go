package config

import (
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	// Port the HTTP server listens on
	Port string `env:"PORT" envDefault:"8000"`

	// Ingestion limits and parallelism
	Ingest struct {
		// Maximum accepted archive size in bytes for uploads and downloads
		MaxArchiveSize int64 `env:"MAX_UPLOAD_SIZE" envDefault:"104857600"`

		// Number of concurrent file parsers per request
		ParseWorkers int `env:"PARSE_WORKERS" envDefault:"4"`
	}

	// Blob store (S3-compatible) collaborator
	S3 struct {
		AccessKey string `env:"S3_ACCESS_KEY"`
		SecretKey string `env:"S3_SECRET_ACCESS_KEY"`
		Region    string `env:"AWS_REGION" envDefault:"ap-southeast-2"`
		Bucket    string `env:"S3_BUCKET_NAME"`

		// Endpoint overrides the default AWS endpoint, e.g. for MinIO
		Endpoint string `env:"S3_ENDPOINT"`
	}

	// Key-value store collaborator
	KV struct {
		Addr     string `env:"KV_ADDR" envDefault:"localhost:6379"`
		Password string `env:"KV_PASSWORD"`
		DB       int    `env:"KV_DB" envDefault:"0"`

		// Table is the key prefix acting as the record collection name
		Table string `env:"TABLE_NAME" envDefault:"house_sales"`

		// Batched write sizing and retry policy
		BatchSize  int `env:"KV_BATCH_SIZE" envDefault:"25"`
		MaxRetries int `env:"KV_MAX_RETRIES" envDefault:"3"`
		RetryDelay int `env:"KV_RETRY_DELAY" envDefault:"5"`
	}
}

// LoadConfig reads configuration from the environment, first merging in an
// optional local.env file when one exists alongside the binary.
func LoadConfig() (*Config, error) {
	// A missing env file is fine; env vars may be set externally.
	_ = godotenv.Load("local.env")

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
