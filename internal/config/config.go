// Package config defines service configuration and how it is loaded.
//
// Values are layered: defaults from New, then an optional YAML file, then
// IDASSURE_* environment variables. Nested keys use a double underscore in
// the environment, e.g. IDASSURE_POLICY__BIOMETRIC_THRESHOLD=92.5.
package config

import (
	"fmt"
	"time"
)

// Similarity backends.
const (
	SimilarityBackendRekognition = "rekognition"
	SimilarityBackendGRPC        = "grpc"
)

// Storage backends.
const (
	StorageBackendS3     = "s3"
	StorageBackendMemory = "memory"
)

// Config contains process configuration.
type Config struct {
	Server     Server     `koanf:"server"`
	Log        Log        `koanf:"log"`
	Database   Database   `koanf:"database"`
	Redis      Redis      `koanf:"redis"`
	AWS        AWS        `koanf:"aws"`
	Storage    Storage    `koanf:"storage"`
	Similarity Similarity `koanf:"similarity"`
	Extraction Extraction `koanf:"extraction"`
	Upstream   Upstream   `koanf:"upstream"`
	Policy     Policy     `koanf:"policy"`
	Credential Credential `koanf:"credential"`
	Events     Events     `koanf:"events"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes"`
}

// Log controls verbosity (debug, info, warn, error) and encoding (json, console).
type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Database configures the postgres connection used for profiles and attempts.
type Database struct {
	DSN             string        `koanf:"dsn"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// Redis configures the verdict cache.
type Redis struct {
	Addr      string        `koanf:"addr"`
	ResultTTL time.Duration `koanf:"result_ttl"`
}

// AWS configures the SDK shared by Rekognition, Textract and S3.
type AWS struct {
	Region      string `koanf:"region"`
	Endpoint    string `koanf:"endpoint"`
	MaxAttempts int    `koanf:"max_attempts"`
}

// Storage selects where images and documents are kept.
type Storage struct {
	Backend string `koanf:"backend"`
	Bucket  string `koanf:"bucket"`
}

// Similarity selects the face comparison backend.
type Similarity struct {
	Backend  string        `koanf:"backend"`
	GRPCAddr string        `koanf:"grpc_addr"`
	Timeout  time.Duration `koanf:"timeout"`
}

// Extraction bounds document text extraction.
type Extraction struct {
	Timeout time.Duration `koanf:"timeout"`
}

// Upstream bounds retries of similarity and extraction calls.
type Upstream struct {
	RetryAttempts  int           `koanf:"retry_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// Policy holds the decision thresholds and scoring knobs.
type Policy struct {
	BiometricThreshold   float64 `koanf:"biometric_threshold"`
	DocumentThreshold    float64 `koanf:"document_threshold"`
	FieldMismatchPenalty float64 `koanf:"field_mismatch_penalty"`
	FuzzyMatchCutoff     float64 `koanf:"fuzzy_match_cutoff"`
}

// Credential configures issued credentials and the bearer middleware.
type Credential struct {
	SigningKey string        `koanf:"signing_key"`
	Issuer     string        `koanf:"issuer"`
	Audience   string        `koanf:"audience"`
	TTL        time.Duration `koanf:"ttl"`
}

// Events configures decision events. No brokers disables publishing.
type Events struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  10 << 20,
		},
		Log: Log{Level: "info", Format: "json"},
		Database: Database{
			DSN:             "host=postgres user=postgres password=postgres dbname=idassure port=5432 sslmode=disable",
			MaxIdleConns:    5,
			MaxOpenConns:    10,
			ConnMaxLifetime: time.Hour,
		},
		Redis:   Redis{Addr: "redis:6379", ResultTTL: 5 * time.Minute},
		AWS:     AWS{Region: "us-east-1", MaxAttempts: 3},
		Storage: Storage{Backend: StorageBackendS3, Bucket: "idassure-uploads"},
		Similarity: Similarity{
			Backend: SimilarityBackendRekognition,
			Timeout: 10 * time.Second,
		},
		Extraction: Extraction{Timeout: 20 * time.Second},
		Upstream: Upstream{
			RetryAttempts:  1,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     time.Second,
		},
		Policy: Policy{
			BiometricThreshold:   90.0,
			DocumentThreshold:    60.0,
			FieldMismatchPenalty: 40.0,
			FuzzyMatchCutoff:     0.6,
		},
		Credential: Credential{
			SigningKey: "dev-secret",
			Issuer:     "idassure",
			TTL:        15 * time.Minute,
		},
		Events: Events{Topic: "identity.verification.decided"},
	}
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return invalid("server.addr must not be empty")
	case c.Server.MaxUploadBytes <= 0:
		return invalid("server.max_upload_bytes must be positive")
	case c.Policy.BiometricThreshold < 0 || c.Policy.BiometricThreshold > 100:
		return invalid("policy.biometric_threshold must be within [0,100], got %v", c.Policy.BiometricThreshold)
	case c.Policy.DocumentThreshold < 0 || c.Policy.DocumentThreshold > 100:
		return invalid("policy.document_threshold must be within [0,100], got %v", c.Policy.DocumentThreshold)
	case c.Policy.FieldMismatchPenalty < 0:
		return invalid("policy.field_mismatch_penalty must not be negative")
	case c.Policy.FuzzyMatchCutoff < 0 || c.Policy.FuzzyMatchCutoff > 1:
		return invalid("policy.fuzzy_match_cutoff must be within [0,1], got %v", c.Policy.FuzzyMatchCutoff)
	case c.Similarity.Timeout <= 0 || c.Extraction.Timeout <= 0:
		return invalid("similarity.timeout and extraction.timeout must be positive")
	case c.Upstream.RetryAttempts < 1 || c.Upstream.RetryAttempts > 5:
		return invalid("upstream.retry_attempts must be within [1,5]")
	case c.Credential.SigningKey == "":
		return invalid("credential.signing_key must not be empty")
	}

	switch c.Similarity.Backend {
	case SimilarityBackendRekognition:
	case SimilarityBackendGRPC:
		if c.Similarity.GRPCAddr == "" {
			return invalid("similarity.grpc_addr is required for the grpc backend")
		}
	default:
		return invalid("unknown similarity.backend %q", c.Similarity.Backend)
	}

	switch c.Storage.Backend {
	case StorageBackendMemory:
	case StorageBackendS3:
		if c.Storage.Bucket == "" {
			return invalid("storage.bucket is required for the s3 backend")
		}
	default:
		return invalid("unknown storage.backend %q", c.Storage.Backend)
	}

	if len(c.Events.Brokers) > 0 && c.Events.Topic == "" {
		return invalid("events.topic is required when brokers are set")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
