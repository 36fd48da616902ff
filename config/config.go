// Package config loads service settings from the environment
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/joho/godotenv"

	"github.com/Ramsey-B/fern/pkg/clustering"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
)

type Config struct {
	AppName                       string `env:"APP_NAME" env-default:"fern"`
	Port                          int    `env:"PORT" env-default:"3004"`
	LogLevel                      string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool   `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int    `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"60"`
	HttpServerReadTimeoutSeconds  int    `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerIdleTimeoutSeconds  int    `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"60"`
	HttpServerBodyLimit           string `env:"HTTP_SERVER_BODY_LIMIT" env-default:"50M"`
	StartupMaxAttempts            int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`
	ShutdownTimeoutSeconds        int    `env:"SHUTDOWN_TIMEOUT_SECONDS" env-default:"30"`

	// PostgreSQL (run, candidate and golden record persistence)
	DatabaseEnabled             bool          `env:"DB_ENABLED" env-default:"true"`
	DatabaseHost                string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:"postgres"`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode             string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion    int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce      int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrateOnStart      bool          `env:"DB_MIGRATE_ON_START" env-default:"true"`

	// Graph Database (Memgraph/Neo4j projection)
	GraphDBEnabled  bool   `env:"GRAPH_DB_ENABLED" env-default:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	// Redis (run lock)
	RedisEnabled  bool          `env:"REDIS_ENABLED" env-default:"false"`
	RedisAddr     string        `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int           `env:"REDIS_DB" env-default:"0"`
	RunLockTTL    time.Duration `env:"RUN_LOCK_TTL" env-default:"5m"`

	// Kafka Consumer (record batches)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string   `env:"KAFKA_INPUT_TOPIC" env-default:"record-batches"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"fern-consumer"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"false"`

	// Kafka Producer (resolution events)
	KafkaProducerEnabled bool   `env:"KAFKA_PRODUCER_ENABLED" env-default:"false"`
	KafkaGoldenTopic     string `env:"KAFKA_GOLDEN_TOPIC" env-default:"golden-records"`
	KafkaCandidateTopic  string `env:"KAFKA_CANDIDATE_TOPIC" env-default:""`
	KafkaBatchSize       int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout    int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks    int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression     string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Matching
	MatchThreshold         float64 `env:"MATCH_THRESHOLD" env-default:"0.85"`
	MatchWorkers           int     `env:"MATCH_WORKERS" env-default:"0"`
	MatchWeightsFile       string  `env:"MATCH_WEIGHTS_FILE" env-default:""`
	MatchBlockingAttribute string  `env:"MATCH_BLOCKING_ATTRIBUTE" env-default:"name"`

	// Clustering and merging
	ClusterMinDensity     float64 `env:"CLUSTER_MIN_DENSITY" env-default:"0"`
	MergeSingletons       bool    `env:"MERGE_SINGLETONS" env-default:"false"`
	MergeIDStrategy       string  `env:"MERGE_ID_STRATEGY" env-default:"random"`
	MergeSourcePriorities string  `env:"MERGE_SOURCE_PRIORITIES" env-default:""`

	// Tracing
	OtelServiceName string `env:"OTEL_SERVICE_NAME" env-default:"fern"`
	OtelEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:""`
	OtelProtocol    string `env:"OTEL_EXPORTER_OTLP_PROTOCOL" env-default:"grpc"`
	OtelInsecure    bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"true"`
}

// Load reads an optional .env file, then environment variables over the defaults
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	return &cfg, nil
}

// MatchingConfig builds the matcher configuration, applying the weights file when set
func (c *Config) MatchingConfig() (matching.Config, error) {
	cfg := matching.DefaultConfig()
	cfg.Threshold = c.MatchThreshold
	cfg.BlockingAttribute = c.MatchBlockingAttribute
	if c.MatchWorkers > 0 {
		cfg.Workers = c.MatchWorkers
	}

	if c.MatchWeightsFile == "" {
		return cfg, cfg.Validate()
	}
	return matching.LoadWeightsFile(c.MatchWeightsFile, cfg)
}

// ClusteringConfig builds the cluster builder configuration
func (c *Config) ClusteringConfig() clustering.Config {
	return clustering.Config{MinDensity: c.ClusterMinDensity}
}

// MergeOptions builds the merge engine options
func (c *Config) MergeOptions() ([]merging.Option, error) {
	strategy, err := merging.ParseIDStrategy(c.MergeIDStrategy)
	if err != nil {
		return nil, err
	}
	priorities, err := ParseSourcePriorities(c.MergeSourcePriorities)
	if err != nil {
		return nil, err
	}
	return []merging.Option{
		merging.WithIDStrategy(strategy),
		merging.WithSourcePriorities(priorities),
	}, nil
}

// ParseSourcePriorities parses "crm=10,erp=5" into a priority table
func ParseSourcePriorities(raw string) ([]models.SourcePriority, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var out []models.SourcePriority
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid source priority %q: want source=priority", part)
		}
		priority, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid priority for source %s: %w", name, err)
		}
		if seen[name] {
			return nil, fmt.Errorf("source %s given more than one priority", name)
		}
		seen[name] = true
		out = append(out, models.SourcePriority{SourceSystem: name, Priority: priority})
	}
	return out, nil
}
