// Package config provides runtime configuration values for the api and worker.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Placement modes.
const (
	ModeTransaction = "transaction"
	ModeSaga        = "saga"
)

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsCloudWatch = "cloudwatch"
	MetricsNone       = "none"
)

// Config holds table names, queue URLs and engine knobs.
type Config struct {
	HTTPAddr          string
	RunLocal          bool
	LogLevel          string
	CustomersTable    string
	ProductsTable     string
	ProductNamesTable string
	OrdersTable       string
	IdempotencyTable  string
	EventsQueueURL    string
	PlacementMode     string
	CommitTimeout     time.Duration
	IdempotencyTTL    time.Duration
	AWSMaxAttempts    int
	MetricsBackend    string
	MetricsNamespace  string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenvms(key string, defMs int) time.Duration {
	ms := atoienv(key, defMs)
	return time.Duration(ms) * time.Millisecond
}

func durenvh(key string, defHours int) time.Duration {
	h := atoienv(key, defHours)
	return time.Duration(h) * time.Hour
}

// Load collects configuration from environment with defaults.
// Unknown PLACEMENT_MODE or METRICS_BACKEND values fall back to the defaults.
func Load() Config {
	mode := strings.ToLower(getenv("PLACEMENT_MODE", ModeTransaction))
	if mode != ModeSaga {
		mode = ModeTransaction
	}
	backend := strings.ToLower(getenv("METRICS_BACKEND", MetricsPrometheus))
	switch backend {
	case MetricsPrometheus, MetricsCloudWatch, MetricsNone:
	default:
		backend = MetricsPrometheus
	}
	return Config{
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		RunLocal:          getenv("RUN_LOCAL", "") == "true",
		LogLevel:          getenv("LOG_LEVEL", "info"),
		CustomersTable:    getenv("CUSTOMERS_TABLE", "customers"),
		ProductsTable:     getenv("PRODUCTS_TABLE", "products"),
		ProductNamesTable: getenv("PRODUCT_NAMES_TABLE", "product_names"),
		OrdersTable:       getenv("ORDERS_TABLE", "orders"),
		IdempotencyTable:  getenv("IDEMPOTENCY_TABLE", "idempotency"),
		EventsQueueURL:    getenv("EVENTS_QUEUE_URL", ""),
		PlacementMode:     mode,
		CommitTimeout:     durenvms("COMMIT_TIMEOUT_MS", 5000),
		IdempotencyTTL:    durenvh("IDEMPOTENCY_TTL_HOURS", 48),
		AWSMaxAttempts:    atoienv("AWS_MAX_ATTEMPTS", 0),
		MetricsBackend:    backend,
		MetricsNamespace:  getenv("METRICS_NAMESPACE", "ConsistentOrders"),
	}
}

// ErrSagaWithoutQueue: saga mode falls back to the worker when an inline
// release fails, so it cannot run without EVENTS_QUEUE_URL.
var ErrSagaWithoutQueue = errors.New("PLACEMENT_MODE=saga requires EVENTS_QUEUE_URL")

// Validate rejects combinations Load cannot repair with a default.
func (c Config) Validate() error {
	if c.PlacementMode == ModeSaga && c.EventsQueueURL == "" {
		return ErrSagaWithoutQueue
	}
	return nil
}
