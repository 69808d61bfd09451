package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rmax-ai/elementd/pkg/engine"
)

const (
	defaultAddr    = "127.0.0.1:8091"
	defaultBackend = "sqlite"
)

type Config struct {
	Addr          string
	Backend       string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MaxActiveRuns int
	Workers       int
	QueueSize     int
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	defaultDBPath := filepath.Join(cwd, "elementd.db")

	addr := addrFromEnv(defaultAddr)
	backend := envOrDefault("ELEMENTD_BACKEND", defaultBackend)
	dbPath := envOrDefault("ELEMENTD_DB_PATH", defaultDBPath)
	redisAddr := envOrDefault("ELEMENTD_REDIS_ADDR", "127.0.0.1:6379")
	redisPassword := os.Getenv("ELEMENTD_REDIS_PASSWORD")

	redisDB := 0
	if raw := os.Getenv("ELEMENTD_REDIS_DB"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ELEMENTD_REDIS_DB: %w", err)
		}
		redisDB = parsed
	}

	maxActiveRuns := engine.DefaultMaxActiveRuns
	if raw := os.Getenv("ELEMENTD_MAX_ACTIVE_RUNS"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ELEMENTD_MAX_ACTIVE_RUNS: %w", err)
		}
		maxActiveRuns = parsed
	}

	workers := engine.DefaultWorkers
	if raw := os.Getenv("ELEMENTD_WORKERS"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ELEMENTD_WORKERS: %w", err)
		}
		workers = parsed
	}

	queueSize := engine.DefaultQueueSize
	if raw := os.Getenv("ELEMENTD_QUEUE_SIZE"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ELEMENTD_QUEUE_SIZE: %w", err)
		}
		queueSize = parsed
	}

	flagSet := flag.NewFlagSet("elementd", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagBackend := flagSet.String("backend", backend, "storage backend: sqlite|redis")
	flagDB := flagSet.String("db", dbPath, "path to SQLite database (backend=sqlite)")
	flagRedisAddr := flagSet.String("redis-addr", redisAddr, "Redis address (backend=redis)")
	flagRedisDB := flagSet.Int("redis-db", redisDB, "Redis database number (backend=redis)")
	flagMaxRuns := flagSet.Int("max-active-runs", maxActiveRuns, "admission ceiling per tenant/workspace")
	flagWorkers := flagSet.Int("workers", workers, "dispatch worker pool size")
	flagQueueSize := flagSet.Int("queue-size", queueSize, "dispatch queue capacity")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	config := Config{
		Addr:          strings.TrimSpace(*flagAddr),
		Backend:       strings.ToLower(strings.TrimSpace(*flagBackend)),
		DBPath:        resolvePath(*flagDB, cwd),
		RedisAddr:     strings.TrimSpace(*flagRedisAddr),
		RedisPassword: redisPassword,
		RedisDB:       *flagRedisDB,
		MaxActiveRuns: engine.ClampMaxActiveRuns(*flagMaxRuns),
		Workers:       *flagWorkers,
		QueueSize:     *flagQueueSize,
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}
	if config.Backend != "sqlite" && config.Backend != "redis" {
		return Config{}, fmt.Errorf("unsupported backend: %s", config.Backend)
	}
	if config.Backend == "redis" && config.RedisAddr == "" {
		return Config{}, errors.New("backend=redis requires redis-addr")
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("ELEMENTD_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("ELEMENTD_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func resolvePath(path, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}
