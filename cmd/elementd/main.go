package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rmax-ai/elementd/pkg/api"
	"github.com/rmax-ai/elementd/pkg/engine"
	"github.com/rmax-ai/elementd/pkg/executor"
	"github.com/rmax-ai/elementd/pkg/store"
	redisstore "github.com/rmax-ai/elementd/pkg/store/redis"
)

func main() {
	config, err := LoadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("invalid configuration: %v", err)
	}

	repo, err := openRepository(config)
	if err != nil {
		log.Fatalf("failed to open %s repository: %v", config.Backend, err)
	}
	log.Printf("repository initialized backend=%s", config.Backend)

	exec := executor.NewExecutor(executor.DefaultRegistry())
	dispatcher := engine.NewDispatcher(repo, exec, config.Workers, config.QueueSize)
	admission := engine.NewAdmissionController(repo, config.MaxActiveRuns)
	server := api.NewServer(repo, exec, admission, dispatcher, config.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		log.Printf("shutdown initiated signal=%s", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("api server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("failed to shut down api server: %v", err)
	}

	// Let in-flight runs reach a terminal state before the store goes away.
	dispatcher.Stop()

	if err := repo.Close(); err != nil {
		log.Printf("failed to close repository: %v", err)
	}
	log.Printf("shutdown complete")
}

// openRepository is the backend factory: the one place where backend
// identity is known. Everything downstream sees store.Repository.
func openRepository(config Config) (store.Repository, error) {
	switch config.Backend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return redisstore.NewStore(client), nil
	default:
		return store.NewStore(config.DBPath)
	}
}
