package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/pebblehttp/pebble/filesystem"
	"github.com/pebblehttp/pebble/handler"
	"github.com/pebblehttp/pebble/http"
	"github.com/pebblehttp/pebble/respond"
	"github.com/pebblehttp/pebble/telemetry"
)

func main() {
	if err := run(context.Background()); err != nil {
		log.Fatalln(err)
	}
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, "pebble")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Println("telemetry shutdown:", err)
		}
	}()

	exec := respond.NewExecutor(envInt("PEBBLE_WORKERS", respond.DefaultWorkers))
	defer func() {
		if err := exec.Shutdown(context.Background()); err != nil {
			log.Println("executor shutdown:", err)
		}
	}()

	fs := filesystem.NewLocalFileSystem()
	fileDir := env("PEBBLE_FILE_DIR", "./public")

	records := map[string][]byte{
		"greeting": []byte("hello from pebble"),
	}
	fetch := func(key string) ([]byte, error) {
		record, found := records[key]
		if !found {
			return nil, handler.ErrNotFound
		}
		return record, nil
	}

	router := http.NewRouter()
	router.GET("/file", handler.File(exec, fs, fileDir))
	router.POST("/form", handler.Form())
	router.GET("/lookup", handler.Lookup(exec, fetch))

	logger := slog.Default()
	h := http.Recover(logger)(router.Handler())
	h = http.AccessLog(logger)(h)
	h = http.RequestID()(h)

	server := http.NewServer("pebble", h)

	serverErrCh := make(chan error, 1)

	addr := env("PEBBLE_ADDR", "0.0.0.0:8080")
	go func() {
		log.Printf("Listening and serving on: %s", addr)
		serverErrCh <- server.ListenAndServe(addr)
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-ctx.Done():
		stop()
	}

	return server.Shutdown(context.Background())
}

func env(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
