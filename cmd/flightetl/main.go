package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	_ "embed"

	// Blank imports register the relational dialects with the sink registry.
	_ "github.com/tailfin/flightetl/pkg/etl/sink/gormsink/mysql"
	_ "github.com/tailfin/flightetl/pkg/etl/sink/gormsink/postgres"
	_ "github.com/tailfin/flightetl/pkg/etl/sink/gormsink/sqlite"

	"github.com/tailfin/flightetl/internal/app"
	"github.com/tailfin/flightetl/pkg/etl/support/logger"
)

// embeddedConfig embeds the default application configuration. Values are
// overridable through the YAML file and environment variable expansion.
//
//go:embed resources/application.yaml
var embeddedConfig []byte

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal requests cooperative cancellation: lanes stop reading and
	// in-flight batches are still delivered before the process exits.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Warnf("Received signal '%v'. Stopping extraction and draining in-flight batches...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	app.RunApplication(ctx, envFilePath, embeddedConfig)
}
