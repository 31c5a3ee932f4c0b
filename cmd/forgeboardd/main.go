// Command forgeboardd runs the app lifecycle engine and its control API.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/forgeboard/internal/infrastructure/config"
	"github.com/GriffinCanCode/forgeboard/internal/logging"
	"github.com/GriffinCanCode/forgeboard/internal/server"
)

func main() {
	port := flag.String("port", "", "Control API port (overrides FORGEBOARD_PORT)")
	registryFile := flag.String("registry", "", "Registry file path (overrides FORGEBOARD_REGISTRY_FILE)")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *registryFile != "" {
		cfg.Layout.RegistryFile = *registryFile
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	srv := server.New(cfg, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-sigChan:
		logger.Info("shutting down")
		if err := srv.Close(); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	case err := <-errChan:
		logger.Fatal("server error", zap.Error(err))
	}
}
