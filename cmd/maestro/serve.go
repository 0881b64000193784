package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kandev/maestro/internal/common/config"
	"github.com/kandev/maestro/internal/common/logger"
	"github.com/kandev/maestro/internal/server"
)

var (
	configPath string
	portFlag   int
	dataDir    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Maestro server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Directory containing config.yaml")
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Override server.port from config")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "Override data.dir from config")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, v, err := config.LoadWithPath(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
	}
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()
	logger.SetDefault(log)

	config.WatchAndReload(v, func(reloaded *config.Config) {
		log.Info("configuration file changed; restart maestro to apply it")
		_ = reloaded
	})

	srv, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("shutdown signal received")
		cancel()
	}()

	return srv.Run(ctx)
}
