package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"biotutor/internal/config"
	"biotutor/internal/llm"
	"biotutor/internal/logging"
	serverhttp "biotutor/internal/server/http"
	"biotutor/internal/session"
	"biotutor/internal/sse"
	"biotutor/internal/workflow"
)

var (
	cyan = color.New(color.FgCyan).SprintFunc()
	gray = color.New(color.FgHiBlack).SprintFunc()
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:     "biotutor",
		Short:   "Conversational biology tutoring backend",
		Version: version,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (yaml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	root.AddCommand(serve)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd.OutOrStdout(), configPath)
		},
	}
	root.AddCommand(configCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runConfig(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Credentials stay out of terminal output.
	redacted := *cfg
	for _, mc := range []*config.ModelConfig{&redacted.Models.Vision, &redacted.Models.Quick, &redacted.Models.Deep} {
		if mc.APIKey != "" {
			mc.APIKey = "********"
		}
	}

	encoded, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = out.Write(encoded)
	return err
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	logger := logging.NewComponentLogger("Main")

	fmt.Printf("%s %s\n", cyan("biotutor"), gray(version))
	logger.Info("Models: vision=%s quick=%s deep=%s", cfg.Models.Vision.Model, cfg.Models.Quick.Model, cfg.Models.Deep.Model)

	store := session.NewStore(logging.NewComponentLogger("SessionStore"))
	publisher := sse.NewPublisher(sse.WithPendingCap(cfg.Events.PendingBufferCap))
	resolver := llm.NewResolver(llm.NewRegistry(), cfg.Models)
	tutor := workflow.NewTutor(cfg, store, publisher, resolver)

	srv := serverhttp.NewServer(cfg, store, publisher, tutor)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
