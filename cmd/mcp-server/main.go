// Package main runs the medical examination assistant as an MCP server over stdio.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medical-examination-assistant/internal/api"
	"github.com/medical-examination-assistant/internal/bootstrap"
	"github.com/medical-examination-assistant/internal/config"
	"github.com/medical-examination-assistant/internal/mcp"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "mcp-server",
		Short:         "Medical examination assistant tools over MCP stdio",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			return run(path)
		},
	}
	rootCmd.Flags().String("config", "", "path to the YAML configuration file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	manager, err := config.NewManagerWithFile(configPath)
	if err != nil {
		return err
	}
	if err := manager.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// stdout carries the protocol; NewLogger writes to stderr
	logger := bootstrap.NewLogger(manager.GetConfig().Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, manager, logger, bootstrap.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer app.Close()

	server := mcp.NewServer(mcp.Services{
		Pipeline:    app.Pipeline,
		Matcher:     app.Matcher,
		Patients:    app.Patients,
		Sessions:    app.Sessions,
		Dashboard:   app.Dashboard,
		Comparisons: app.Comparisons,
	}, api.Version, logger)

	return server.Run(ctx)
}
