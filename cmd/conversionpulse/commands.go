// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/ConversionPulse/pkg/logging"
	"github.com/AleutianAI/ConversionPulse/services/conversion/config"
	"github.com/AleutianAI/ConversionPulse/services/conversion/server"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var (
	configPath string
	logDir     string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "conversionpulse",
		Short: "A booking conversion detection and confidence scoring service",
		Long: `ConversionPulse ingests page interaction events, aggregates them
into per-session summaries, scores booking likelihood, and exposes a
human validation workflow plus realtime dashboard notifications.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the conversion service",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("conversionpulse", Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for JSON log files (disabled when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  logDir,
		Service: "conversion",
	})
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cleanup, err := server.InitTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	srv, err := server.New(cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("assemble service: %w", err)
	}
	return srv.Run(cmd.Context())
}
