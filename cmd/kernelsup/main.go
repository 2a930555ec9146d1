// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// kernelsup keeps a kernel supervisor server running for this workspace and
// serves a local API for managing its sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/wingedpig/kernelsup/internal/app"
	"github.com/wingedpig/kernelsup/internal/config"
)

var (
	version = "0.1.0"
)

func main() {
	var (
		configPath  string
		listen      string
		workspace   string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&configPath, "c", "", "Path to config file (short)")
	flag.StringVar(&listen, "listen", "", "API listen address (overrides config)")
	flag.StringVar(&workspace, "workspace", "", "Workspace key for persisted state (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.BoolVar(&showVersion, "v", false, "Show version (short)")
	flag.Parse()

	if showVersion {
		fmt.Printf("kernelsup %s\n", version)
		os.Exit(0)
	}

	// Find config file if not specified; defaults apply when none exists.
	if configPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("Error: %v", err)
		}
		if found, err := config.NewLoader().FindConfig(cwd); err == nil {
			configPath = found
		}
	}

	if configPath != "" {
		log.Printf("Using config: %s", configPath)
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Listen:     listen,
		Workspace:  workspace,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to create app: %v", err)
	}

	ctx := context.Background()
	if err := application.Run(ctx); err != nil {
		log.Fatalf("App error: %v", err)
	}
}
