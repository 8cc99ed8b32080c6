package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"material-indexing-platform/internal/app"
	"material-indexing-platform/internal/config"
	"material-indexing-platform/internal/logger"
)

func usage() {
	fmt.Println("Usage: go run ./cmd/migrate <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  ensure-indexes  - Create the materials collection indexes")
	fmt.Println("  repair-stuck    - Mark materials stuck in processing as failed (-older-than=2h)")
	fmt.Println("  orphans         - Compare stored objects with registered materials")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	command := os.Args[1]
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	olderThan := fs.Duration("older-than", 2*time.Hour, "minimum time a material must have been processing")
	if err := fs.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	deps, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer deps.Close()

	switch command {
	case "ensure-indexes":
		if err := config.EnsureIndexes(ctx, deps.DB); err != nil {
			log.Fatalf("Index creation failed: %v", err)
		}
		fmt.Println("Indexes are up to date")

	case "repair-stuck":
		recovered, err := deps.Indexer.RecoverStuckMaterials(ctx, *olderThan)
		if err != nil {
			log.Fatalf("Repair failed after %d materials: %v", recovered, err)
		}
		fmt.Printf("Marked %d stuck materials as failed\n", recovered)

	case "orphans":
		report, err := deps.Indexer.CheckStorage(ctx)
		if err != nil {
			log.Fatalf("Storage check failed: %v", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}

	default:
		usage()
		os.Exit(1)
	}
}
