// Package main starts the tablemap real-time scene service and handles termination.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	tablemapcmd "github.com/louisbranch/tablemap/internal/cmd/tablemap"
	"github.com/louisbranch/tablemap/internal/platform/config"
)

func main() {
	cfg, err := tablemapcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.UsageExitf("parse config: %v", err)
	}
	log.SetPrefix("[TABLEMAP] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tablemapcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
