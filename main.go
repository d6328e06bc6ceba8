package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aiforum/rag-service/internal/cmd/ingest"
	"github.com/aiforum/rag-service/internal/cmd/migrate"
	"github.com/aiforum/rag-service/internal/cmd/serve"
	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "rag-service",
		Usage: "Character-grounded RAG service for the AI forum",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			ingest.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
