package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"streamline/internal/engine"
	"streamline/internal/logging"
)

func main() {
	var cfg engine.Config
	flag.StringVar(&cfg.PipelineYml, "pipeline", "pipeline.yml", "pipeline description; empty runs no pipeline")
	flag.StringVar(&cfg.BrokerYml, "broker", "", "standalone broker config when the pipeline embeds none")
	flag.IntVar(&cfg.GRPCPort, "grpc-port", 7070, "control service port")
	flag.IntVar(&cfg.MetricsPort, "metrics-port", 9100, "prometheus port; negative disables")
	flag.Parse()

	logging.InitFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	if err := e.Run(ctx); err != nil {
		log.Fatalf("engine: %v", err)
	}
}
