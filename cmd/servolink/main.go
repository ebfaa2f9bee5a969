package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"servolink/internal/config"
	"servolink/internal/logsink"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./servolink.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logCloser, err := logsink.Setup(logsink.Config{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		log.Fatalf("log setup failed: %v", err)
	}
	defer logCloser.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(cfg)
	if err != nil {
		log.Printf("runtime init failed: %v", err)
		return
	}

	log.Printf("servolink starting")
	if err := rt.Run(ctx); err != nil {
		log.Printf("servolink stopped with error: %v", err)
		return
	}
	log.Printf("servolink stopped")
}
