package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"gpu-sheet-agent/internal/agent"
	"gpu-sheet-agent/internal/config"
	"gpu-sheet-agent/internal/logging"
	nvmlwrap "gpu-sheet-agent/internal/nvml"
	"gpu-sheet-agent/internal/procinfo"
	"gpu-sheet-agent/internal/report"
	"gpu-sheet-agent/internal/sampling"
	"gpu-sheet-agent/internal/sheet"
	"gpu-sheet-agent/internal/smi"
)

func main() {
	cfg := config.FromEnvAndFlags(os.Args[1:])
	logger := logging.New()
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mode := cfg.Mode()
	sampler := newSampler(cfg.Sampler)

	publisher, err := sheet.NewClient(ctx, cfg.CredentialsPath, cfg.SheetID, cfg.Tab(), report.Header(mode), cfg.StartRow)
	if err != nil {
		logger.Fatal("sheet client failed", zap.Error(err))
	}

	logger.Info("gpu-sheet-agent starting",
		zap.String("server", cfg.ServerName),
		zap.String("mode", string(mode)),
		zap.String("tab", cfg.Tab()),
		zap.String("sampler", sampler.Name()),
		zap.Duration("window", cfg.Window),
		zap.Duration("interval", cfg.SampleInterval),
	)

	ag := agent.New(agent.Options{
		Mode:           mode,
		ServerName:     cfg.ServerName,
		Location:       cfg.Location(),
		SampleInterval: cfg.SampleInterval,
		Window:         cfg.Window,
		Sampler:        sampler,
		Resolver:       procinfo.NewResolver(10 * time.Minute),
		Publisher:      publisher,
		Logger:         logger,
	})

	if err := ag.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("gpu-sheet-agent exited with error", zap.Error(err))
		// give log collector a chance
		time.Sleep(250 * time.Millisecond)
		os.Exit(1)
	}
}

func newSampler(name string) sampling.Sampler {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "smi", "nvidia-smi", "nvidiasmi":
		return smi.New("nvidia-smi")
	default:
		return nvmlwrap.New()
	}
}
