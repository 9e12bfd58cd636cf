package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/l1jgo/ecsrt/internal/config"
	"github.com/l1jgo/ecsrt/internal/core/engine"
	"github.com/pkg/profile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

// ── Main logic ────────────────────────────────────────────────────

func run() error {
	var (
		cfgPath    = flag.String("config", "", "config file (.toml, .yaml); defaults to $"+config.EnvPath)
		frames     = flag.Uint64("frames", 0, "stop after this many frames (overrides engine.max_frames)")
		profileDir = flag.String("profile", "", "write a CPU profile into this directory")
	)
	flag.Parse()

	if *profileDir != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*profileDir), profile.NoShutdownHook).Stop()
	}

	// 1. Load config
	cfg, err := config.LoadOrDefault(config.Resolve(*cfgPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *frames > 0 {
		cfg.Engine.MaxFrames = *frames
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 3. Build the engine and the demo arena
	eng, err := engine.Init(cfg, log)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	arena, err := buildArena(eng)
	if err != nil {
		return fmt.Errorf("build arena: %w", err)
	}

	printSection("ecsrt")
	printStat("component types", eng.Types().Len())
	printStat("programs", len(eng.Scheduler().Programs()))
	printStat("entities", len(eng.WorkingState().Entities()))
	fmt.Println()

	// 4. Run until signalled or out of frames
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(); err != nil {
		return err
	}
	loopErr := eng.Loop(ctx)
	arena.report(log)
	if err := eng.Stop(); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	return loopErr
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
