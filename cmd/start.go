package cmd

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/internal/config"
	"github.com/relaygate/relaygate/internal/inference"
	"github.com/relaygate/relaygate/internal/process"
	"github.com/relaygate/relaygate/internal/server"
	"github.com/relaygate/relaygate/internal/store"
	"github.com/relaygate/relaygate/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway service",
	Long:  `Start the inference gateway in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetBool("log-file")
	setupLogging(verbose, logFile)

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"models", len(cfg.Models),
		"functions", len(cfg.Functions),
	)

	var redisClient redis.UniversalClient
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	loader := &config.FunctionLoader{BaseDir: baseDir, RedisClient: redisClient}
	runtime, err := loader.Load(cfg)
	if err != nil {
		return fmt.Errorf("compile gateway config: %w", err)
	}

	st, err := store.Open(cfg.StoreDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	dispatcher := &inference.Dispatcher{
		Functions:  runtime.Functions,
		Models:     runtime.Models,
		Store:      st,
		RandSource: rand.NewSource(time.Now().UnixNano()),
	}

	metrics := telemetry.NewMetrics()

	procMgr := process.NewManager(baseDir)
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv := server.New(cfgMgr, dispatcher, st, metrics, logger)
	return srv.Start()
}
