package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blockrun/internal/compress"
	"blockrun/internal/config"
	"blockrun/internal/datadir"
	"blockrun/internal/dedup"
	"blockrun/internal/maintenance"
	"blockrun/internal/proxy"
	"blockrun/internal/routing"
	"blockrun/internal/usagedb"
	"blockrun/internal/version"
	"blockrun/internal/wallet"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	dataDir string
	verbose bool
	port    int
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "blockrun",
	Short: "BlockRun Proxy - local LLM routing proxy with pay-per-call upstream",
	Long: `BlockRun Proxy is a local-loopback routing proxy for OpenAI-compatible
chat completions. It classifies each request into a complexity tier, selects
the cheapest capable model, signs a micropayment header, and streams the
upstream response back while deduplicating retried requests.`,
	Version: version.Full(),
}

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the BlockRun proxy server",
	Long: `Start the proxy on 127.0.0.1. Requests to /v1/chat/completions with
model "auto", "free", "eco", or "premium" are tier-routed; explicit
provider/model ids pass through with a fallback chain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("BlockRun Proxy %s\n", version.Full())
		if version.GitCommit != "unknown" {
			fmt.Printf("Git commit: %s\n", version.GitCommit)
		}
		if version.BuildDate != "unknown" {
			fmt.Printf("Build date: %s\n", version.BuildDate)
		}
		fmt.Printf("Go version: %s\n", version.GoVersion)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default {datadir}/config.json)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.openclaw/blockrun)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default BLOCKRUN_PROXY_PORT or 8402)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	// No subcommand defaults to serve.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	}
}

func runServe() error {
	if verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	// Resolve the data directory and load .env files before config so
	// ${ENV_VAR} expansion and BLOCKRUN_* variables are in place.
	dd, err := datadir.New(dataDir)
	if err != nil {
		return fmt.Errorf("resolve data directory: %w", err)
	}
	if err := dd.EnsureDirs(); err != nil {
		return err
	}
	if err := datadir.LoadEnv(dd.Root()); err != nil {
		log.Printf("WARNING: failed to load .env files: %v", err)
	}

	path := cfgFile
	if path == "" {
		path = dd.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port != 0 {
		cfg.Port = port
	}

	// Wallet key: env override or {datadir}/wallet.key written by the
	// installer.
	store := wallet.NewStore(dd.Root())
	key, err := store.Load()
	if err != nil {
		return fmt.Errorf("load wallet key: %w", err)
	}
	signer := wallet.NewPaymentSigner(key, cfg.Upstream.PayTo)
	log.Printf("[Main] wallet %s", signer.Address())

	router, err := routing.NewRouter(cfg.Scoring, cfg.Overrides, routing.DefaultCatalog())
	if err != nil {
		return err
	}

	cache := dedup.NewCache(cfg.Dedup)
	pipeline := compress.NewPipeline(cfg.Compression)

	var recorder usagedb.Recorder = usagedb.NopRecorder{}
	var db *usagedb.DB
	if cfg.Usage.Enabled {
		usagePath := cfg.Usage.Path
		if usagePath == "" {
			usagePath = dd.UsageDBPath()
		}
		db, err = usagedb.Open(usagePath)
		if err != nil {
			return fmt.Errorf("open usage database: %w", err)
		}
		defer db.Close()
		recorder = db
		log.Printf("[Main] usage database at %s", usagePath)
	}

	dispatcher := proxy.NewDispatcher(proxy.DispatchConfig{
		MaxRequestBytes:           cfg.Proxy.MaxRequestSizeKB * 1024,
		CompressionThresholdBytes: cfg.Proxy.CompressionThresholdKB * 1024,
		AutoCompress:              cfg.Proxy.AutoCompressRequests,
		MaxFallbackAttempts:       cfg.Proxy.MaxFallbackAttempts,
		AttemptTimeout:            time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
	}, router, pipeline, cache, signer,
		proxy.NewHTTPUpstream(cfg.Upstream.URL), recorder)

	if cfg.Maintenance.Enabled {
		scheduler := maintenance.NewScheduler()
		if err := scheduler.RegisterTask(maintenance.NewDedupPruneTask(cache, cfg.Maintenance.PruneSchedule)); err != nil {
			return err
		}
		if db != nil {
			if err := scheduler.RegisterTask(maintenance.NewUsageRetentionTask(db, cfg.Usage.RetentionDays, cfg.Maintenance.RetentionSchedule)); err != nil {
				return err
			}
		}
		if err := scheduler.Start(); err != nil {
			return err
		}
		defer scheduler.Stop()
	}

	server := proxy.NewServer(cfg, dispatcher, signer, router.Catalog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[Main] received signal: %v", sig)
		cancel()
	}()

	log.Printf("[Main] BlockRun proxy %s starting on port %d", version.Full(), cfg.Port)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
