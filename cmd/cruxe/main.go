// Command cruxe is the code intelligence engine's CLI: `serve` runs the
// stdio JSON-RPC daemon, `index`/`sync` run the indexer in-process,
// `health` prints a health report, `version` prints the build version.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/signalridge/cruxe/internal/config"
	"github.com/signalridge/cruxe/internal/extract"
	"github.com/signalridge/cruxe/internal/health"
	"github.com/signalridge/cruxe/internal/indexer"
	"github.com/signalridge/cruxe/internal/lockfile"
	"github.com/signalridge/cruxe/internal/logging"
	"github.com/signalridge/cruxe/internal/rpcserver"
	"github.com/signalridge/cruxe/internal/storage"
	"github.com/signalridge/cruxe/internal/tools"
	"github.com/signalridge/cruxe/internal/vcs"
)

var version = "0.3.0"

func main() {
	// Signal-aware root context: SIGINT/SIGTERM cancel in-flight work and
	// let deferred cleanup (daemon lock, connection cache) run.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	if err := newRootCmd().ExecuteContext(rootCtx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "cruxe",
		Short:         "workspace-scoped code intelligence engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "explicit config file path")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newIndexCmd(&configPath, "index", "Index a workspace from scratch or incrementally"))
	root.AddCommand(newIndexCmd(&configPath, "sync", "Incrementally sync a workspace ref"))
	root.AddCommand(newHealthCmd(&configPath))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the cruxe version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("cruxe", version)
		},
	})
	return root
}

// envCaps binds the CRUXE_* runtime caps through viper so the env surface
// matches the documented CLI contract (CRUXE_MAX_OPEN_CONNECTIONS,
// CRUXE_WARMSET_CAPACITY, and friends).
func envCaps() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CRUXE")
	v.AutomaticEnv()
	v.SetDefault("max_open_connections", rpcserver.DefaultMaxOpenConnections)
	v.SetDefault("warmset_capacity", rpcserver.DefaultWarmsetCapacity)
	v.SetDefault("auto_discover", true)
	v.SetDefault("max_workspaces", 0)
	v.SetDefault("allowed_roots", "")
	v.SetDefault("indexer_bin", "")
	return v
}

func newServeCmd(configPath *string) *cobra.Command {
	var workspacePath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the stdio JSON-RPC tool server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if workspacePath == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				workspacePath = wd
			}

			cfg, _, err := config.Load(workspacePath, *configPath, nil)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Options{Level: cfg.Logging.Level, JSON: true})

			// One daemon per workspace: the flock + PID record survives
			// crashes and lets a restart steal a dead owner's lock.
			lock, err := lockfile.AcquireDaemon(filepath.Join(workspacePath, ".cruxe"))
			if err != nil {
				if lockfile.IsLocked(err) {
					return fmt.Errorf("another cruxe daemon is already serving %s", workspacePath)
				}
				return err
			}
			defer lock.Release()

			// Metrics go to stderr; stdout carries only protocol frames.
			exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
			if err == nil {
				provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(
					sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(time.Minute))))
				otel.SetMeterProvider(provider)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = provider.Shutdown(shutdownCtx)
				}()
			}

			caps := envCaps()
			conns, err := rpcserver.NewConnManager(caps.GetInt("max_open_connections"), cfg.Storage.BusyTimeoutMs, cfg.Storage.CacheSize)
			if err != nil {
				return err
			}
			defer conns.Close()

			gitAdapter := vcs.NewGit()
			indexerBin := caps.GetString("indexer_bin")
			if indexerBin == "" {
				if exe, eerr := os.Executable(); eerr == nil {
					indexerBin = filepath.Join(filepath.Dir(exe), "cruxe-indexer")
				}
			}
			var allowedRoots []string
			if raw := caps.GetString("allowed_roots"); raw != "" {
				allowedRoots = filepath.SplitList(raw)
			}
			router := rpcserver.NewRouter(rpcserver.RouterOptions{
				StorageRoot:   cfg.Storage.DataDir,
				AllowedRoots:  allowedRoots,
				AutoDiscover:  caps.GetBool("auto_discover"),
				MaxWorkspaces: caps.GetInt("max_workspaces"),
				IndexerBin:    indexerBin,
				ConfigPath:    *configPath,
			}, cfg, gitAdapter, logger)

			home, err := router.RegisterHome(ctx, workspacePath)
			if err != nil {
				return fmt.Errorf("register workspace: %w", err)
			}

			monitor := health.New(version, extract.SupportedLanguages(), cfg.Index.Languages)
			registry := rpcserver.NewRegistry()
			tools.RegisterAll(registry)

			server := rpcserver.NewServer(rpcserver.Options{
				Config:        cfg,
				Logger:        logger,
				Monitor:       monitor,
				VCS:           gitAdapter,
				Extractor:     extract.NewRegexExtractor(),
				Registry:      registry,
				Router:        router,
				Conns:         conns,
				Sessions:      rpcserver.NewSessionRefs(),
				In:            os.Stdin,
				Out:           os.Stdout,
				ServerName:    "cruxe",
				ServerVersion: version,
			})

			rpcserver.Prewarm(ctx, caps.GetInt("warmset_capacity"), home, conns, monitor, logger)
			return server.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&workspacePath, "path", "", "workspace to serve (default: current directory)")
	return cmd
}

func newIndexCmd(configPath *string, use, short string) *cobra.Command {
	var workspacePath, ref string
	var force bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspacePath == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				workspacePath = wd
			}
			result, err := indexer.Run(cmd.Context(), workspacePath, ref, *configPath, force, os.Getenv("CRUXE_JOB_ID"))
			if err != nil {
				return err
			}
			fmt.Printf("indexed %s: job=%s mode=%s changed=%d symbols=%d in %dms\n",
				workspacePath, result.JobID, result.Mode, result.ChangedFiles, result.SymbolsExtracted, result.DurationMs)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspacePath, "path", "", "workspace to index (default: current directory)")
	cmd.Flags().StringVar(&ref, "ref", "", "ref to index (default: the checked-out branch)")
	cmd.Flags().BoolVar(&force, "force", false, "rebuild from scratch even if incremental would do")
	return cmd
}

func newHealthCmd(configPath *string) *cobra.Command {
	var workspacePath string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Print a health report for a workspace's index",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if workspacePath == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				workspacePath = wd
			}
			cfg, _, err := config.Load(workspacePath, *configPath, nil)
			if err != nil {
				return err
			}

			projectID, dataDir := indexer.Scope(cfg, workspacePath)
			monitor := health.New(version, extract.SupportedLanguages(), cfg.Index.Languages)

			var store *storage.Store
			if _, serr := os.Stat(storage.DBPath(dataDir)); serr == nil {
				store, err = storage.Open(ctx, storage.DBPath(dataDir), cfg.Storage.BusyTimeoutMs, cfg.Storage.CacheSize)
				if err != nil {
					return err
				}
				defer store.Close()
			}

			report := monitor.Check(ctx, store, projectID)
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&workspacePath, "path", "", "workspace to check (default: current directory)")
	return cmd
}
