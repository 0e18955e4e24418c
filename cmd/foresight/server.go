package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/foresight/internal/api"
	"github.com/kalambet/foresight/internal/config"
	"github.com/kalambet/foresight/internal/feedback"
	"github.com/kalambet/foresight/internal/pipeline"
	"github.com/kalambet/foresight/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the foresight server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcp, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running foresight server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show foresight system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "foresight.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// openStore opens the configured database with the configured pool.
func openStore(cfg config.Config) (*storage.Store, error) {
	opts := storage.DefaultOptions()
	opts.PoolMin = cfg.Storage.PoolMin
	opts.PoolMax = cfg.Storage.PoolMax
	opts.OpTimeout = cfg.Storage.OpTimeoutDuration()
	store, err := storage.OpenWithOptions(cfg.Storage.DataDir, opts)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func engineConfig(cfg config.Config) pipeline.Config {
	return pipeline.Config{
		SimilarityThreshold: cfg.Engine.SimilarityThreshold,
		DefaultCascadeDepth: cfg.Engine.DefaultCascadeDepth,
		MaxCascadeDepth:     cfg.Engine.MaxCascadeDepth,
		WindowSize:          cfg.Engine.ContextWindow,
		DefaultDecay:        cfg.Engine.DefaultDecay,
		LearningRate:        cfg.Engine.LearningRate,
		PatternCandidates:   cfg.Engine.PatternCandidates,
	}
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "foresight version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if cfg.API.Token == "" {
		slog.Warn("no API token configured, HTTP API is unauthenticated")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("foresight is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("foresight is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	engine := pipeline.New(store, engineConfig(cfg))

	worker := feedback.NewWorker(store, cfg.Engine.LearningRate, cfg.Feedback.PollIntervalDuration())
	go worker.Run(ctx)

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(engine, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	handler := api.NewHandler(api.Deps{
		Engine:         engine,
		Token:          cfg.API.Token,
		ProcessLimiter: api.NewProcessLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("foresight listening", "addr", addr, "max_conns", cfg.Server.MaxConns)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("foresight is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop foresight (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to foresight (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	client.httpClient.Timeout = 2 * time.Second

	var health pipeline.Health
	resp, err := client.get(context.Background(), "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else if err := decodeJSON(resp, &health); err != nil {
		printStatus("Server", "error (%v)", err)
	} else {
		printStatus("Server", "running on port %d", cfg.Server.Port)
		printStatus("Storage", "%s (%d/%d connections open)", health.Status, health.OpenConnections, health.MaxOpen)
		printStatus("Context window", "%d/%d", health.WindowSize, cfg.Engine.ContextWindow)

		var sys struct {
			System pipeline.SystemIntelligence `json:"system"`
		}
		if r, err := client.get(context.Background(), "/analytics/intelligence"); err == nil && decodeJSON(r, &sys) == nil {
			printStatus("Learning", "%s (%d interactions in 24h, %d top patterns)",
				sys.System.Status, sys.System.Metrics.TotalInteractions, len(sys.System.TopPatterns))
		}
	}

	printStatus("Auth", "%s", authLabel(cfg.API.Token))
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func authLabel(token string) string {
	if token == "" {
		return "disabled"
	}
	return "bearer token"
}
