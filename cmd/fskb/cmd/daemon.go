package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/llmtornado/fskb/internal/branchtrack"
	"github.com/llmtornado/fskb/internal/config"
	"github.com/llmtornado/fskb/internal/daemon"
	"github.com/llmtornado/fskb/internal/logging"
	"github.com/llmtornado/fskb/internal/output"
	"github.com/llmtornado/fskb/internal/query"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background search daemon",
		Long: `The daemon keeps embedders and vector stores loaded in memory across
multiple projects, so CLI and editor searches skip the per-invocation
startup cost.

Commands:
  start   Start the daemon (runs in background by default)
  stop    Stop the running daemon
  status  Show daemon status and health`,
		Example: `  fskb daemon start      # Start daemon in background
  fskb daemon start -f   # Run in foreground (for debugging)
  fskb daemon status     # Check if daemon is running
  fskb daemon stop       # Stop the daemon`,
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the background daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStart(cmd.Context(), cmd, foreground)
		},
	}

	cmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (don't daemonize)")
	return cmd
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStop(cmd)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runDaemonStart(ctx context.Context, cmd *cobra.Command, foreground bool) error {
	out := output.New(cmd.OutOrStdout())
	cfg := daemon.DefaultConfig()
	if err := cfg.EnsureDir(); err != nil {
		return fmt.Errorf("prepare daemon directory: %w", err)
	}

	client := daemon.NewClient(cfg)
	if client.IsRunning() {
		out.Status("", "Daemon is already running")
		return nil
	}

	if foreground {
		logCfg := logging.DefaultConfig()
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
		if logger, cleanup, err := logging.Setup(logCfg); err == nil {
			slog.SetDefault(logger)
			defer cleanup()
		}

		out.Status("", "Starting daemon in foreground...")
		out.Statusf("", "Socket: %s", cfg.SocketPath)
		out.Statusf("", "Logs: %s", logging.DefaultLogPath())
		out.Status("", "Press Ctrl+C to stop")
		out.Newline()

		return runDaemonForeground(ctx, cfg)
	}

	out.Status("", "Starting daemon in background...")

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("get executable path: %w", err)
	}

	bgCmd := exec.Command(execPath, "daemon", "start", "--foreground")
	bgCmd.Stdout = nil
	bgCmd.Stderr = nil
	bgCmd.Stdin = nil
	bgCmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := bgCmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- bgCmd.Wait() }()

	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("daemon process exited unexpectedly: %w", err)
			}
			return fmt.Errorf("daemon process exited unexpectedly with code 0")
		default:
		}

		time.Sleep(100 * time.Millisecond)
		if client.IsRunning() {
			out.Successf("Daemon started (pid: %d)", bgCmd.Process.Pid)
			return nil
		}
	}

	return fmt.Errorf("daemon failed to start within timeout")
}

// runDaemonForeground blocks serving daemon requests until ctx is
// cancelled or the process receives SIGTERM/SIGINT.
func runDaemonForeground(ctx context.Context, cfg daemon.Config) error {
	pidFile := daemon.NewPIDFile(cfg.PIDPath)
	if err := pidFile.Write(); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	defer func() { _ = pidFile.Remove() }()

	handler := newDaemonHandler(cfg.MaxProjects)
	defer handler.closeAll()

	srv, err := daemon.NewServer(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("create daemon server: %w", err)
	}
	srv.SetHandler(handler)

	slog.Info("daemon starting", slog.String("socket", cfg.SocketPath))
	return srv.ListenAndServe(ctx)
}

func runDaemonStop(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())
	cfg := daemon.DefaultConfig()

	pidFile := daemon.NewPIDFile(cfg.PIDPath)

	if !pidFile.IsRunning() {
		out.Status("", "Daemon is not running")
		return nil
	}

	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("read PID: %w", err)
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Successf("Daemon stopped (was pid: %d)", pid)
			return nil
		}
	}

	out.Status("", "Daemon not responding, sending SIGKILL...")
	if err := pidFile.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill daemon: %w", err)
	}

	out.Success("Daemon killed")
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	out := output.New(cmd.OutOrStdout())
	cfg := daemon.DefaultConfig()

	client := daemon.NewClient(cfg)

	if !client.IsRunning() {
		if jsonOutput {
			status := daemon.StatusResult{Running: false}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'fskb daemon start' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	out.Status("", "Daemon is running")
	out.Statusf("", "  PID:             %d", status.PID)
	out.Statusf("", "  Uptime:          %s", status.Uptime)
	out.Statusf("", "  Embedder:        %s (%s)", status.EmbedderType, status.EmbedderStatus)
	out.Statusf("", "  Projects loaded: %d", status.ProjectsLoaded)
	out.Statusf("", "  Socket:          %s", cfg.SocketPath)

	return nil
}

// daemonHandler implements daemon.RequestHandler by lazily building and
// caching a system per project root the first time it is searched, up to
// maxProjects. The teacher's hybrid BM25/vector search fields on
// SearchParams (BM25Only, Explain) have no equivalent here and are
// ignored; only Query, RootPath and Limit drive the search.
type daemonHandler struct {
	mu          sync.Mutex
	systems     map[string]*system
	maxProjects int
	started     time.Time
}

func newDaemonHandler(maxProjects int) *daemonHandler {
	if maxProjects <= 0 {
		maxProjects = 10
	}
	return &daemonHandler{
		systems:     make(map[string]*system),
		maxProjects: maxProjects,
		started:     time.Now(),
	}
}

func (h *daemonHandler) HandleSearch(ctx context.Context, params daemon.SearchParams) ([]daemon.SearchResult, error) {
	sys, err := h.systemFor(ctx, params.RootPath)
	if err != nil {
		return nil, err
	}

	opts := query.DefaultOptions()
	if params.Limit > 0 {
		opts.TopK = params.Limit
	}

	branch := branchtrack.New(params.RootPath).CurrentBranch()
	results, err := sys.query.Search(ctx, params.RootPath, branch, params.Query, opts)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", params.RootPath, err)
	}

	out := make([]daemon.SearchResult, len(results))
	for i, r := range results {
		out[i] = daemon.SearchResult{
			FilePath:  r.FilePath,
			StartLine: r.LineStart,
			EndLine:   r.LineEnd,
			Score:     float64(r.Score),
			Content:   r.Content,
			Language:  r.Language,
		}
	}
	return out, nil
}

func (h *daemonHandler) GetStatus() daemon.StatusResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	embedderType := "none"
	for _, sys := range h.systems {
		embedderType = sys.embedder.ModelName()
		break
	}

	return daemon.StatusResult{
		Running:        true,
		PID:            os.Getpid(),
		Uptime:         time.Since(h.started).Round(time.Second).String(),
		EmbedderType:   embedderType,
		EmbedderStatus: "ready",
		ProjectsLoaded: len(h.systems),
	}
}

func (h *daemonHandler) systemFor(ctx context.Context, root string) (*system, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sys, ok := h.systems[root]; ok {
		return sys, nil
	}
	if len(h.systems) >= h.maxProjects {
		return nil, fmt.Errorf("daemon already tracking %d projects (max %d)", len(h.systems), h.maxProjects)
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("load configuration for %s: %w", root, err)
	}

	sys, err := buildSystem(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build system for %s: %w", root, err)
	}
	if _, err := sys.store.GetOrCreateCollection(root); err != nil {
		_ = sys.Close()
		return nil, fmt.Errorf("open index for %s: %w", root, err)
	}

	h.systems[root] = sys
	slog.Debug("daemon loaded project", slog.String("root", root))
	return sys, nil
}

func (h *daemonHandler) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for root, sys := range h.systems {
		if err := sys.Close(); err != nil {
			slog.Warn("error closing project system", slog.String("root", root), slog.String("error", err.Error()))
		}
	}
	h.systems = make(map[string]*system)
}
