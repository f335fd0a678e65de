package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/llmtornado/fskb/configs"
	"github.com/llmtornado/fskb/internal/config"
	"github.com/llmtornado/fskb/internal/embed"
	"github.com/llmtornado/fskb/internal/lifecycle"
	"github.com/llmtornado/fskb/internal/output"
	"github.com/llmtornado/fskb/pkg/version"
)

// mcpServerConfig is one entry of a Model Context Protocol client's
// .mcp.json "mcpServers" map.
type mcpServerConfig struct {
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

type mcpConfigFile struct {
	MCPServers map[string]mcpServerConfig `json:"mcpServers"`
}

func newInitCmd() *cobra.Command {
	var (
		force      bool
		offline    bool
		configOnly bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize fskb for a project",
		Long: `Initialize fskb for the current project.

This command:
1. Writes an .mcp.json entry so MCP clients can launch 'fskb serve'
2. Generates .fskb.yaml configuration template
3. Verifies embedder availability (Ollama or static fallback)
4. Indexes the project`,
		Example: `  # Initialize in current project
  fskb init

  # Force reinitialize (overwrite existing config)
  fskb init --force

  # Fix config only (skip indexing)
  fskb init --force --config-only

  # Use offline mode (static embeddings)
  fskb init --offline`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runInit(ctx, cmd, force, offline, configOnly)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (no Ollama required)")
	cmd.Flags().BoolVar(&configOnly, "config-only", false, "Write configuration only, skip indexing")

	return cmd
}

func runInit(ctx context.Context, cmd *cobra.Command, force, offline, configOnly bool) error {
	out := output.New(cmd.OutOrStdout())

	out.Statusf("🚀", "fskb %s - Initializing...", version.Version)
	out.Newline()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	root, err := config.FindProjectRoot(cwd)
	if err != nil {
		root = cwd
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	out.Statusf("📁", "Project: %s", absRoot)

	mcpConfigPath := filepath.Join(absRoot, ".mcp.json")
	if !force {
		if _, err := os.Stat(mcpConfigPath); err == nil {
			out.Warning("Project already initialized (.mcp.json exists)")
			out.Status("💡", "Use --force to reinitialize")
			return nil
		}
	}

	out.Newline()
	out.Status("⚙️ ", "Writing MCP client configuration...")
	if err := writeMCPConfig(absRoot, force); err != nil {
		out.Warningf("MCP configuration failed: %v", err)
	} else {
		out.Success("Wrote .mcp.json")
	}

	if err := generateProjectConfig(out, absRoot); err != nil {
		out.Warningf("Could not create .fskb.yaml template: %v", err)
	}

	added, err := ensureGitignore(absRoot)
	if err != nil {
		out.Warningf("Could not update .gitignore: %v", err)
	} else if added {
		out.Status("📝", "Added .fskb to .gitignore")
	}

	if configOnly {
		out.Newline()
		out.Status("⏭️ ", "Skipping indexing (--config-only)")
		out.Newline()
		out.Success("Configuration complete!")
		return nil
	}

	if !offline {
		out.Newline()
		out.Status("🧠", "Checking embedder availability...")
		shouldUseOffline, err := ensureEmbedderReady(ctx, out)
		if err != nil {
			return fmt.Errorf("embedder check failed: %w", err)
		}
		if shouldUseOffline {
			offline = true
			out.Status("ℹ️ ", "Using static embeddings")
		}
	}

	out.Newline()
	out.Status("📊", "Indexing project...")
	start := time.Now()
	if err := runIndexAndWait(ctx, cmd, absRoot, offline); err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}
	out.Newline()
	out.Statusf("⏱️ ", "Completed in %.1fs", time.Since(start).Seconds())

	out.Newline()
	out.Success("Initialization complete!")
	out.Newline()
	out.Status("📋", "Next steps:")
	out.Status("", "  1. Restart your MCP client to pick up the new server")
	out.Status("", "  2. Run 'fskb search <query>' to try a search from the CLI")

	if !config.UserConfigExists() {
		out.Newline()
		out.Status("💡", "For machine-specific settings (resource limits, embedder host):")
		out.Status("", "   Run 'fskb config init' to create a user config")
	}

	return nil
}

func generateProjectConfig(out *output.Writer, projectRoot string) error {
	yamlPath := filepath.Join(projectRoot, ".fskb.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		out.Status("ℹ️ ", "Existing .fskb.yaml preserved")
		return nil
	}
	ymlPath := filepath.Join(projectRoot, ".fskb.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		out.Status("ℹ️ ", "Existing .fskb.yml found, skipping template")
		return nil
	}
	if err := os.WriteFile(yamlPath, []byte(configs.ProjectConfigTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write .fskb.yaml: %w", err)
	}
	out.Statusf("📝", "Created .fskb.yaml (optional project configuration)")
	return nil
}

// ensureGitignore adds .fskb to .gitignore if not already present.
func ensureGitignore(projectRoot string) (bool, error) {
	gitignorePath := filepath.Join(projectRoot, ".gitignore")

	content, err := os.ReadFile(gitignorePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("reading .gitignore: %w", err)
	}

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		switch line {
		case ".fskb", ".fskb/", "/.fskb", "/.fskb/":
			return false, nil
		}
	}

	lineEnding := "\n"
	if bytes.Contains(content, []byte("\r\n")) {
		lineEnding = "\r\n"
	}
	if len(content) > 0 && !bytes.HasSuffix(content, []byte("\n")) {
		content = append(content, []byte(lineEnding)...)
	}

	var entry string
	if len(content) == 0 {
		entry = "# fskb index data (auto-generated)" + lineEnding + ".fskb/" + lineEnding
	} else {
		entry = lineEnding + "# fskb index data (auto-generated)" + lineEnding + ".fskb/" + lineEnding
	}
	content = append(content, []byte(entry)...)

	if err := os.WriteFile(gitignorePath, content, 0644); err != nil {
		return false, fmt.Errorf("writing .gitignore: %w", err)
	}
	return true, nil
}

func writeMCPConfig(projectRoot string, force bool) error {
	mcpPath := filepath.Join(projectRoot, ".mcp.json")

	var existing mcpConfigFile
	if data, err := os.ReadFile(mcpPath); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("failed to parse existing .mcp.json: %w", err)
		}
		if _, exists := existing.MCPServers["fskb"]; exists && !force {
			return nil
		}
	} else {
		existing = mcpConfigFile{MCPServers: make(map[string]mcpServerConfig)}
	}

	binPath, err := findFskbBinary()
	if err != nil {
		return err
	}

	existing.MCPServers["fskb"] = mcpServerConfig{
		Type:    "stdio",
		Command: binPath,
		Args:    []string{"serve"},
		Cwd:     projectRoot,
	}

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal .mcp.json: %w", err)
	}
	return os.WriteFile(mcpPath, data, 0644)
}

func findFskbBinary() (string, error) {
	execPath, err := os.Executable()
	if err == nil {
		if real, err := filepath.EvalSymlinks(execPath); err == nil {
			return real, nil
		}
		return execPath, nil
	}
	path, err := exec.LookPath("fskb")
	if err != nil {
		return "", fmt.Errorf("fskb not found in PATH: %w", err)
	}
	return path, nil
}

// ensureEmbedderReady checks Ollama availability, starting it and pulling
// the default model if needed. Returns (useStatic, error).
func ensureEmbedderReady(ctx context.Context, out *output.Writer) (bool, error) {
	manager := lifecycle.NewOllamaManager()

	if manager.IsRemoteHost() {
		out.Status("ℹ️ ", "Using remote Ollama host: "+manager.Host())
		running, err := manager.IsRunning()
		if err != nil {
			return false, fmt.Errorf("failed to check remote Ollama: %w", err)
		}
		if !running {
			return false, fmt.Errorf("remote Ollama at %s is not responding", manager.Host())
		}
		out.Success("Remote Ollama is available")
		return false, nil
	}

	status, err := manager.Status(ctx, embed.DefaultOllamaModel)
	if err != nil {
		if running, _ := manager.IsRunning(); running {
			out.Success("Ollama is running")
			return false, nil
		}
	}

	if status != nil && !status.Installed {
		return handleOllamaNotInstalled(out)
	}

	if status != nil && !status.Running {
		out.Status("🔄", "Ollama is installed but not running. Starting...")
		if err := manager.Start(); err != nil {
			out.Warningf("Failed to start Ollama: %v", err)
			return handleOllamaStartFailed(out)
		}
		out.Status("⏳", "Waiting for Ollama to be ready...")
		if err := manager.WaitForReady(ctx, lifecycle.StartupTimeout); err != nil {
			out.Warningf("Ollama failed to start in time: %v", err)
			return handleOllamaStartFailed(out)
		}
		out.Success("Ollama started successfully")
		status, _ = manager.Status(ctx, embed.DefaultOllamaModel)
	}

	if status != nil && status.Running && !status.HasModel {
		out.Statusf("📥", "Pulling embedding model %s...", embed.DefaultOllamaModel)
		progressFunc := lifecycle.CreatePullProgressFunc(os.Stdout)
		if err := manager.PullModel(ctx, embed.DefaultOllamaModel, progressFunc); err != nil {
			out.Newline()
			out.Warningf("Failed to pull model: %v", err)
			return handleModelPullFailed(out, embed.DefaultOllamaModel)
		}
		out.Newline()
		out.Successf("Model %s ready", embed.DefaultOllamaModel)
	}

	out.Success("Embedder ready")
	return false, nil
}

func handleOllamaNotInstalled(out *output.Writer) (bool, error) {
	if !lifecycle.IsTTY() {
		out.Newline()
		out.Warning("Ollama is not installed (required for semantic search)")
		out.Newline()
		out.Status("", lifecycle.InstallInstructions())
		out.Newline()
		out.Status("💡", "Use --offline flag to use static embeddings")
		return false, fmt.Errorf("ollama not installed (use --offline for static embeddings)")
	}

	choice, err := lifecycle.PromptNoEmbedder(os.Stdout, os.Stdin)
	if err != nil {
		return false, err
	}
	switch choice {
	case lifecycle.ChoiceShowInstall:
		lifecycle.ShowInstallInstructions(os.Stdout)
		out.Newline()
		out.Status("💡", "After installing Ollama, run 'fskb init' again")
		return false, fmt.Errorf("installation required")
	case lifecycle.ChoiceOfflineMode:
		return true, nil
	default:
		return false, fmt.Errorf("operation cancelled")
	}
}

func handleOllamaStartFailed(out *output.Writer) (bool, error) {
	if !lifecycle.IsTTY() {
		out.Status("💡", "Use --offline flag for static embeddings")
		return false, fmt.Errorf("failed to start Ollama (use --offline for static embeddings)")
	}

	out.Newline()
	out.Status("", "  [1] Try again")
	out.Status("", "  [2] Use static embeddings (offline)")
	out.Status("", "  [3] Cancel")
	out.Newline()

	choice, err := lifecycle.PromptNoEmbedder(os.Stdout, os.Stdin)
	if err != nil {
		return false, err
	}
	switch choice {
	case lifecycle.ChoiceOfflineMode:
		return true, nil
	case lifecycle.ChoiceShowInstall:
		return false, fmt.Errorf("please run 'fskb init' again after starting Ollama manually")
	default:
		return false, fmt.Errorf("operation cancelled")
	}
}

func handleModelPullFailed(out *output.Writer, model string) (bool, error) {
	if !lifecycle.IsTTY() {
		out.Statusf("💡", "Pull manually with: ollama pull %s", model)
		out.Status("💡", "Or use --offline flag for static embeddings")
		return false, fmt.Errorf("failed to pull model (use --offline for static embeddings)")
	}

	out.Newline()
	out.Statusf("", "  Pull manually: ollama pull %s", model)
	out.Status("", "  Or choose an option:")
	out.Newline()

	choice, err := lifecycle.PromptNoEmbedder(os.Stdout, os.Stdin)
	if err != nil {
		return false, err
	}
	switch choice {
	case lifecycle.ChoiceOfflineMode:
		return true, nil
	case lifecycle.ChoiceShowInstall:
		return false, fmt.Errorf("please pull the model manually and run 'fskb init' again")
	default:
		return false, fmt.Errorf("operation cancelled")
	}
}
