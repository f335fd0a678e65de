package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/llmtornado/fskb/internal/config"
	"github.com/llmtornado/fskb/internal/output"
)

func newAddRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-root <path>",
		Short: "Add a workspace root to the project configuration",
		Long: `Record path as one of this project's indexed roots in .fskb.yaml.

This only updates configuration; the root is actually scanned and
watched the next time 'fskb serve' or 'fskb index' runs against this
project (or immediately, against a running daemon/MCP server, via the
add_root MCP tool).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAddRoot(cmd, args[0])
		},
	}
	return cmd
}

func newRemoveRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove-root <path>",
		Short: "Remove a workspace root from the project configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoveRoot(cmd, args[0])
		},
	}
	return cmd
}

func newListRootsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list-roots",
		Short: "List the project's configured workspace roots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runListRoots(cmd, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func runAddRoot(cmd *cobra.Command, path string) error {
	out := output.New(cmd.OutOrStdout())

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", absPath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", absPath)
	}

	projectRoot, cfg, err := loadProjectConfig(".")
	if err != nil {
		return err
	}

	for _, r := range cfg.Roots {
		if r == absPath {
			out.Status("ℹ️ ", "Root already configured: "+absPath)
			return nil
		}
	}
	cfg.Roots = append(cfg.Roots, absPath)

	if err := writeProjectRoots(projectRoot, cfg); err != nil {
		return err
	}

	out.Success("Added root: " + absPath)
	out.Status("💡", "Restart 'fskb serve' (or your MCP client) to pick it up")
	return nil
}

func runRemoveRoot(cmd *cobra.Command, path string) error {
	out := output.New(cmd.OutOrStdout())

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	projectRoot, cfg, err := loadProjectConfig(".")
	if err != nil {
		return err
	}

	kept := cfg.Roots[:0]
	found := false
	for _, r := range cfg.Roots {
		if r == absPath {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		out.Status("ℹ️ ", "Root not configured: "+absPath)
		return nil
	}
	cfg.Roots = kept

	if err := writeProjectRoots(projectRoot, cfg); err != nil {
		return err
	}

	out.Success("Removed root: " + absPath)
	out.Status("💡", "Restart 'fskb serve' (or your MCP client) to drop it")
	return nil
}

func runListRoots(cmd *cobra.Command, jsonOutput bool) error {
	_, cfg, err := loadProjectConfig(".")
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg.Roots)
	}

	out := output.New(cmd.OutOrStdout())
	if len(cfg.Roots) == 0 {
		out.Status("ℹ️ ", "No roots configured")
		return nil
	}
	for _, r := range cfg.Roots {
		out.Status("📁", r)
	}
	return nil
}

func loadProjectConfig(startDir string) (string, *config.Config, error) {
	root, err := config.FindProjectRoot(startDir)
	if err != nil {
		root = startDir
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", nil, fmt.Errorf("resolve project root: %w", err)
	}
	cfg, err := config.Load(absRoot)
	if err != nil {
		return "", nil, fmt.Errorf("load configuration: %w", err)
	}
	if len(cfg.Roots) == 0 {
		cfg.Roots = []string{absRoot}
	}
	return absRoot, cfg, nil
}

func writeProjectRoots(projectRoot string, cfg *config.Config) error {
	yamlPath := filepath.Join(projectRoot, ".fskb.yaml")
	if err := cfg.WriteYAML(yamlPath); err != nil {
		return fmt.Errorf("write .fskb.yaml: %w", err)
	}
	return nil
}

