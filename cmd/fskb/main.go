// Command fskb is a local, always-on semantic search engine over source
// code workspaces: it watches one or more project roots, keeps a vector
// index of their text files up to date, and answers similarity search
// queries over a CLI, a background daemon, or an MCP server for editor
// and agent integrations.
package main

import (
	"fmt"
	"os"

	"github.com/llmtornado/fskb/cmd/fskb/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
