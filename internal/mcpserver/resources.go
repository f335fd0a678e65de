package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerStatsResource registers the indexer://<root>/stats JSON
// resource the first time root is seen. The handler reads live state on
// every request, so it never needs to be re-registered.
func (s *Server) registerStatsResource(root string) {
	s.mu.Lock()
	if s.registeredStats[root] {
		s.mu.Unlock()
		return
	}
	s.registeredStats[root] = true
	if _, ok := s.registeredBranch[root]; !ok {
		s.registeredBranch[root] = make(map[string]bool)
	}
	s.mu.Unlock()

	uri := statsURI(root)
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        fmt.Sprintf("%s stats", root),
			URI:         uri,
			Description: fmt.Sprintf("Indexing counters for %s", root),
			MIMEType:    "application/json",
		},
		s.makeStatsHandler(root),
	)
	s.logger.Debug("registered resource", slog.String("uri", uri))
}

// refreshBranchResources registers an indexer://<root>/branch/<name>
// text resource for every branch the store has chunks for that isn't
// already registered. There is no dynamic-URI facility in the SDK this
// server targets, so branch resources are discovered and registered one
// concrete URI at a time as they appear, opportunistically from the
// search tool, which already touches root.
func (s *Server) refreshBranchResources(ctx context.Context, root string) {
	branches, err := s.store.GetBranches(ctx, root)
	if err != nil {
		s.logger.Warn("list branches for resource refresh failed",
			slog.String("root", root), slog.String("error", err.Error()))
		return
	}

	s.mu.Lock()
	known, ok := s.registeredBranch[root]
	if !ok {
		known = make(map[string]bool)
		s.registeredBranch[root] = known
	}
	var fresh []string
	for _, b := range branches {
		if !known[b] {
			known[b] = true
			fresh = append(fresh, b)
		}
	}
	s.mu.Unlock()

	for _, branch := range fresh {
		uri := branchURI(root, branch)
		s.mcp.AddResource(
			&mcp.Resource{
				Name:        fmt.Sprintf("%s@%s", root, branch),
				URI:         uri,
				Description: fmt.Sprintf("Indexed files on branch %q of %s", branch, root),
				MIMEType:    "text/plain",
			},
			s.makeBranchHandler(root, branch),
		)
		s.logger.Debug("registered resource", slog.String("uri", uri))
	}
}

func (s *Server) makeStatsHandler(root string) mcp.ResourceHandler {
	return func(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		content, err := s.statsJSON(root)
		if err != nil {
			return nil, MapError(err)
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: statsURI(root), MIMEType: "application/json", Text: string(content)},
			},
		}, nil
	}
}

func (s *Server) makeBranchHandler(root, branch string) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		files, err := s.store.GetIndexedFiles(ctx, root, branch)
		if err != nil {
			return nil, MapError(err)
		}

		paths := make([]string, 0, len(files))
		for path := range files {
			paths = append(paths, path)
		}
		sort.Strings(paths)

		var b strings.Builder
		fmt.Fprintf(&b, "branch: %s\nroot: %s\nfiles: %d\n\n", branch, root, len(paths))
		for _, path := range paths {
			b.WriteString(path)
			b.WriteString("\n")
		}

		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{
				{URI: branchURI(root, branch), MIMEType: "text/plain", Text: b.String()},
			},
		}, nil
	}
}

func statsURI(root string) string {
	return fmt.Sprintf("indexer://%s/stats", root)
}

func branchURI(root, branch string) string {
	return fmt.Sprintf("indexer://%s/branch/%s", root, branch)
}
